// Package store defines the persistence contracts of the analysis queue:
// the task queue, the per-lesson analysis records and the read-only lesson
// source. Implementations live under internal/platform.
package store
