// Package domain contains the entities of lesson analysis: queued analysis
// tasks, the versioned analysis records they produce, and the read-only lesson
// view they consume. It has no knowledge of storage or transport.
package domain
