// Package memory provides mutex-guarded, process-local implementations of
// the store interfaces. It backs the memory database driver for local runs
// and the scheduler, worker and service tests.
package memory
