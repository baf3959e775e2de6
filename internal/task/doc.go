// Package task runs the analysis queue: a Scheduler that claims due tasks
// from the store on an interval, and an AnalysisWorker that executes one
// claimed task against the inference gateway and records the outcome.
//
// The store is the only source of truth. Nothing is buffered in memory
// between ticks, so a restarted process resumes from the rows it finds and
// tasks left processing by a crashed worker are reclaimed by the stale task
// monitor.
package task
