// Package api
// Author: momentics
//
// Executor contract satisfied by sched.Scheduler for callers that only need
// to submit plain callbacks and don't care about fiber handles or affinity.

package api

// Executor abstracts submission of a callback task onto a worker pool.
type Executor interface {
	// Submit schedules task for execution on any worker.
	Submit(task func()) error

	// NumWorkers returns the number of workers backing the executor.
	NumWorkers() int
}
