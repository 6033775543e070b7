// Author: momentics <momentics@gmail.com>
package sched

import (
	"context"

	"github.com/momentics/corio/fiber"
)

// AnyThread is the affinity sentinel meaning "any worker may run this task".
const AnyThread = -1

// task is the {fiber|callback} variant scheduled via Scheduler.Schedule,
// consumed exactly once by whichever worker pops it.
type task struct {
	f      *fiber.Fiber
	cb     func(ctx context.Context)
	thread int
}

func fiberTask(f *fiber.Fiber, thread int) *task {
	return &task{f: f, thread: thread}
}

func callbackTask(cb func(ctx context.Context), thread int) *task {
	return &task{cb: cb, thread: thread}
}
