// Author: momentics <momentics@gmail.com>
//
// Callback tasks (ScheduleFunc/Submit) need a throwaway fiber to run on,
// one per invocation. Constructing and discarding a Fiber (and its backing
// goroutine) on every callback is exactly the allocate/free churn
// pool.SyncPool exists to absorb; fiber.Reset exists specifically so a
// terminated Fiber can be handed a new entry instead of being discarded,
// so this is that pairing wired together rather than left as two
// unconnected primitives.

package sched

import (
	"context"

	"github.com/momentics/corio/fiber"
	"github.com/momentics/corio/pool"
)

var callbackFiberPool = pool.NewSyncPool(func() *fiber.Fiber {
	fb := fiber.New(context.Background(), func(context.Context) {}, 0, true)
	fb.Resume() // runs the no-op entry once, parking the fiber in TERM
	return fb
})

func acquireCallbackFiber(cb func(context.Context)) *fiber.Fiber {
	fb := callbackFiberPool.Get()
	fb.Reset(cb)
	return fb
}

func releaseCallbackFiber(fb *fiber.Fiber) {
	callbackFiberPool.Put(fb)
}
