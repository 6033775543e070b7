// Package sched implements the runtime's M-threads scheduler: a worker
// pool, a FIFO task queue with thread-affinity skipping, and the
// tickle/idle wakeup protocol that lets a reactor (or any other subtype)
// override how idle workers wait for work.
//
// Go has no virtual inheritance, so the "reactor extends the scheduler"
// relationship from spec §9 is modeled as composition: Scheduler holds a
// Hooks implementation it calls into for Tickle/Idle, and reactor.IOManager
// supplies its own Hooks by embedding *Scheduler and passing itself as the
// hooks argument to New.
//
// Author: momentics <momentics@gmail.com>
package sched

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/corio/affinity"
	"github.com/momentics/corio/api"
	"github.com/momentics/corio/fiber"
)

var _ api.Executor = (*Scheduler)(nil)

// Hooks is the SchedulerCore extension point: Tickle wakes idle workers and
// Idle is the body of the per-worker idle fiber. The base scheduler's own
// Hooks (used when none is supplied) implements the spec's "idle sleeps,
// tickle is a no-op" unit-testing fallback (§4.3, §9 open question).
type Hooks interface {
	Tickle()
	Idle(ctx context.Context, s *Scheduler, workerID int)
}

type baseHooks struct{}

func (baseHooks) Tickle() {}

func (baseHooks) Idle(ctx context.Context, s *Scheduler, workerID int) {
	self, _ := fiber.FromContext(ctx)
	for {
		if s.Quiescent() {
			return
		}
		time.Sleep(time.Second)
		self.Yield()
	}
}

// Scheduler owns a pool of worker threads, each running a single-threaded
// cooperative loop over a shared FIFO task queue.
type Scheduler struct {
	name string

	hooks Hooks

	queue *taskQueue

	workers      []*Thread
	workerCPUs   []int
	useCaller    bool
	callerFiber  *fiber.Fiber
	callerID     int
	threadCount  int32
	active       atomic.Int32
	idle         atomic.Int32
	stopping     atomic.Bool
	started      atomic.Bool
	startOnce    sync.Once
	stopOnce     sync.Once
	baseCtx      context.Context
}

// New creates a scheduler with nWorkers dedicated OS-thread-equivalent
// workers. If useCaller is true, the constructing goroutine is also
// counted as a worker and gets a dedicated scheduler fiber instead of a
// new Thread (spec §4.3 use_caller mode); nWorkers then counts the
// *additional* background workers. hooks may be nil to get the base
// sleep/no-op behavior.
func New(name string, nWorkers int, useCaller bool, hooks Hooks) *Scheduler {
	if hooks == nil {
		hooks = baseHooks{}
	}
	if nWorkers < 0 {
		nWorkers = 0
	}
	s := &Scheduler{
		name:      name,
		hooks:     hooks,
		queue:     newTaskQueue(),
		useCaller: useCaller,
		baseCtx:   context.Background(),
	}
	total := nWorkers
	if useCaller {
		total++
	}
	s.threadCount = int32(total)
	s.workers = make([]*Thread, nWorkers)
	if useCaller {
		s.callerID = nWorkers
		s.callerFiber = fiber.New(s.baseCtx, func(ctx context.Context) {
			s.runWorker(ctx, s.callerID)
		}, 0, true)
	} else {
		s.callerID = -1
	}
	return s
}

// WorkerIDs returns the scheduler's worker ids, including the caller's
// slot (if use_caller) last.
func (s *Scheduler) WorkerIDs() []int {
	ids := make([]int, 0, s.threadCount)
	for i := range s.workers {
		ids = append(ids, i)
	}
	if s.useCaller {
		ids = append(ids, s.callerID)
	}
	return ids
}

// SetWorkerAffinity pins background worker i to cpus[i] (skipped if
// cpus[i] < 0 or i is out of range). Must be called before Start.
func (s *Scheduler) SetWorkerAffinity(cpus []int) {
	s.workerCPUs = cpus
}

// Start spawns the dedicated worker threads. It does not by itself run the
// caller's scheduler fiber in use_caller mode — call EnterCallerLoop (or
// Stop, which drains it) for that.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		for i := range s.workers {
			i := i
			s.workers[i] = NewThread(fmt.Sprintf("%s-worker-%d", s.name, i), func(t *Thread) {
				s.pinIfConfigured(i)
				s.runWorker(s.baseCtx, i)
			})
		}
	})
}

// pinIfConfigured pins the calling worker's OS thread if SetWorkerAffinity
// named a CPU for it. Failure to pin is logged, not fatal: an unpinned
// worker is still correct, just not NUMA/cache-optimal.
func (s *Scheduler) pinIfConfigured(workerID int) {
	if workerID >= len(s.workerCPUs) {
		return
	}
	cpu := s.workerCPUs[workerID]
	if cpu < 0 {
		return
	}
	p := affinity.New()
	if err := p.Pin(cpu, -1); err != nil {
		log.Printf("sched: worker %d: pin to cpu %d: %v", workerID, cpu, err)
	}
}

// EnterCallerLoop resumes the use_caller scheduler fiber, letting the
// calling goroutine participate as a worker until the fiber yields or
// terminates (which only happens once the scheduler is stopping and
// drained). Calling this without use_caller is a programming error.
func (s *Scheduler) EnterCallerLoop() {
	if !s.useCaller {
		panic("sched: EnterCallerLoop without use_caller")
	}
	if s.callerFiber.GetState() == fiber.TERM {
		return
	}
	s.callerFiber.Resume()
}

// Schedule enqueues a ready fiber as a task, optionally pinned to thread
// (AnyThread for "any worker"). If the queue was empty, Tickle is invoked
// so an idle worker wakes to pick it up.
func (s *Scheduler) Schedule(f *fiber.Fiber, thread int) {
	s.enqueue(fiberTask(f, thread))
}

// ScheduleFunc enqueues cb the same way Schedule does; when it is run, cb
// is wrapped in a pooled fiber (a terminated one re-armed via fiber.Reset).
func (s *Scheduler) ScheduleFunc(cb func(ctx context.Context), thread int) {
	s.enqueue(callbackTask(cb, thread))
}

// Submit implements api.Executor for callback-only callers.
func (s *Scheduler) Submit(fn func()) error {
	s.ScheduleFunc(func(ctx context.Context) { fn() }, AnyThread)
	return nil
}

// NumWorkers implements api.Executor.
func (s *Scheduler) NumWorkers() int { return int(s.threadCount) }

func (s *Scheduler) enqueue(t *task) {
	wasEmpty := s.queue.len() == 0
	s.queue.push(t)
	if wasEmpty {
		s.hooks.Tickle()
	}
}

// Quiescent reports whether the scheduler is stopping, its queue is empty,
// and no task is currently active — the invariant spec §4.3's stopping()
// requires.
func (s *Scheduler) Quiescent() bool {
	return s.stopping.Load() && s.queue.len() == 0 && s.active.Load() == 0
}

// Stop marks the scheduler stopping, wakes every worker (and the
// use_caller scheduler fiber, draining it inline), and joins all
// background worker threads. It is safe to call once; later calls are
// no-ops. Go has no destructors, so the spec's "destructor asserts
// stopping()" becomes the caller's responsibility to call Stop before
// releasing the Scheduler.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		for i := 0; i < int(s.threadCount); i++ {
			s.hooks.Tickle()
		}
		if s.useCaller {
			// If some other goroutine is already inside EnterCallerLoop,
			// callerFiber is RUNNING and Resume would panic (it requires
			// READY); that goroutine's own Resume call will return once
			// runWorker notices Quiescent(), so just wait for TERM. Only
			// pump it ourselves when nobody is driving it (READY).
			for s.callerFiber.GetState() != fiber.TERM {
				if s.callerFiber.GetState() == fiber.READY {
					s.callerFiber.Resume()
				} else {
					runtime.Gosched()
				}
			}
		}
		for _, w := range s.workers {
			if w != nil {
				w.Join()
			}
		}
	})
}

// runWorker is the worker main loop (spec §4.3 "run"): pop the first
// eligible task, run it until it yields or terminates (resuming the fiber
// or wrapping the callback in a pooled one), and fall back to the idle fiber when the
// queue has nothing this worker can take right now.
func (s *Scheduler) runWorker(ctx context.Context, workerID int) {
	idleFiber := fiber.New(ctx, func(ctx context.Context) {
		s.hooks.Idle(ctx, s, workerID)
	}, 0, true)

	for {
		t, skipped := s.queue.popEligible(workerID)
		if skipped {
			s.hooks.Tickle()
		}
		if t != nil {
			s.active.Add(1)
			s.runTask(ctx, t)
			s.active.Add(-1)
			continue
		}
		if idleFiber.GetState() == fiber.TERM {
			return
		}
		s.idle.Add(1)
		idleFiber.Resume()
		s.idle.Add(-1)
	}
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	if t.f != nil {
		if t.f.GetState() == fiber.TERM {
			return
		}
		t.f.Resume()
		return
	}
	fb := acquireCallbackFiber(t.cb)
	fb.Resume()
	// A callback that yielded (e.g. parked on I/O) is still owned by
	// whoever will resume it; only a terminated fiber goes back to the pool.
	if fb.GetState() == fiber.TERM {
		releaseCallbackFiber(fb)
	}
}

// Active returns the number of tasks currently executing across all workers.
func (s *Scheduler) Active() int32 { return s.active.Load() }

// IdleWorkers returns the number of workers currently parked in their idle fiber.
func (s *Scheduler) IdleWorkers() int32 { return s.idle.Load() }

// QueueLen returns the number of tasks waiting in the FIFO queue.
func (s *Scheduler) QueueLen() int { return s.queue.len() }
