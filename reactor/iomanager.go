// Package reactor implements the runtime's I/O reactor: an edge-triggered
// readiness multiplexer layered over sched.Scheduler and timer.Manager.
//
// IOManager *is* a scheduler and *is* a timer manager in the spec's object
// model (§9 Polymorphism). Go has no inheritance, so IOManager embeds
// *sched.Scheduler and *timer.Manager (composition) and implements
// sched.Hooks itself, wiring Tickle/Idle back into the scheduler it embeds
// — exactly the "composition with forwarded hook-points" the spec calls
// for.
//
// The epoll syscalls themselves live behind the platform-specific
// pollBackend (iomanager_linux.go / iomanager_other.go); everything else —
// registration bookkeeping, the pending-event counter, timer harvesting,
// the idle loop's control flow — is platform-agnostic and lives here.
//
// Author: momentics <momentics@gmail.com>
package reactor

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/momentics/corio/api"
	"github.com/momentics/corio/fiber"
	"github.com/momentics/corio/sched"
	"github.com/momentics/corio/timer"
)

const (
	initialSlots  = 32
	maxEventsBuf  = 256
	idlePollCapMs = 5000
)

type epollOp int

const (
	opAdd epollOp = iota
	opMod
	opDel
)

// readyEvent is one ready fd reported by pollBackend.wait.
type readyEvent struct {
	fd     int
	events EventType // translated READ/WRITE bits actually observed
	errHup bool       // EPOLLERR|EPOLLHUP was set on this fd
}

// pollBackend is the platform-specific demultiplexer IOManager drives.
type pollBackend interface {
	ctl(op epollOp, fd int, events EventType) error
	wait(timeoutMs int, buf []readyEvent) (int, error)
	pipeRead() int
	pipeWrite() int
	drainPipe()
	tickleWrite()
	close() error
}

// IOManager is the reactor: a Scheduler whose idle loop blocks on the
// platform demultiplexer instead of sleeping, plus the timer set that
// shares its wakeups.
type IOManager struct {
	*sched.Scheduler
	*timer.Manager

	backend pollBackend
	slots   *slotTable
	pending atomic.Int64
}

// New creates an IOManager with nWorkers background workers (plus the
// caller, if useCaller is set) and starts its scheduler.
func New(name string, nWorkers int, useCaller bool) (*IOManager, error) {
	backend, err := newPollBackend()
	if err != nil {
		return nil, err
	}

	m := &IOManager{
		backend: backend,
		slots:   newSlotTable(initialSlots),
		Manager: timer.NewManager(),
	}
	m.Manager.OnTimerInsertedAtFront = m.onTimerInsertedAtFront

	if err := m.backend.ctl(opAdd, m.backend.pipeRead(), EventRead); err != nil {
		_ = m.backend.close()
		return nil, err
	}

	m.Scheduler = sched.New(name, nWorkers, useCaller, m)
	m.Scheduler.Start()
	return m, nil
}

// PendingEvents returns this manager's count of event directions currently
// armed and not yet triggered or deleted (spec §8 invariant).
func (m *IOManager) PendingEvents() int64 { return m.pending.Load() }

// AddEvent registers interest in ev on fd. If cb is nil the waiter is the
// fiber running on ctx (which must be RUNNING); otherwise cb is invoked
// (as a scheduler callback task) when the event fires. Returns
// api.ErrAlreadyExists if ev is already registered on fd.
func (m *IOManager) AddEvent(ctx context.Context, fd int, ev EventType, cb func(context.Context)) error {
	slot := m.slots.getOrCreate(fd)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.events&ev != 0 {
		return api.ErrAlreadyExists
	}

	op := opAdd
	if slot.events != EventNone {
		op = opMod
	}
	newMask := slot.events | ev
	if err := m.backend.ctl(op, fd, newMask); err != nil {
		return err
	}
	slot.events = newMask

	ec := slot.ctxFor(ev)
	if cb != nil {
		ec.cb = cb
	} else {
		f, ok := fiber.FromContext(ctx)
		if !ok || f.GetState() != fiber.RUNNING {
			// roll back the registration we just made
			slot.events &^= ev
			m.applyMask(fd, slot.events)
			return api.NewError(api.ErrCodeInvalidArgument, "reactor: AddEvent needs a running fiber or a callback", nil)
		}
		ec.fiber = f
	}
	m.pending.Add(1)
	return nil
}

// DelEvent clears ev on fd and updates the backend, without dispatching the
// waiter — used when the caller is cancelling an event it knows nobody
// needs to observe (e.g. the timeout path already fired).
func (m *IOManager) DelEvent(fd int, ev EventType) bool {
	slot := m.slots.get(fd)
	if slot == nil {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.events&ev == 0 {
		return false
	}
	leave := slot.events &^ ev
	m.applyMask(fd, leave)
	slot.events = leave
	if ec := slot.ctxFor(ev); !ec.empty() {
		ec.reset()
		m.pending.Add(-1)
	}
	return true
}

// CancelEvent clears ev on fd, updates the backend, and triggers the
// waiter once (re-enqueuing it as a task; the callback/fiber itself decides
// what a cancellation means once it runs).
func (m *IOManager) CancelEvent(fd int, ev EventType) bool {
	slot := m.slots.get(fd)
	if slot == nil {
		return false
	}
	slot.mu.Lock()
	if slot.events&ev == 0 {
		slot.mu.Unlock()
		return false
	}
	leave := slot.events &^ ev
	m.applyMask(fd, leave)
	slot.events = leave
	m.triggerLocked(slot, ev)
	slot.mu.Unlock()
	return true
}

// CancelAll removes fd from the backend entirely and triggers every
// pending direction on it (used by hook.Close).
func (m *IOManager) CancelAll(fd int) bool {
	slot := m.slots.get(fd)
	if slot == nil {
		return false
	}
	slot.mu.Lock()
	had := slot.events
	if had != EventNone {
		_ = m.backend.ctl(opDel, fd, EventNone)
	}
	for _, ev := range [2]EventType{EventRead, EventWrite} {
		if had&ev != 0 {
			m.triggerLocked(slot, ev)
		}
	}
	slot.events = EventNone
	slot.mu.Unlock()
	m.slots.delete(fd)
	return had != EventNone
}

func (m *IOManager) applyMask(fd int, mask EventType) {
	var err error
	if mask == EventNone {
		err = m.backend.ctl(opDel, fd, EventNone)
	} else {
		err = m.backend.ctl(opMod, fd, mask)
	}
	if err != nil {
		log.Printf("reactor: epoll_ctl fd %d mask %s: %v", fd, mask, err)
	}
}

// triggerLocked hands the waiter registered for ev to the scheduler as a
// task and clears the EventContext. Must be called with slot.mu held.
func (m *IOManager) triggerLocked(slot *fdContext, ev EventType) {
	ec := slot.ctxFor(ev)
	if ec.empty() {
		return
	}
	if ec.cb != nil {
		cb := ec.cb
		m.Scheduler.ScheduleFunc(cb, sched.AnyThread)
	} else if ec.fiber != nil {
		m.Scheduler.Schedule(ec.fiber, sched.AnyThread)
	}
	ec.reset()
	m.pending.Add(-1)
}

// onTimerInsertedAtFront is timer.Manager's OnTimerInsertedAtFront hook:
// kick the demultiplexer so a newly-armed soonest deadline is observed
// within bounded delay even if every worker is already parked in epoll_wait.
func (m *IOManager) onTimerInsertedAtFront() {
	m.Tickle()
}

// Tickle implements sched.Hooks: write one byte to the tickle pipe, but
// only when at least one worker is parked idle (the teacher's pattern of
// avoiding a syscall when nobody is listening).
func (m *IOManager) Tickle() {
	if m.Scheduler != nil && m.Scheduler.IdleWorkers() > 0 {
		m.backend.tickleWrite()
	}
}

// Idle implements sched.Hooks: the real reactor loop (spec §4.6). It
// blocks on the demultiplexer, harvests expired timers, dispatches ready
// fds, and yields once per pass so other ready fibers on this worker get a
// turn.
// Idle's exit condition requires pending==0 and an empty timer set: Close
// (via Scheduler.Stop) can hang until every outstanding waiter is cancelled
// or fires and every timer has fired or been cancelled, so callers must
// cancel (or let run to completion) any in-flight events and timers before
// closing the manager.
func (m *IOManager) Idle(ctx context.Context, s *sched.Scheduler, workerID int) {
	self, _ := fiber.FromContext(ctx)
	buf := make([]readyEvent, maxEventsBuf)

	for {
		if s.Quiescent() && m.pending.Load() == 0 && m.Manager.Len() == 0 {
			return
		}

		timeoutMs := m.Manager.GetNextTimer()
		if timeoutMs == timer.NoTimers || timeoutMs > idlePollCapMs {
			timeoutMs = idlePollCapMs
		}

		n, err := m.backend.wait(int(timeoutMs), buf)
		if err != nil {
			log.Printf("reactor: poll wait: %v", err)
			self.Yield()
			continue
		}

		var expired []timer.Callback
		expired = m.Manager.ListExpiredCb(expired)
		for _, cb := range expired {
			cb := cb
			s.ScheduleFunc(func(context.Context) { cb() }, sched.AnyThread)
		}

		for i := 0; i < n; i++ {
			ev := buf[i]
			if ev.fd == m.backend.pipeRead() {
				m.backend.drainPipe()
				continue
			}
			m.dispatch(ev)
		}

		self.Yield()
	}
}

// dispatch translates one ready event into trigger() calls for whichever
// registered directions actually fired (spec §4.6 step 4).
func (m *IOManager) dispatch(ev readyEvent) {
	slot := m.slots.get(ev.fd)
	if slot == nil {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	ready := ev.events
	if ev.errHup {
		ready |= slot.events // err/hup means "whatever was registered is now ready"
	}
	real := ready & slot.events
	leave := slot.events &^ real
	m.applyMask(ev.fd, leave)
	slot.events = leave

	if real&EventRead != 0 {
		m.triggerLocked(slot, EventRead)
	}
	if real&EventWrite != 0 {
		m.triggerLocked(slot, EventWrite)
	}
}

// Close stops the scheduler and releases the backend's resources.
func (m *IOManager) Close() error {
	m.Scheduler.Stop()
	return m.backend.close()
}
