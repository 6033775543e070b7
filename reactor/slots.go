// Author: momentics <momentics@gmail.com>
//
// Per-fd event-slot table shared by every platform backend. The numeric
// values of EventRead/EventWrite equal EPOLLIN/EPOLLOUT; the Linux backend
// still maps them bit by bit (toEpollBits) before calling epoll_ctl.

package reactor

import (
	"context"
	"sync"

	"github.com/momentics/corio/fiber"
)

// EventType is the per-fd readiness bitset (spec §3: NONE, READ=1, WRITE=4).
type EventType uint32

const (
	EventNone  EventType = 0
	EventRead  EventType = 0x1
	EventWrite EventType = 0x4
)

func (e EventType) String() string {
	switch e {
	case EventNone:
		return "NONE"
	case EventRead:
		return "READ"
	case EventWrite:
		return "WRITE"
	case EventRead | EventWrite:
		return "READ|WRITE"
	default:
		return "UNKNOWN"
	}
}

// eventContext holds exactly one of {fiber, cb} for a single direction of a
// single fd, per spec §3's FdContext invariant.
type eventContext struct {
	fiber *fiber.Fiber
	cb    func(context.Context)
}

func (ec *eventContext) reset() {
	ec.fiber = nil
	ec.cb = nil
}

func (ec *eventContext) empty() bool {
	return ec.fiber == nil && ec.cb == nil
}

// fdContext is the per-fd slot: the registered events bitset and the two
// EventContexts (one per direction), guarded by a single per-fd mutex.
type fdContext struct {
	fd     int
	mu     sync.Mutex
	events EventType
	read   eventContext
	write  eventContext
}

func (c *fdContext) ctxFor(ev EventType) *eventContext {
	if ev == EventRead {
		return &c.read
	}
	return &c.write
}

// slotTable is the reactor's sparse, resizable fd->fdContext index,
// reader/writer-locked: lookups take the read lock, resizes take the write
// lock (spec §4.6 "Acquire slot (resize if needed)").
type slotTable struct {
	mu    sync.RWMutex
	slots []*fdContext
}

func newSlotTable(initial int) *slotTable {
	return &slotTable{slots: make([]*fdContext, initial)}
}

// getOrCreate returns the fd's slot, growing and allocating it on first use.
func (t *slotTable) getOrCreate(fd int) *fdContext {
	t.mu.RLock()
	if fd < len(t.slots) && t.slots[fd] != nil {
		c := t.slots[fd]
		t.mu.RUnlock()
		return c
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < len(t.slots) && t.slots[fd] != nil {
		return t.slots[fd]
	}
	if fd >= len(t.slots) {
		newCap := fd + 1
		if grown := int(float64(len(t.slots)) * 1.5); grown > newCap {
			newCap = grown
		}
		grownSlice := make([]*fdContext, newCap)
		copy(grownSlice, t.slots)
		t.slots = grownSlice
	}
	c := &fdContext{fd: fd}
	t.slots[fd] = c
	return c
}

// get returns the fd's slot without creating it.
func (t *slotTable) get(fd int) *fdContext {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fd < len(t.slots) {
		return t.slots[fd]
	}
	return nil
}

// delete removes the fd's slot entirely (used by cancelAll/close).
func (t *slotTable) delete(fd int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < len(t.slots) {
		t.slots[fd] = nil
	}
}
