// Author: momentics <momentics@gmail.com>
//
// Thread is the runtime's OS-thread-equivalent primitive: a goroutine
// wrapped with the same synchronous start handshake original_source/src/
// thread/thread.cpp uses a binary semaphore for, so Tid() is observable on
// the constructor's side immediately after construction returns.

package sched

import (
	"sync/atomic"
)

var nextThreadID int64

// Thread wraps a single goroutine with a named identity and a start
// handshake. Destruction (via Join) does not kill the goroutine; callers
// signal it to stop through whatever channel their run function closes
// over, matching the cooperative nature of the rest of the runtime.
type Thread struct {
	id   int64
	name string
	done chan struct{}
}

// NewThread assigns the thread's id, starts run on a new goroutine, and
// blocks until that goroutine has started and signalled readiness — so
// Tid() is valid the instant NewThread returns, exactly as the spec's
// Thread contract requires.
func NewThread(name string, run func(t *Thread)) *Thread {
	t := &Thread{
		id:   atomic.AddInt64(&nextThreadID, 1),
		name: name,
		done: make(chan struct{}),
	}
	ready := make(chan struct{}, 1)
	go func() {
		ready <- struct{}{}
		run(t)
		close(t.done)
	}()
	<-ready
	return t
}

// Tid returns the thread's logical id, observable immediately after NewThread returns.
func (t *Thread) Tid() int64 { return t.id }

// Name returns the name assigned at construction.
func (t *Thread) Name() string { return t.name }

// Join blocks until the thread's run function returns.
func (t *Thread) Join() { <-t.done }
