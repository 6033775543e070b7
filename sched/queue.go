// Author: momentics <momentics@gmail.com>
//
// taskQueue is the scheduler's FIFO task queue (spec §3, §4.3). The teacher's
// go.mod already required github.com/eapache/queue for exactly this shape of
// problem (a growable ring-buffer FIFO) but no file in the teacher tree ever
// imported it; this finishes that wiring instead of hand-rolling a slice-based
// deque.

package sched

import (
	"sync"

	"github.com/eapache/queue"
)

// taskQueue guards an eapache/queue.Queue with the mutex the spec calls for
// ("the queue lock protects only the queue; task execution happens outside
// the lock").
type taskQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

func (tq *taskQueue) push(t *task) {
	tq.mu.Lock()
	tq.q.Add(t)
	tq.mu.Unlock()
}

func (tq *taskQueue) len() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.q.Length()
}

// popEligible scans from the head and removes the first task whose
// affinity is "any" or matches workerID, skipping (not removing) any task
// pinned to a different worker. It reports whether any task was skipped,
// so the caller can decide whether to tickle the affinity-matched worker.
func (tq *taskQueue) popEligible(workerID int) (t *task, skipped bool) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	// Rotate through the whole queue exactly once so that every task left
	// behind ends up in its original relative order.
	n := tq.q.Length()
	for i := 0; i < n; i++ {
		cand := tq.q.Peek().(*task)
		tq.q.Remove()
		if t == nil && (cand.thread == AnyThread || cand.thread == workerID) {
			t = cand
			continue
		}
		tq.q.Add(cand)
		if t == nil {
			skipped = true
		}
	}
	return t, skipped
}
