package sched

import "testing"

func TestTaskQueueFIFO(t *testing.T) {
	q := newTaskQueue()
	q.push(callbackTask(nil, AnyThread))
	q.push(callbackTask(nil, AnyThread))
	if q.len() != 2 {
		t.Fatalf("len = %d, want 2", q.len())
	}
	first, skipped := q.popEligible(0)
	if first == nil || skipped {
		t.Fatalf("popEligible: got (%v, %v)", first, skipped)
	}
	if q.len() != 1 {
		t.Fatalf("len after pop = %d, want 1", q.len())
	}
}

func TestTaskQueueSkipsPinnedElsewhere(t *testing.T) {
	q := newTaskQueue()
	pinned := callbackTask(nil, 5)
	any := callbackTask(nil, AnyThread)
	q.push(pinned)
	q.push(any)

	got, skipped := q.popEligible(0)
	if got != any {
		t.Fatalf("popEligible(0) returned the pinned task, want the any-thread one")
	}
	if !skipped {
		t.Fatal("expected skipped=true, the pinned task was passed over")
	}
	if q.len() != 1 {
		t.Fatalf("len = %d, want 1 (pinned task requeued)", q.len())
	}

	got, skipped = q.popEligible(5)
	if got != pinned || skipped {
		t.Fatalf("popEligible(5) = (%v, %v), want (pinned, false)", got, skipped)
	}
}

func TestTaskQueueEmptyReturnsNil(t *testing.T) {
	q := newTaskQueue()
	got, skipped := q.popEligible(0)
	if got != nil || skipped {
		t.Fatalf("popEligible on empty queue = (%v, %v), want (nil, false)", got, skipped)
	}
}
