package fiber

import (
	"context"
	"testing"
)

func TestFiberLifecycle(t *testing.T) {
	var ran bool
	var f *Fiber
	f = New(context.Background(), func(ctx context.Context) {
		self, ok := FromContext(ctx)
		if !ok || self.GetId() != f.GetId() {
			t.Error("FromContext did not return the running fiber")
		}
		ran = true
	}, 0, true)

	if f.GetState() != READY {
		t.Fatalf("new fiber state = %s, want READY", f.GetState())
	}
	f.Resume()
	if !ran {
		t.Error("entry did not run")
	}
	if f.GetState() != TERM {
		t.Fatalf("state after entry returns = %s, want TERM", f.GetState())
	}
}

func TestFiberYieldResume(t *testing.T) {
	steps := 0
	f := New(context.Background(), func(ctx context.Context) {
		steps++
		self, _ := FromContext(ctx)
		self.Yield()
		steps++
	}, 0, true)

	f.Resume()
	if steps != 1 {
		t.Fatalf("steps after first resume = %d, want 1", steps)
	}
	if f.GetState() != READY {
		t.Fatalf("state after yield = %s, want READY", f.GetState())
	}

	f.Resume()
	if steps != 2 {
		t.Fatalf("steps after second resume = %d, want 2", steps)
	}
	if f.GetState() != TERM {
		t.Fatalf("state after completion = %s, want TERM", f.GetState())
	}
}

func TestFiberResumeOnNonReadyPanics(t *testing.T) {
	f := New(context.Background(), func(ctx context.Context) {}, 0, true)
	f.Resume()

	defer func() {
		if recover() == nil {
			t.Error("expected panic resuming a TERM fiber")
		}
	}()
	f.Resume()
}

func TestFiberReset(t *testing.T) {
	f := New(context.Background(), func(ctx context.Context) {}, 0, true)
	f.Resume()
	if f.GetState() != TERM {
		t.Fatalf("state = %s, want TERM", f.GetState())
	}

	ran := false
	f.Reset(func(ctx context.Context) { ran = true })
	if f.GetState() != READY {
		t.Fatalf("state after reset = %s, want READY", f.GetState())
	}
	f.Resume()
	if !ran {
		t.Error("entry installed by Reset did not run")
	}
}
