// Package affinity implements api.Affinity by pinning the calling
// goroutine's backing OS thread to specific CPUs via sched_setaffinity(2).
//
// The teacher's affinity package (affinity/affinity.go) reaches the same
// syscall through cgo + pthread_setaffinity_np. corio's worker threads are
// goroutines, not pthreads, so pinning has to go through
// runtime.LockOSThread first and then golang.org/x/sys/unix's
// SchedSetaffinity, which reaches the same kernel call without cgo —
// letting corio stay a pure-Go binary, which matters for sched.Thread
// workers that are spawned and joined far more often than a typical
// pthread-per-core server would.
//
// Author: momentics <momentics@gmail.com>
package affinity

import "github.com/momentics/corio/api"

var _ api.Affinity = (*Pinner)(nil)

// Pinner implements api.Affinity for the calling goroutine. A Pinner must
// only be used from the goroutine that created it: Pin locks that
// goroutine to its current OS thread for the lifetime of the pin.
type Pinner struct {
	cpuID  int
	numaID int
	pinned bool
}

// New returns an unpinned Pinner bound to the calling goroutine.
func New() *Pinner {
	return &Pinner{cpuID: -1, numaID: -1}
}

// Pin locks the calling goroutine to its current OS thread and restricts
// that thread to cpuID. numaID is recorded for Get but is not enforced
// independently on Linux: pinning to a CPU already pins to that CPU's
// NUMA node.
func (p *Pinner) Pin(cpuID int, numaID int) error {
	if cpuID < 0 {
		return api.ErrInvalidArgument
	}
	if err := pinPlatform(cpuID); err != nil {
		return err
	}
	p.cpuID = cpuID
	p.numaID = numaID
	p.pinned = true
	return nil
}

// Unpin releases the OS-thread lock taken by Pin and clears the recorded
// CPU/NUMA ids. The CPU mask Pin applied to that OS thread is not restored.
func (p *Pinner) Unpin() error {
	if !p.pinned {
		return nil
	}
	unpinPlatform()
	p.cpuID = -1
	p.numaID = -1
	p.pinned = false
	return nil
}

// Get returns the CPU/NUMA node last passed to Pin, or (-1, -1) if unpinned.
func (p *Pinner) Get() (cpuID int, numaID int, err error) {
	return p.cpuID, p.numaID, nil
}
