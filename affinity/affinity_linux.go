//go:build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux affinity via sched_setaffinity(2), grounded on the teacher's
// affinity/affinity_linux.go but reached through golang.org/x/sys/unix
// instead of cgo (see affinity.go for why).

package affinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func pinPlatform(cpuID int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

func unpinPlatform() {
	runtime.UnlockOSThread()
}
