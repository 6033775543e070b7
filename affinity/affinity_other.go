//go:build !linux

// File: affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub for platforms without sched_setaffinity(2).

package affinity

import "github.com/momentics/corio/api"

func pinPlatform(cpuID int) error {
	return api.ErrNotSupported
}

func unpinPlatform() {}
