//go:build !linux

// File: reactor/iomanager_other.go
// Author: momentics <momentics@gmail.com>
//
// Non-Linux stub. The spec's reactor is specified exclusively in terms of
// epoll; corio does not attempt an IOCP/kqueue backend the way the teacher's
// reactor/reactor_windows.go does for its WebSocket server, since no
// component of the fiber/scheduler/timer core depends on one. New fails
// fast with api.ErrNotSupported instead.

package reactor

import "github.com/momentics/corio/api"

func newPollBackend() (pollBackend, error) {
	return nil, api.ErrNotSupported
}
