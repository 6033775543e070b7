//go:build linux

// File: reactor/iomanager_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) backend for IOManager, grounded on the teacher's
// reactor/reactor_linux.go and epoll_reactor.go (golang.org/x/sys/unix,
// EPOLLET edge-triggered registration, a self-pipe for tickling).

package reactor

import (
	"golang.org/x/sys/unix"
)

type epollBackend struct {
	epfd  int
	pipeR int
	pipeW int
}

func newPollBackend() (pollBackend, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	return &epollBackend{
		epfd:  epfd,
		pipeR: fds[0],
		pipeW: fds[1],
	}, nil
}

func toEpollBits(ev EventType) uint32 {
	var bits uint32
	if ev&EventRead != 0 {
		bits |= unix.EPOLLIN
	}
	if ev&EventWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

func (b *epollBackend) ctl(op epollOp, fd int, events EventType) error {
	if op == opDel {
		return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	rawOp := unix.EPOLL_CTL_ADD
	if op == opMod {
		rawOp = unix.EPOLL_CTL_MOD
	}
	ev := &unix.EpollEvent{
		Events: toEpollBits(events) | unix.EPOLLET,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(b.epfd, rawOp, fd, ev)
}

func (b *epollBackend) wait(timeoutMs int, out []readyEvent) (int, error) {
	// Each call gets its own scratch buffer: multiple workers' idle fibers
	// call wait concurrently against the same epfd, and a backend-shared
	// buffer would let one worker's EpollWait overwrite another's in-flight
	// results.
	rawEvents := make([]unix.EpollEvent, len(out))
	n, err := unix.EpollWait(b.epfd, rawEvents, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		raw := rawEvents[i]
		var ev EventType
		if raw.Events&unix.EPOLLIN != 0 {
			ev |= EventRead
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev |= EventWrite
		}
		errHup := raw.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		out[i] = readyEvent{fd: int(raw.Fd), events: ev, errHup: errHup}
	}
	return n, nil
}

func (b *epollBackend) pipeRead() int  { return b.pipeR }
func (b *epollBackend) pipeWrite() int { return b.pipeW }

func (b *epollBackend) drainPipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(b.pipeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (b *epollBackend) tickleWrite() {
	_, _ = unix.Write(b.pipeW, []byte{1})
}

func (b *epollBackend) close() error {
	_ = unix.Close(b.pipeR)
	_ = unix.Close(b.pipeW)
	return unix.Close(b.epfd)
}
