// Package fdmgr implements the runtime's process-global file-descriptor
// registry: per-fd socket classification, implicit OS-level non-blocking,
// and the per-direction timeouts the hook package consults before arming a
// condition timer.
//
// Per spec §9's open question, this table is intentionally process-global
// (one *Manager per process, not per reactor) — fd numbers are a kernel-wide
// namespace and multiple reactors in the same process must agree on a
// single fd's classification.
//
// Author: momentics <momentics@gmail.com>
package fdmgr

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/corio/api"
)

// NoTimeout is the "no timeout configured" sentinel for SetTimeout.
const NoTimeout = ^uint64(0)

// Direction selects which half-duplex timeout SetTimeout/Timeout applies to.
type Direction int

const (
	Recv Direction = iota
	Send
)

// Ctx is the per-fd context: socket classification, the two non-blocking
// flags (user-visible vs. OS-level — spec §3's FdContext), and the two
// per-direction timeouts.
type Ctx struct {
	fd int

	isSocket     bool
	userNonblock bool
	sysNonblock  bool
	closed       bool

	recvTimeoutMs uint64
	sendTimeoutMs uint64

	mu sync.Mutex
}

// Fd returns the underlying file descriptor this context describes.
func (c *Ctx) Fd() int { return c.fd }

// IsSocket reports whether fstat classified this fd as a socket.
func (c *Ctx) IsSocket() bool { return c.isSocket }

// IsClosed reports whether Manager.Close has already been called for this fd.
func (c *Ctx) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// UserNonblock reports the non-blocking flag as the user last set it via
// SetUserNonblock (fcntl(F_SETFL)/ioctl(FIONBIO) in the spec's terms) —
// independent of the OS-level flag, which the manager forces on for
// sockets regardless of what the user asked for.
func (c *Ctx) UserNonblock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userNonblock
}

// SetUserNonblock records the user-visible non-blocking flag without
// touching the OS-level flag, which stays forced non-blocking for sockets.
func (c *Ctx) SetUserNonblock(v bool) {
	c.mu.Lock()
	c.userNonblock = v
	c.mu.Unlock()
}

// SetTimeout stores the per-direction timeout in milliseconds; NoTimeout
// means "block indefinitely" (mirrors SO_RCVTIMEO/SO_SNDTIMEO).
func (c *Ctx) SetTimeout(dir Direction, ms uint64) {
	c.mu.Lock()
	if dir == Recv {
		c.recvTimeoutMs = ms
	} else {
		c.sendTimeoutMs = ms
	}
	c.mu.Unlock()
}

// Timeout returns the configured per-direction timeout in milliseconds.
func (c *Ctx) Timeout(dir Direction) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir == Recv {
		return c.recvTimeoutMs
	}
	return c.sendTimeoutMs
}

// Manager is the sparse, 1.5x-growth fd table (spec §4.5).
type Manager struct {
	mu   sync.RWMutex
	fds  []*Ctx
}

// global is the process-wide singleton the hook package consults, matching
// the spec's "global singleton fd-registry" design note.
var global = NewManager()

// Global returns the process-wide fd manager.
func Global() *Manager { return global }

// NewManager creates an empty fd table. Most callers should use Global();
// NewManager exists for isolated tests.
func NewManager() *Manager {
	return &Manager{}
}

// Get returns the Ctx for fd, creating and classifying it on first access
// when autoCreate is true. Returns (nil, false) if fd is out of range and
// autoCreate is false.
func (m *Manager) Get(fd int, autoCreate bool) (*Ctx, bool) {
	if fd < 0 {
		return nil, false
	}
	m.mu.RLock()
	if fd < len(m.fds) && m.fds[fd] != nil {
		c := m.fds[fd]
		m.mu.RUnlock()
		return c, true
	}
	m.mu.RUnlock()

	if !autoCreate {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < len(m.fds) && m.fds[fd] != nil {
		return m.fds[fd], true
	}
	if fd >= len(m.fds) {
		newCap := fd + 1
		grown := int(float64(len(m.fds)) * 1.5)
		if grown > newCap {
			newCap = grown
		}
		grownSlice := make([]*Ctx, newCap)
		copy(grownSlice, m.fds)
		m.fds = grownSlice
	}
	c := &Ctx{fd: fd, recvTimeoutMs: NoTimeout, sendTimeoutMs: NoTimeout}
	c.init()
	m.fds[fd] = c
	return c, true
}

// init classifies fd via fstat and, for sockets not already non-blocking at
// the OS level, forces O_NONBLOCK — the user-visible flag is left alone.
func (c *Ctx) init() {
	var st unix.Stat_t
	if err := unix.Fstat(c.fd, &st); err != nil {
		return
	}
	c.isSocket = (st.Mode & unix.S_IFMT) == unix.S_IFSOCK
	if !c.isSocket {
		return
	}
	flags, err := unix.FcntlInt(uintptr(c.fd), unix.F_GETFL, 0)
	if err != nil {
		return
	}
	c.sysNonblock = flags&unix.O_NONBLOCK != 0
	if !c.sysNonblock {
		if _, err := unix.FcntlInt(uintptr(c.fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err == nil {
			c.sysNonblock = true
		}
	}
}

// Close removes fd's slot, making it eligible for a fresh Ctx should the fd
// number be reused by the OS. It does not itself close the fd — callers
// close the real descriptor via the hook package or directly.
func (m *Manager) Close(fd int) {
	if fd < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < len(m.fds) && m.fds[fd] != nil {
		m.fds[fd].mu.Lock()
		m.fds[fd].closed = true
		m.fds[fd].mu.Unlock()
		m.fds[fd] = nil
	}
}

// ErrBadFd is returned by callers that need an api.Error for a missing slot.
var ErrBadFd = api.NewError(api.ErrCodeNotFound, "fdmgr: no context for fd", nil)
