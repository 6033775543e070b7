// Package hook implements the runtime's syscall-wrapper contract (spec
// §4.7): the try/arm-timeout/register/yield/retry pattern that lets a
// blocking-looking call on a fiber transparently suspend it until
// readiness or timeout, instead of blocking the worker thread.
//
// Go cannot intercept libc the way the original LD_PRELOAD-style hooks do
// (there is no process-wide read/write/connect to monkey-patch), so this
// package expresses the same contract as explicit functions that take the
// fiber's context.Context and a raw fd. Call sites that want "transparent"
// interception call hook.Runtime's methods instead of the stdlib net
// package; that is the idiomatic Go substitution spec.md §9 explicitly
// allows for the suspension mechanism, not a change to its semantics.
//
// Author: momentics <momentics@gmail.com>
package hook

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/corio/api"
	"github.com/momentics/corio/fdmgr"
	"github.com/momentics/corio/fiber"
	"github.com/momentics/corio/reactor"
	"github.com/momentics/corio/sched"
)

// DefaultConnectTimeout is the module-scoped fallback connect() deadline
// used when the caller hasn't set SO_SNDTIMEO, mirroring hook.cpp's
// s_connect_timeout.
var DefaultConnectTimeout = 5 * time.Second

type disabledKey struct{}

// WithHookingDisabled returns a context under which Runtime methods
// delegate straight to the real syscall instead of suspending the fiber —
// the spec's "hooking disabled on the current thread" escape hatch,
// translated to a context flag since Go has no real thread-locals.
func WithHookingDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, disabledKey{}, true)
}

func hookingDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(disabledKey{}).(bool)
	return v
}

// Runtime binds the syscall wrappers to a specific reactor, whose fiber
// scheduling and event registration they ride on.
type Runtime struct {
	io *reactor.IOManager
}

// New binds a Runtime to io.
func New(io *reactor.IOManager) *Runtime {
	return &Runtime{io: io}
}

// opSentinel is the per-call liveness sentinel a condition timer checks
// before firing (spec §4.4/§5): once the waiting call returns — whether by
// readiness or timeout — the sentinel is marked done, and any condition
// timer that races in after that point becomes a no-op.
type opSentinel struct {
	mu       sync.Mutex
	done     bool
	timedOut bool
}

func (s *opSentinel) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done
}

func (s *opSentinel) markDone() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *opSentinel) markTimedOut() {
	s.mu.Lock()
	if !s.done {
		s.timedOut = true
	}
	s.mu.Unlock()
}

func (s *opSentinel) timedOutVal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedOut
}

// Socket wraps socket(2) and immediately classifies+arms non-blocking on
// the resulting fd, matching the "newly registered socket is silently
// switched to non-blocking" invariant from spec §3.
func (r *Runtime) Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, err
	}
	fdmgr.Global().Get(fd, true)
	return fd, nil
}

// doIO implements the common wrap/retry/yield/retry loop for the
// direction-symmetric operations (read/write/recv/send/...).
func (r *Runtime) doIO(ctx context.Context, fd int, dir reactor.EventType, tdir fdmgr.Direction, try func() (int, error)) (int, error) {
	if hookingDisabled(ctx) {
		return try()
	}
	fctx, ok := fdmgr.Global().Get(fd, false)
	if !ok || !fctx.IsSocket() || fctx.UserNonblock() {
		return try()
	}

	for {
		n, err := try()
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			return n, err
		}

		n, err, retry := r.parkForEvent(ctx, fd, dir, fctx.Timeout(tdir))
		if !retry {
			return n, err
		}
	}
}

// parkForEvent arms an optional timeout, registers the current fiber for
// dir on fd, and yields. retry is true iff the caller should go back and
// retry the syscall (readiness won); otherwise n/err is the final result
// (registration failure or timeout).
func (r *Runtime) parkForEvent(ctx context.Context, fd int, dir reactor.EventType, timeoutMs uint64) (n int, err error, retry bool) {
	self, ok := fiber.FromContext(ctx)
	if !ok {
		return -1, api.NewError(api.ErrCodeInvalidArgument, "hook: not running on a fiber", nil), false
	}

	sentinel := &opSentinel{}
	var tm interface{ Cancel() bool }
	if timeoutMs != fdmgr.NoTimeout {
		tm = r.io.AddConditionTimer(int64(timeoutMs), func() {
			sentinel.markTimedOut()
			r.io.CancelEvent(fd, dir)
		}, sentinel, false)
	}

	if err := r.io.AddEvent(ctx, fd, dir, nil); err != nil {
		if tm != nil {
			tm.Cancel()
		}
		sentinel.markDone()
		return -1, err, false
	}

	self.Yield()

	if tm != nil {
		tm.Cancel()
	}
	sentinel.markDone()

	if sentinel.timedOutVal() {
		return -1, api.ErrOperationTimeout, false
	}
	return 0, nil, true
}

// Read wraps read(2).
func (r *Runtime) Read(ctx context.Context, fd int, buf []byte) (int, error) {
	return r.doIO(ctx, fd, reactor.EventRead, fdmgr.Recv, func() (int, error) {
		return unix.Read(fd, buf)
	})
}

// Recv wraps recv(2) (== read for a connected socket; flags are accepted
// for call-site symmetry with send(2) but unix.Read has no flags knob).
func (r *Runtime) Recv(ctx context.Context, fd int, buf []byte, flags int) (int, error) {
	return r.doIO(ctx, fd, reactor.EventRead, fdmgr.Recv, func() (int, error) {
		return unix.Read(fd, buf)
	})
}

// Write wraps write(2).
func (r *Runtime) Write(ctx context.Context, fd int, buf []byte) (int, error) {
	return r.doIO(ctx, fd, reactor.EventWrite, fdmgr.Send, func() (int, error) {
		return unix.Write(fd, buf)
	})
}

// Send wraps send(2).
func (r *Runtime) Send(ctx context.Context, fd int, buf []byte, flags int) (int, error) {
	return r.doIO(ctx, fd, reactor.EventWrite, fdmgr.Send, func() (int, error) {
		return unix.Write(fd, buf) // flags are not meaningful for the stream sockets this runtime targets
	})
}

// Connect wraps connect(2): tries non-blocking connect, and if it would
// block, parks on EventWrite with either the fd's SO_SNDTIMEO or
// DefaultConnectTimeout, then checks SO_ERROR on wakeup.
func (r *Runtime) Connect(ctx context.Context, fd int, sa unix.Sockaddr) error {
	if hookingDisabled(ctx) {
		return unix.Connect(fd, sa)
	}
	fctx, ok := fdmgr.Global().Get(fd, true)
	if !ok || !fctx.IsSocket() || fctx.UserNonblock() {
		return unix.Connect(fd, sa)
	}

	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS && err != unix.EAGAIN {
		return err
	}

	timeoutMs := fctx.Timeout(fdmgr.Send)
	if timeoutMs == fdmgr.NoTimeout {
		timeoutMs = uint64(DefaultConnectTimeout / time.Millisecond)
	}

	_, perr, retry := r.parkForEvent(ctx, fd, reactor.EventWrite, timeoutMs)
	if !retry {
		return perr
	}

	soerr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

// Accept wraps accept(2), returning a non-blocking client fd already
// classified in the fd registry.
func (r *Runtime) Accept(ctx context.Context, fd int) (int, unix.Sockaddr, error) {
	if hookingDisabled(ctx) {
		return unix.Accept(fd)
	}
	fctx, ok := fdmgr.Global().Get(fd, false)
	if !ok || !fctx.IsSocket() || fctx.UserNonblock() {
		return unix.Accept(fd)
	}

	for {
		nfd, sa, err := unix.Accept(fd)
		if err == nil {
			fdmgr.Global().Get(nfd, true)
			return nfd, sa, nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			return -1, nil, err
		}
		_, perr, retry := r.parkForEvent(ctx, fd, reactor.EventRead, fctx.Timeout(fdmgr.Recv))
		if !retry {
			return -1, nil, perr
		}
	}
}

// Sleep skips I/O entirely: it arms a plain timer that re-schedules the
// calling fiber after d, then yields. Not calling this from a fiber falls
// back to a real time.Sleep.
func (r *Runtime) Sleep(ctx context.Context, d time.Duration) {
	self, ok := fiber.FromContext(ctx)
	if !ok {
		time.Sleep(d)
		return
	}
	r.io.AddTimer(d.Milliseconds(), func() {
		r.io.Schedule(self, sched.AnyThread)
	}, false)
	self.Yield()
}

// Close cancels every pending event on fd (triggering their waiters with
// the fd now gone), removes its registry slot, then closes the real fd.
func (r *Runtime) Close(fd int) error {
	r.io.CancelAll(fd)
	fdmgr.Global().Close(fd)
	return unix.Close(fd)
}

// SetNonblock routes the user-visible non-blocking flag through the fd
// registry (fcntl(F_SETFL)/ioctl(FIONBIO) in spec terms) while the
// OS-level fd, for sockets, stays forced non-blocking.
func (r *Runtime) SetNonblock(fd int, nonblocking bool) error {
	fctx, ok := fdmgr.Global().Get(fd, true)
	if !ok {
		return api.ErrNotFound
	}
	fctx.SetUserNonblock(nonblocking)
	return nil
}

// SetRecvTimeout / SetSendTimeout intercept SO_RCVTIMEO/SO_SNDTIMEO
// (setsockopt) and store the timeout in the fd registry instead of (only)
// the kernel, so the wrappers above honor it as an operation timeout.
func (r *Runtime) SetRecvTimeout(fd int, d time.Duration) error {
	return r.setTimeout(fd, fdmgr.Recv, d)
}

func (r *Runtime) SetSendTimeout(fd int, d time.Duration) error {
	return r.setTimeout(fd, fdmgr.Send, d)
}

func (r *Runtime) setTimeout(fd int, dir fdmgr.Direction, d time.Duration) error {
	fctx, ok := fdmgr.Global().Get(fd, true)
	if !ok {
		return api.ErrNotFound
	}
	ms := fdmgr.NoTimeout
	if d > 0 {
		ms = uint64(d / time.Millisecond)
	}
	fctx.SetTimeout(dir, ms)
	return nil
}
