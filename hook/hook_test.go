package hook

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/corio/api"
	"github.com/momentics/corio/fiber"
	"github.com/momentics/corio/reactor"
	"github.com/momentics/corio/sched"
)

// listenLoopback opens a non-blocking IPv4 TCP listener on an ephemeral
// port and returns its fd and bound port.
func listenLoopback(t *testing.T) (int, int) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		t.Fatalf("setsockopt: %v", err)
	}
	sa := &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Bind(fd, sa); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		t.Fatalf("listen: %v", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	return fd, bound.(*unix.SockaddrInet4).Port
}

func runOnFiber(t *testing.T, io *reactor.IOManager, fn func(ctx context.Context)) {
	t.Helper()
	done := make(chan struct{})
	f := fiber.New(context.Background(), func(ctx context.Context) {
		fn(ctx)
		close(done)
	}, 0, false)
	io.Schedule(f, sched.AnyThread)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fiber did not complete in time")
	}
}

// TestConnectSendRecv exercises hook.Connect/Send/Recv against a real
// loopback TCP echo server, driven by fibers running on an IOManager.
func TestConnectSendRecv(t *testing.T) {
	io, err := reactor.New("hooktest", 1, false)
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	defer io.Close()
	rt := New(io)

	lfd, port := listenLoopback(t)
	defer unix.Close(lfd)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		runOnFiber(t, io, func(ctx context.Context) {
			cfd, _, err := rt.Accept(ctx, lfd)
			if err != nil {
				t.Errorf("accept: %v", err)
				return
			}
			defer rt.Close(cfd)
			buf := make([]byte, 64)
			n, err := rt.Recv(ctx, cfd, buf, 0)
			if err != nil {
				t.Errorf("server recv: %v", err)
				return
			}
			if _, err := rt.Write(ctx, cfd, buf[:n]); err != nil {
				t.Errorf("server write: %v", err)
			}
		})
	}()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		runOnFiber(t, io, func(ctx context.Context) {
			cfd, err := rt.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
			if err != nil {
				t.Errorf("client socket: %v", err)
				return
			}
			defer rt.Close(cfd)
			sa := &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
			if err := rt.Connect(ctx, cfd, sa); err != nil {
				t.Errorf("connect: %v", err)
				return
			}
			msg := []byte("hello corio")
			if _, err := rt.Write(ctx, cfd, msg); err != nil {
				t.Errorf("client write: %v", err)
				return
			}
			buf := make([]byte, 64)
			n, err := rt.Recv(ctx, cfd, buf, 0)
			if err != nil {
				t.Errorf("client recv: %v", err)
				return
			}
			if string(buf[:n]) != string(msg) {
				t.Errorf("echo mismatch: got %q want %q", buf[:n], msg)
			}
		})
	}()

	<-serverDone
	<-clientDone
}

// TestRecvTimeout verifies a Recv with no data ready and a short
// SO_RCVTIMEO-equivalent returns api.ErrOperationTimeout instead of
// blocking the worker forever.
func TestRecvTimeout(t *testing.T) {
	io, err := reactor.New("hooktest-timeout", 1, false)
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	defer io.Close()
	rt := New(io)

	lfd, port := listenLoopback(t)
	defer unix.Close(lfd)

	acceptedFd := make(chan int, 1)
	go func() {
		runOnFiber(t, io, func(ctx context.Context) {
			cfd, _, err := rt.Accept(ctx, lfd)
			if err != nil {
				t.Errorf("accept: %v", err)
				return
			}
			acceptedFd <- cfd
		})
	}()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		runOnFiber(t, io, func(ctx context.Context) {
			cfd, err := rt.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
			if err != nil {
				t.Errorf("client socket: %v", err)
				return
			}
			sa := &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
			if err := rt.Connect(ctx, cfd, sa); err != nil {
				t.Errorf("connect: %v", err)
				return
			}
			if err := rt.SetRecvTimeout(cfd, 100*time.Millisecond); err != nil {
				t.Errorf("SetRecvTimeout: %v", err)
				return
			}
			buf := make([]byte, 8)
			_, err = rt.Recv(ctx, cfd, buf, 0)
			if err != api.ErrOperationTimeout {
				t.Errorf("want ErrOperationTimeout, got %v", err)
			}
			rt.Close(cfd)
		})
	}()

	<-clientDone
	select {
	case sfd := <-acceptedFd:
		rt.Close(sfd)
	case <-time.After(2 * time.Second):
	}
}
