// File: cmd/corio-echo/main.go
// Author: momentics <momentics@gmail.com>
//
// Loopback TCP echo server built directly on the runtime: one IOManager,
// one accept fiber, one fiber per connection. Demonstrates fiber
// creation, scheduling, and hook-based non-blocking I/O end to end.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/corio/fiber"
	"github.com/momentics/corio/hook"
	"github.com/momentics/corio/pool"
	"github.com/momentics/corio/reactor"
	"github.com/momentics/corio/sched"
)

var bufPool = pool.NewBytePool(4096)

func main() {
	port := flag.Int("port", 9090, "listen port")
	workers := flag.Int("workers", 1, "reactor background workers")
	flag.Parse()

	io, err := reactor.New("corio-echo", *workers, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reactor.New: %v\n", err)
		os.Exit(1)
	}
	rt := hook.New(io)

	lfd, err := rt.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "socket: %v\n", err)
		os.Exit(1)
	}
	if err := unix.SetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		fmt.Fprintf(os.Stderr, "setsockopt: %v\n", err)
		os.Exit(1)
	}
	if err := unix.Bind(lfd, &unix.SockaddrInet4{Port: *port, Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		fmt.Fprintf(os.Stderr, "bind: %v\n", err)
		os.Exit(1)
	}
	if err := unix.Listen(lfd, 128); err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}

	var activeConns int64
	fmt.Printf("corio-echo listening on 127.0.0.1:%d (%d workers)\n", *port, *workers)

	acceptLoop := fiber.New(context.Background(), func(ctx context.Context) {
		for {
			cfd, _, err := rt.Accept(ctx, lfd)
			if err != nil {
				fmt.Fprintf(os.Stderr, "accept: %v\n", err)
				return
			}
			atomic.AddInt64(&activeConns, 1)
			io.ScheduleFunc(func(ctx context.Context) {
				serveConn(ctx, rt, cfd, &activeConns)
			}, sched.AnyThread)
		}
	}, 0, false)
	io.Schedule(acceptLoop, sched.AnyThread)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down corio-echo")
	_ = io.Close()
	_ = unix.Close(lfd)
}

func serveConn(ctx context.Context, rt *hook.Runtime, fd int, activeConns *int64) {
	defer func() {
		rt.Close(fd)
		atomic.AddInt64(activeConns, -1)
	}()
	buf := bufPool.Acquire(4096)
	defer bufPool.Release(buf)
	for {
		n, err := rt.Recv(ctx, fd, buf, 0)
		if err != nil || n == 0 {
			return
		}
		if _, err := rt.Write(ctx, fd, buf[:n]); err != nil {
			return
		}
	}
}
