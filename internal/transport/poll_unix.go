//go:build linux || darwin

package transport

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pollReady blocks until conn is ready for dir or timeout elapses, without
// consuming any application bytes, using poll(2) on the underlying fd.
// This is the non-blocking-socket wait primitive spec.md §4.2 describes;
// unlike a deadline-based Read/Write probe it never steals a byte the
// caller's own ReadBlocking/WriteBlocking loop still needs.
//
// Connections that don't expose a raw fd (wsConn, wrapping a WebSocket
// connection) fall back to pollReadyDeadline: it can't avoid the kernel's
// own readiness semantics, but it arms a real deadline instead of reporting
// ready unconditionally.
func pollReady(conn net.Conn, dir WaitDirection, timeout time.Duration) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return pollReadyDeadline(conn, dir, timeout)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return pollReadyDeadline(conn, dir, timeout)
	}

	events := int16(unix.POLLIN)
	if dir == WaitWrite {
		events = unix.POLLOUT
	}

	var pollErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
		ms := int(timeout / time.Millisecond)
		if ms <= 0 {
			ms = 1
		}
		_, pollErr = unix.Poll(fds, ms)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return pollErr
}
