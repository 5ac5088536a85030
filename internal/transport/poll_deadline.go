package transport

import (
	"net"
	"time"
)

// pollReadyDeadline approximates poll(2) readiness using a connection's own
// deadline-setting methods rather than a raw fd: it arms a short deadline so
// the caller's next Read/Write (ReadAvailable, ReadBlocking/WriteBlocking)
// is bounded by timeout instead of blocking indefinitely. Used for
// connections with no syscall.Conn fd to poll (wsConn, and any platform
// without poll(2) wired at all).
func pollReadyDeadline(conn net.Conn, dir WaitDirection, timeout time.Duration) error {
	switch dir {
	case WaitRead:
		return conn.SetReadDeadline(time.Now().Add(timeout))
	case WaitWrite:
		return conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return nil
}
