//go:build !linux && !darwin

package transport

import (
	"net"
	"time"
)

// pollReady falls back to pollReadyDeadline on platforms without poll(2)
// wired (e.g. windows): it arms a deadline instead of probing readiness, so
// it never reads into the caller's buffer.
func pollReady(conn net.Conn, dir WaitDirection, timeout time.Duration) error {
	return pollReadyDeadline(conn, dir, timeout)
}
