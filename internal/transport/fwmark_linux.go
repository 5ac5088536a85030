//go:build linux

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setSocketMark tags the outbound VNC socket with mark via SO_MARK, letting
// a host route VNC traffic over a specific interface/policy alongside other
// marked flows. 0 disables it.
func setSocketMark(fd uintptr, mark uint32) error {
	if mark == 0 {
		return nil
	}
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark)); err != nil {
		return fmt.Errorf("setsockopt SO_MARK=%d: %w", mark, err)
	}
	return nil
}
