package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// DialOptions configures Dial, mirroring make_and_connect's parameters.
type DialOptions struct {
	Host    string
	Port    int
	Timeout time.Duration
	// Fwmark, when non-zero, is applied to the outbound socket via
	// SO_MARK on Linux, mirroring the teacher's fwmark-tagged upstream
	// dialing (internal/fwmark_linux.go) applied here to the VNC socket
	// instead of a shadowsocks upstream.
	Fwmark uint32
}

// Dial resolves host (v4 or v6) and connects within opts.Timeout, watching
// ctx for cancellation. Failures are wrapped with a short cause (dial
// interrupted, no such host, connection refused, host unreachable, connect
// timeout, connect failed) around the underlying error; no error code is
// attached.
func Dial(ctx context.Context, opts DialOptions) (*Transport, error) {
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{
		Control: func(network, address string, c syscall.RawConn) error {
			if opts.Fwmark == 0 {
				return nil
			}
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = setSocketMark(fd, opts.Fwmark)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(err, ctx)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true) // disable Nagle, per the wire protocol's small-message traffic pattern
	}

	return New(conn), nil
}

func classifyDialError(err error, ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("dial interrupted: %w", ctx.Err())
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return fmt.Errorf("no such host: %w", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return fmt.Errorf("connection refused: %w", err)
		}
		if errors.Is(opErr.Err, syscall.EHOSTUNREACH) || errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return fmt.Errorf("host unreachable: %w", err)
		}
		if opErr.Timeout() {
			return fmt.Errorf("connect timeout: %w", err)
		}
	}
	return fmt.Errorf("connect failed: %w", err)
}
