// Package transport implements the single-socket wrapper the handshake
// driver and connection worker read and write through: resolve-and-connect
// with a cancellable timeout budget, blocking read/write loops driven by a
// single wait primitive, and a pluggable TLS layer installed after the
// security handshake completes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// blockingPollInterval bounds how long ReadBlocking/WriteBlocking can sit in
// a single underlying Read/Write call before re-checking ctx, so a cancelled
// context interrupts an in-flight call instead of only being checked between
// calls (spec.md §4.2: "each iteration waits with a timeout ... the wait
// watches the cancel channel").
const blockingPollInterval = 200 * time.Millisecond

// WaitDirection selects what Wait blocks for.
type WaitDirection int

const (
	WaitRead WaitDirection = iota
	WaitWrite
	WaitConnect
	WaitNone
)

// WaitResult reports why Wait returned.
type WaitResult int

const (
	Signalled WaitResult = iota
	TimedOut
	Interrupted
)

// Transport owns one socket (TCP or an alternate stream such as a
// WebSocket bridge) plus the byte counters and wake-up channel the worker
// consults on every loop iteration.
type Transport struct {
	conn net.Conn
	tls  EncryptionContext

	mu sync.Mutex

	wake chan struct{}

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	lastActivity atomic.Int64 // unix nanos
}

// EncryptionContext is satisfied by the TLS wrapper installed once a
// security handler negotiates Anonymous-TLS or VeNCrypt; when set, Read and
// Write go through it instead of the raw socket.
type EncryptionContext interface {
	io.Reader
	io.Writer
}

// New wraps an already-connected net.Conn. Dial (in dial.go) is the usual
// entry point; New is exposed directly for transports constructed
// elsewhere (e.g. the WebSocket bridge in ws.go).
func New(conn net.Conn) *Transport {
	t := &Transport{
		conn: conn,
		wake: make(chan struct{}, 1),
	}
	t.touch()
	return t
}

func (t *Transport) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// WakeUp writes one signal to the wake-up channel, waking a blocked Wait
// call exactly once. Mirrors the pipe-backed notifier the host uses to
// interrupt the worker's blocking wait.
func (t *Transport) WakeUp() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// SetEncryptionContext installs tls so that subsequent Read/Write calls go
// through it rather than the raw socket. Passing nil clears it.
func (t *Transport) SetEncryptionContext(tlsCtx EncryptionContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tls = tlsCtx
}

func (t *Transport) rawRead(buf []byte) (int, error) {
	t.mu.Lock()
	tlsCtx := t.tls
	t.mu.Unlock()
	if tlsCtx != nil {
		return tlsCtx.Read(buf)
	}
	return t.conn.Read(buf)
}

func (t *Transport) rawWrite(buf []byte) (int, error) {
	t.mu.Lock()
	tlsCtx := t.tls
	t.mu.Unlock()
	if tlsCtx != nil {
		return tlsCtx.Write(buf)
	}
	return t.conn.Write(buf)
}

// ReadBlocking loops until exactly len(buf) bytes have been read or an
// error occurs. Each underlying read is bounded by blockingPollInterval via
// SetReadDeadline, so ctx is re-checked every interval rather than only
// between whole calls: a cancelled ctx interrupts an in-flight read within
// one interval instead of only once the full buffer has arrived.
func (t *Transport) ReadBlocking(ctx context.Context, buf []byte) error {
	defer t.conn.SetReadDeadline(time.Time{})
	total := 0
	for total < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(blockingPollInterval))
		n, err := t.rawRead(buf[total:])
		if n > 0 {
			total += n
			t.bytesReceived.Add(uint64(n))
			t.touch()
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("read failed after %d/%d bytes: %w", total, len(buf), err)
		}
	}
	return nil
}

// WriteBlocking loops until exactly len(buf) bytes have been written, with
// the same per-interval cancel check as ReadBlocking.
func (t *Transport) WriteBlocking(ctx context.Context, buf []byte) error {
	defer t.conn.SetWriteDeadline(time.Time{})
	total := 0
	for total < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = t.conn.SetWriteDeadline(time.Now().Add(blockingPollInterval))
		n, err := t.rawWrite(buf[total:])
		if n > 0 {
			total += n
			t.bytesSent.Add(uint64(n))
			t.touch()
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("write failed after %d/%d bytes: %w", total, len(buf), err)
		}
	}
	return nil
}

// isTimeout reports whether err is a deadline expiry rather than a real I/O
// failure, so ReadBlocking/WriteBlocking can treat it as "keep waiting."
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ReadAvailable performs a single best-effort, non-blocking-bounded read
// into buf, used by the worker's main loop to drain whatever arrived after
// Wait reports readability. A short deadline keeps it from blocking the
// caller if readability turned out to be spurious (e.g. the non-syscall.Conn
// poll fallback for WebSocket transports).
func (t *Transport) ReadAvailable(buf []byte) (int, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(blockingPollInterval))
	defer t.conn.SetReadDeadline(time.Time{})
	n, err := t.rawRead(buf)
	if n > 0 {
		t.bytesReceived.Add(uint64(n))
		t.touch()
	}
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

// Wait blocks until the socket is ready for dir, the wake-up channel
// fires, or timeout elapses. A timeout of 0 arms no timer, but for WaitRead
// and WaitWrite the readiness poll then gives up almost at once and Wait
// returns Signalled. It is the sole blocking primitive the worker uses
// outside ReadBlocking/WriteBlocking.
func (t *Transport) Wait(ctx context.Context, dir WaitDirection, timeout time.Duration) (WaitResult, error) {
	deadline := make(<-chan time.Time)
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	readyCh := make(chan error, 1)
	if dir != WaitNone {
		go func() {
			readyCh <- t.pollOnce(dir, timeout)
		}()
	}
	select {
	case <-ctx.Done():
		return Interrupted, ctx.Err()
	case <-t.wake:
		return Interrupted, nil
	case <-deadline:
		return TimedOut, nil
	case err := <-readyCh:
		if err != nil {
			return Signalled, err
		}
		return Signalled, nil
	}
}

// pollOnce detects socket readiness without consuming any bytes, via the
// platform poll implementation in poll_unix.go / poll_other.go.
func (t *Transport) pollOnce(dir WaitDirection, timeout time.Duration) error {
	if dir == WaitConnect {
		return nil
	}
	return pollReady(t.conn, dir, timeout)
}

// BytesSent and BytesReceived expose the atomic wire counters to the host.
func (t *Transport) BytesSent() uint64     { return t.bytesSent.Load() }
func (t *Transport) BytesReceived() uint64 { return t.bytesReceived.Load() }

func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) Conn() net.Conn {
	return t.conn
}
