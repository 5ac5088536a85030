package handshake

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/openrv/govnc/internal/security"
	"github.com/openrv/govnc/internal/transport"
	"github.com/openrv/govnc/internal/wire"
)

// fakeServer plays the plain None-auth RFB 3.8 session from spec.md §8
// scenario 1 over one half of a net.Pipe.
func fakeServer(t *testing.T, conn net.Conn) {
	t.Helper()
	buf := make([]byte, 256)

	// Version.
	if _, err := conn.Write([]byte("RFB 003.008\n")); err != nil {
		t.Errorf("server write version: %v", err)
		return
	}
	if _, err := readFull(conn, buf[:12]); err != nil {
		t.Errorf("server read version echo: %v", err)
		return
	}

	// Security types: count=1, [None].
	if _, err := conn.Write([]byte{1, byte(1)}); err != nil {
		t.Errorf("server write security types: %v", err)
		return
	}
	if _, err := readFull(conn, buf[:1]); err != nil {
		t.Errorf("server read selected type: %v", err)
		return
	}

	// SecurityResult = ok.
	if _, err := conn.Write([]byte{0, 0, 0, 0}); err != nil {
		t.Errorf("server write SecurityResult: %v", err)
		return
	}

	// ClientInit.
	if _, err := readFull(conn, buf[:1]); err != nil {
		t.Errorf("server read ClientInit: %v", err)
		return
	}

	// ServerInit: 2x1, 32bpp/24depth little-endian RGB888, name "x".
	header := make([]byte, 24)
	wire.WriteU16(header[0:2], 2)
	wire.WriteU16(header[2:4], 1)
	f := wire.PresetBestXRGB8888()
	f.Encode(header[4:20])
	wire.WriteU32(header[20:24], 1)
	if _, err := conn.Write(header); err != nil {
		t.Errorf("server write ServerInit header: %v", err)
		return
	}
	if _, err := conn.Write([]byte("x")); err != nil {
		t.Errorf("server write desktop name: %v", err)
		return
	}

	// Client writes SetPixelFormat (20 bytes) + SetEncodings.
	if _, err := readFull(conn, buf[:20]); err != nil {
		t.Errorf("server read SetPixelFormat: %v", err)
		return
	}
	if _, err := readFull(conn, buf[:4]); err != nil {
		t.Errorf("server read SetEncodings header: %v", err)
		return
	}
	count := wire.ReadU16(buf[2:4])
	if _, err := readFull(conn, buf[:int(count)*4]); err != nil {
		t.Errorf("server read SetEncodings list: %v", err)
		return
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestRunPlainNoneAuthSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServer(t, serverConn)
	}()

	tr := transport.New(clientConn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := Run(ctx, tr, Options{Quality: QualityBest})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FramebufferWidth != 2 || result.FramebufferHeight != 1 {
		t.Errorf("framebuffer size = %dx%d, want 2x1", result.FramebufferWidth, result.FramebufferHeight)
	}
	if result.DesktopName != "x" {
		t.Errorf("desktop name = %q, want %q", result.DesktopName, "x")
	}
	<-done
}

// fakeServerVNCAuthFail plays spec.md §8 scenario 2: the server offers only
// VNCAuth, accepts the client's DES response on the wire, then reports
// authentication failure with a reason string (RFB 3.8 semantics).
func fakeServerVNCAuthFail(t *testing.T, conn net.Conn) {
	t.Helper()
	buf := make([]byte, 256)

	if _, err := conn.Write([]byte("RFB 003.008\n")); err != nil {
		t.Errorf("server write version: %v", err)
		return
	}
	if _, err := readFull(conn, buf[:12]); err != nil {
		t.Errorf("server read version echo: %v", err)
		return
	}

	// Security types: count=1, [VNCAuth].
	if _, err := conn.Write([]byte{1, byte(security.TypeVNCAuth)}); err != nil {
		t.Errorf("server write security types: %v", err)
		return
	}
	if _, err := readFull(conn, buf[:1]); err != nil {
		t.Errorf("server read selected type: %v", err)
		return
	}
	if buf[0] != byte(security.TypeVNCAuth) {
		t.Errorf("client selected type %d, want VNCAuth (%d)", buf[0], security.TypeVNCAuth)
		return
	}

	// 16-byte challenge; the client's DES response is read but deliberately
	// ignored, since this scenario exercises the failure path regardless of
	// whether the response would actually have been correct.
	challenge := make([]byte, 16)
	if _, err := conn.Write(challenge); err != nil {
		t.Errorf("server write challenge: %v", err)
		return
	}
	if _, err := readFull(conn, buf[:16]); err != nil {
		t.Errorf("server read response: %v", err)
		return
	}

	// SecurityResult = failed, with a reason string.
	if _, err := conn.Write([]byte{0, 0, 0, 1}); err != nil {
		t.Errorf("server write SecurityResult: %v", err)
		return
	}
	reason := []byte("bad password")
	lenBuf := make([]byte, 4)
	wire.WriteU32(lenBuf, uint32(len(reason)))
	if _, err := conn.Write(lenBuf); err != nil {
		t.Errorf("server write reason length: %v", err)
		return
	}
	if _, err := conn.Write(reason); err != nil {
		t.Errorf("server write reason: %v", err)
		return
	}
}

func TestRunVNCAuthFailure(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServerVNCAuthFail(t, serverConn)
	}()

	tr := transport.New(clientConn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Run(ctx, tr, Options{Quality: QualityBest, Password: "wrong"})
	if err == nil {
		t.Fatal("Run succeeded, want authentication failure")
	}
	if !strings.Contains(err.Error(), "bad password") {
		t.Errorf("Run error = %q, want it to surface the server's reason string", err.Error())
	}
	<-done
}

// TestRunCancelledMidHandshake covers spec.md §8 scenario 5: the user
// disconnects while a handshake is in flight. The server completes version
// negotiation and then stalls forever (never sends the security type list);
// Run must still return promptly once ctx is cancelled rather than hanging
// on the underlying blocking read, since ReadBlocking now rechecks ctx
// between short per-read deadlines instead of only between whole reads.
func TestRunCancelledMidHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	stall := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 256)
		if _, err := serverConn.Write([]byte("RFB 003.008\n")); err != nil {
			return
		}
		if _, err := readFull(serverConn, buf[:12]); err != nil {
			return
		}
		// Stall: the client is disconnected before anything else arrives.
		<-stall
	}()

	tr := transport.New(clientConn)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	start := time.Now()
	_, err := Run(ctx, tr, Options{Quality: QualityBest})
	elapsed := time.Since(start)
	close(stall)

	if err == nil {
		t.Fatal("Run succeeded, want cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want it to wrap context.Canceled", err)
	}
	if elapsed > 1500*time.Millisecond {
		t.Errorf("Run took %v to observe cancellation, want well under 1.5s", elapsed)
	}
	<-done
}
