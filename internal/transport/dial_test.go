package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestDialConnectAndEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		_, _ = conn.Read(buf)
		_, _ = conn.Write(buf)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr, err := Dial(context.Background(), DialOptions{Host: "127.0.0.1", Port: addr.Port, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	ctx := context.Background()
	if err := tr.WriteBlocking(ctx, []byte("hello")); err != nil {
		t.Fatalf("WriteBlocking: %v", err)
	}
	got := make([]byte, 5)
	if err := tr.ReadBlocking(ctx, got); err != nil {
		t.Fatalf("ReadBlocking: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if tr.BytesSent() != 5 || tr.BytesReceived() != 5 {
		t.Errorf("counters = sent:%d recv:%d, want 5/5", tr.BytesSent(), tr.BytesReceived())
	}
}

func TestDialConnectionRefused(t *testing.T) {
	_, err := Dial(context.Background(), DialOptions{Host: "127.0.0.1", Port: 1, Timeout: 500 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected connect error for unused port")
	}
}
