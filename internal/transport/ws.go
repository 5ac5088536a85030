package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla/websocket connection to net.Conn so the RFB byte
// stream can ride a ws:// or wss:// bridge the same way noVNC-style
// browser clients tunnel RFB over a WebSocket binary stream, grounded on
// the teacher's WebSocketConn wrapper.
type wsConn struct {
	conn       *websocket.Conn
	reader     io.Reader
	localAddr  net.Addr
	remoteAddr net.Addr
	mu         sync.Mutex
}

// WSDialer opens the WebSocket bridge selected by ConnectionConfig.Scheme.
type WSDialer struct {
	dialer *websocket.Dialer
	url    string
}

// NewWSDialer builds a dialer for ws(s)://host:port/path, negotiating the
// "binary" subprotocol RFB-over-WebSocket bridges expect.
func NewWSDialer(host string, port int, path string, useTLS bool) *WSDialer {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	return &WSDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 20 * time.Second,
			Subprotocols:     []string{"binary"},
		},
		url: fmt.Sprintf("%s://%s:%d%s", scheme, host, port, path),
	}
}

func (d *WSDialer) DialContext(ctx context.Context) (*Transport, error) {
	header := http.Header{}
	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(0)

	return New(&wsConn{
		conn:       conn,
		localAddr:  conn.LocalAddr(),
		remoteAddr: conn.RemoteAddr(),
	}), nil
}

func (c *wsConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.reader == nil {
			messageType, r, err := c.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(b)
		if err == io.EOF {
			c.reader = nil
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (c *wsConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.localAddr }
func (c *wsConn) RemoteAddr() net.Addr { return c.remoteAddr }

func (c *wsConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.SetWriteDeadline(t)
}
