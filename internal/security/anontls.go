package security

import (
	"context"
	"fmt"

	"github.com/openrv/govnc/internal/transport"
)

// AnonymousTLSHandler performs an unauthenticated TLS handshake over the
// socket, then runs the sub-handler named by SubType (None or VNC Auth)
// inside the tunnel. It reads no security-type list from the server and
// writes no type byte inside the tunnel: the sub-handler starts directly.
// Log is invoked once the tunnel is up, since an anonymous TLS session is
// inherently insecure and callers must be told.
type AnonymousTLSHandler struct {
	ServerName string
	SubType    Type // TypeNone or TypeVNCAuth, chosen by the caller after the outer negotiation
	Log        func(format string, args ...any)
}

func (h AnonymousTLSHandler) Run(ctx context.Context, conn *transport.Transport, password string) error {
	tlsConn, err := transport.HandshakeAnonymousTLS(conn.Conn(), h.ServerName)
	if err != nil {
		return fmt.Errorf("anonymous TLS handshake: %w", err)
	}
	if h.Log != nil {
		h.Log("anonymous TLS tunnel established to %s; server identity was NOT verified", h.ServerName)
	}
	conn.SetEncryptionContext(tlsConn)

	var sub Handler
	switch h.SubType {
	case TypeNone:
		sub = NoneHandler{}
	case TypeVNCAuth:
		sub = VNCAuthHandler{}
	default:
		return fmt.Errorf("anonymous TLS sub-negotiation requested unsupported type %d", h.SubType)
	}
	return sub.Run(ctx, conn, password)
}
