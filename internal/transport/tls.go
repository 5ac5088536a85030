package transport

import (
	"crypto/tls"
	"fmt"
	"net"
)

// HandshakeAnonymousTLS performs a TLS client handshake with no certificate
// verification at all: this is inherently insecure and callers must log
// that fact. Go's stdlib crypto/tls has no anonymous-DH cipher suites, so
// this offers the default TLS 1.2+ suite set with InsecureSkipVerify: the
// connection is encrypted but the server identity is not checked, and a
// server that offers only anonymous-DH suites fails the handshake.
func HandshakeAnonymousTLS(conn net.Conn, serverName string) (*tls.Conn, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // anonymous TLS is unauthenticated by protocol definition
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("anonymous TLS handshake: %w", err)
	}
	return tlsConn, nil
}

// HandshakeVeNCrypt opens a real, certificate-verified TLS tunnel for the
// VeNCrypt security type. Subsequent security negotiation proceeds inside
// the returned connection.
func HandshakeVeNCrypt(conn net.Conn, serverName string, insecureSkipVerify bool) (*tls.Conn, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("VeNCrypt TLS handshake: %w", err)
	}
	return tlsConn, nil
}
