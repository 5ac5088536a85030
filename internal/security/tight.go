package security

import (
	"context"
	"fmt"

	"github.com/openrv/govnc/internal/transport"
)

// Hard caps on tunnel/auth capability counts, preventing a malicious
// server from forcing large allocations before a single capability is
// validated (spec.md §4.3).
const (
	maxTunnelsCount   = 1000
	maxAuthTypesCount = 1000
)

var registeredTunnelCapabilities = []Capability{
	capability(0, "TGHT", "NOTUNNEL"),
}

const (
	tightAuthNone        int32 = 1
	tightAuthVNC         int32 = 2
	tightAuthVeNCrypt    int32 = 19
	tightAuthSASL        int32 = 20
	tightAuthUnixLogin   int32 = 129
	tightAuthExternal    int32 = 130
)

var registeredAuthCapabilities = []Capability{
	capability(tightAuthNone, "STDV", "NOAUTH__"),
	capability(tightAuthVNC, "STDV", "VNCAUTH_"),
	capability(tightAuthVeNCrypt, "VENC", "VENCRYPT"),
	capability(tightAuthSASL, "GTKV", "SASL____"),
	capability(tightAuthUnixLogin, "TGHT", "ULGNAUTH"),
	capability(tightAuthExternal, "TGHT", "XTRNAUTH"),
}

// librarySupportedAuthSignatures is this client's own fixed preference
// among the registered auth capabilities: NOAUTH__ first, then VNCAUTH_,
// per spec.md §4.3 ("pick a registered, library-supported one"). Unlike
// the original's first-server-order selection, ties are broken by this
// list regardless of the order the server reported them in.
var librarySupportedAuthSignatures = []string{"NOAUTH__", "VNCAUTH_"}

// TightHandler implements the Tight security type's tunnel and
// authentication-capability sub-negotiation.
type TightHandler struct {
	SelectedAuthSignature string // populated after Run, for the handshake driver to dispatch the sub-handler
}

func (h *TightHandler) Run(ctx context.Context, conn *transport.Transport, password string) error {
	if err := h.handleTunnels(ctx, conn); err != nil {
		return err
	}
	auth, err := h.handleAuthTypes(ctx, conn)
	if err != nil {
		return err
	}
	h.SelectedAuthSignature = auth
	switch auth {
	case "NOAUTH__":
		return NoneHandler{}.Run(ctx, conn, password)
	case "VNCAUTH_":
		return VNCAuthHandler{}.Run(ctx, conn, password)
	default:
		return fmt.Errorf("tight auth capability %q is registered but has no sub-handler in this client", auth)
	}
}

func (h *TightHandler) handleTunnels(ctx context.Context, conn *transport.Transport) error {
	var countBuf [4]byte
	if err := conn.ReadBlocking(ctx, countBuf[:]); err != nil {
		return fmt.Errorf("reading tight tunnel count: %w", err)
	}
	count := be32(countBuf)
	if count > maxTunnelsCount {
		return fmt.Errorf("server reports %d tunnels, exceeds client limit %d", count, maxTunnelsCount)
	}
	if count == 0 {
		return nil // NOTUNNEL implicitly selected, nothing to write
	}

	records := make([]byte, int(count)*CapabilityWireSize)
	if err := conn.ReadBlocking(ctx, records); err != nil {
		return fmt.Errorf("reading %d tight tunnel capabilities: %w", count, err)
	}

	seen := make(map[string]bool)
	var selected *Capability
	for i := 0; i < int(count); i++ {
		rec, err := DecodeCapability(records[i*CapabilityWireSize:])
		if err != nil {
			return err
		}
		sig := rec.signatureString()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		if selected == nil && isRegisteredTunnel(rec) {
			selected = &rec
		}
	}
	if selected == nil {
		return fmt.Errorf("server reported %d tunnel capabilities, none supported by this client", count)
	}
	var out [4]byte
	putBE32(&out, uint32(selected.Code))
	return conn.WriteBlocking(ctx, out[:])
}

func (h *TightHandler) handleAuthTypes(ctx context.Context, conn *transport.Transport) (string, error) {
	var countBuf [4]byte
	if err := conn.ReadBlocking(ctx, countBuf[:]); err != nil {
		return "", fmt.Errorf("reading tight auth type count: %w", err)
	}
	count := be32(countBuf)
	if count > maxAuthTypesCount {
		return "", fmt.Errorf("server reports %d auth types, exceeds client limit %d", count, maxAuthTypesCount)
	}
	if count == 0 {
		return "NOAUTH__", nil // None implicitly selected
	}

	records := make([]byte, int(count)*CapabilityWireSize)
	if err := conn.ReadBlocking(ctx, records); err != nil {
		return "", fmt.Errorf("reading %d tight auth capabilities: %w", count, err)
	}

	reported := make(map[string]bool)
	for i := 0; i < int(count); i++ {
		rec, err := DecodeCapability(records[i*CapabilityWireSize:])
		if err != nil {
			return "", err
		}
		reported[rec.signatureString()] = true
	}

	for _, sig := range librarySupportedAuthSignatures {
		if reported[sig] {
			for _, reg := range registeredAuthCapabilities {
				if reg.signatureString() == sig {
					var out [4]byte
					putBE32(&out, uint32(reg.Code))
					if err := conn.WriteBlocking(ctx, out[:]); err != nil {
						return "", fmt.Errorf("selecting tight auth capability %q: %w", sig, err)
					}
					return sig, nil
				}
			}
		}
	}
	return "", fmt.Errorf("server reported %d auth capabilities, none supported by this client", count)
}

func isRegisteredTunnel(c Capability) bool {
	for _, reg := range registeredTunnelCapabilities {
		if reg.Code == c.Code && reg.signatureString() == c.signatureString() {
			return true
		}
	}
	return false
}

func be32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b *[4]byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}
