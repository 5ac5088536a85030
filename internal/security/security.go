// Package security implements the per-security-type challenge/response
// handlers the handshake driver dispatches to after the client picks a
// security type: None, VNC Authentication, Tight (with its tunnel/auth
// capability sub-negotiation), Anonymous TLS, and VeNCrypt.
package security

import (
	"context"
	"fmt"

	"github.com/openrv/govnc/internal/transport"
)

// Type is the RFB security type byte.
type Type uint8

const (
	TypeInvalid      Type = 0
	TypeNone         Type = 1
	TypeVNCAuth      Type = 2
	TypeTight        Type = 16
	TypeVeNCrypt     Type = 19
	TypeGTKVNCSASL   Type = 20
	TypeAnonymousTLS Type = 18
)

// PreferenceOrder is the fixed order the client evaluates server-offered
// security types in, per spec.md §4.4 step 2.
var PreferenceOrder = []Type{TypeVeNCrypt, TypeAnonymousTLS, TypeNone, TypeVNCAuth, TypeTight}

// Handler runs one security type's challenge/response over conn. A
// Handler must not retain conn after Run returns.
type Handler interface {
	Run(ctx context.Context, conn *transport.Transport, password string) error
}

// Capability is the 16-byte record {code, vendor[4], signature[8]} used by
// Tight's tunnel and auth capability lists, mirroring orv_vnc_tight_capability_t.
type Capability struct {
	Code      int32
	Vendor    [4]byte
	Signature [8]byte
}

const CapabilityWireSize = 16 // 4 (code) + 4 (vendor) + 8 (signature)

func DecodeCapability(buf []byte) (Capability, error) {
	if len(buf) < CapabilityWireSize {
		return Capability{}, fmt.Errorf("capability record requires %d bytes, got %d", CapabilityWireSize, len(buf))
	}
	var c Capability
	c.Code = int32(uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]))
	copy(c.Vendor[:], buf[4:8])
	copy(c.Signature[:], buf[8:16])
	return c, nil
}

func (c Capability) Encode(buf []byte) {
	v := uint32(c.Code)
	buf[0], buf[1], buf[2], buf[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	copy(buf[4:8], c.Vendor[:])
	copy(buf[8:16], c.Signature[:])
}

func capability(code int32, vendor, signature string) Capability {
	var c Capability
	c.Code = code
	copy(c.Vendor[:], vendor)
	copy(c.Signature[:], signature)
	return c
}

func (c Capability) signatureString() string {
	n := 0
	for n < len(c.Signature) && c.Signature[n] != 0 {
		n++
	}
	return string(c.Signature[:n])
}

// SecurityResult is the post-auth uint32 the server writes once the
// security handler finishes; RFB 3.3 and 3.7 omit it for the None type.
type SecurityResult uint32

const (
	ResultOK              SecurityResult = 0
	ResultFailed          SecurityResult = 1
	ResultTooManyAttempts SecurityResult = 2
)
