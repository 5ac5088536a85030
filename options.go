package govnc

import (
	"github.com/openrv/govnc/internal/handshake"
	"github.com/openrv/govnc/internal/wire"
)

// PixelFormat is the wire pixel format description; see internal/wire for
// the unpack/pack routines operating on it.
type PixelFormat = wire.PixelFormat

// QualityProfile selects the pixel format requested right after ServerInit.
type QualityProfile = handshake.QualityProfile

const (
	QualityLow           = handshake.QualityLow
	QualityMedium        = handshake.QualityMedium
	QualityBest          = handshake.QualityBest
	QualityServerDefault = handshake.QualityServerDefault
	QualityCustom        = handshake.QualityCustom
)

// Hard limits from spec.md §6, enforced across the handshake and decoder
// packages; re-exported here so a host can size its own buffers sensibly.
const (
	MaxHostnameBytes   = 255
	MaxPasswordBytes   = 10 << 20
	MaxDesktopNameBytes = 100 << 10
	MaxCutTextBytes    = 2 << 20
	MaxFramebufferBytes = 1 << 30
	MaxDimension       = 1 << 16
)

// Scheme selects the transport used to reach the server.
type Scheme int

const (
	SchemeTCP Scheme = iota
	SchemeWebSocket
	SchemeWebSocketTLS
)

// ConnectionConfig carries the per-connect-attempt parameters the host
// supplies to Connect, per spec.md §3's ConnectionConfig.
type ConnectionConfig struct {
	Host     string
	Port     int
	Password string
	ViewOnly bool

	Quality      QualityProfile
	CustomFormat PixelFormat

	Shared bool
	Scheme Scheme
	WebSocketPath string

	// Fwmark sets SO_MARK on the outbound socket (Linux only); 0 disables it.
	Fwmark uint32

	// LenientCoRRE clamps out-of-bounds RRE/CoRRE subrects instead of
	// rejecting the connection; off by default (spec.md §9 Open Questions).
	LenientCoRRE bool

	// Encodings overrides the default SetEncodings preference list; nil
	// uses the hard-coded default from spec.md §4.4 step 6.
	Encodings []int32
}

func (c ConnectionConfig) validate() *Error {
	if len(c.Host) == 0 || len(c.Host) > MaxHostnameBytes {
		return NewError(ErrProtocolError, 0, "hostname length %d exceeds bound", len(c.Host))
	}
	if len(c.Password) > MaxPasswordBytes {
		return NewError(ErrProtocolError, 0, "password length %d exceeds bound", len(c.Password))
	}
	return nil
}
