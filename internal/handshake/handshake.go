// Package handshake drives the RFB connection setup: version negotiation,
// security type selection and sub-negotiation, ClientInit/ServerInit, and
// the post-init SetPixelFormat/SetEncodings preference write, per spec.md
// §4.4.
package handshake

import (
	"context"
	"fmt"
	"strings"

	"github.com/openrv/govnc/internal/security"
	"github.com/openrv/govnc/internal/transport"
	"github.com/openrv/govnc/internal/wire"
)

// Version is the negotiated RFB protocol version.
type Version int

const (
	Version33 Version = iota
	Version37
	Version38
)

// QualityProfile selects the pixel format requested immediately after
// ServerInit.
type QualityProfile int

const (
	QualityLow QualityProfile = iota
	QualityMedium
	QualityBest
	QualityServerDefault
	QualityCustom
)

// Options carries the per-connect-attempt parameters the driver needs.
type Options struct {
	Password    string
	Shared      bool
	Quality     QualityProfile
	CustomFormat wire.PixelFormat
	Encodings   []int32 // override for the SetEncodings preference list; nil uses the default
	LenientCoRRE bool
	ServerName  string // for TLS ServerName on Anonymous-TLS/VeNCrypt
	Log         func(format string, args ...any)
}

// EncodingType values referenced by the default SetEncodings list and by
// the rectangle header dispatch in the decoder pipeline.
const (
	EncodingRaw     int32 = 0
	EncodingCopyRect int32 = 1
	EncodingRRE     int32 = 2
	EncodingCoRRE   int32 = 4
	EncodingHextile int32 = 5
	EncodingZlib    int32 = 6
	EncodingZRLE    int32 = 16
	EncodingCursor  int32 = -239
	EncodingDesktopSize int32 = -223
)

// defaultEncodings is the hard-coded preference list from spec.md §4.4
// step 6. ZRLE is deliberately omitted per the source's own comment about
// known server bugs; it remains fully implemented and selectable via
// Options.Encodings.
var defaultEncodings = []int32{EncodingCursor, EncodingCopyRect, EncodingZlib, EncodingHextile, EncodingCoRRE, EncodingRRE, EncodingRaw}

// ServerCapabilities mirrors orv_vnc_server_capabilities_t: everything the
// handshake learned about the server beyond the negotiated pixel format.
type ServerCapabilities struct {
	RFBVersion   Version
	SecurityTypes []security.Type
	Encodings    []security.Capability // only populated for Tight
	ServerMessages []security.Capability
	ClientMessages []security.Capability
	Partial      bool
}

// Result is everything the connection worker needs after a successful
// handshake to enter the Connected state.
type Result struct {
	FramebufferWidth, FramebufferHeight uint16
	DesktopName                          string
	DefaultPixelFormat                   wire.PixelFormat
	NegotiatedPixelFormat                wire.PixelFormat
	Capabilities                         ServerCapabilities
	AuthType                             security.Type
}

const (
	maxDesktopNameBytes = 100 * 1024
	maxEncodingCapabilitiesStored = 100
	maxEncodingCapabilitiesRead   = 10000
	maxSecurityTypesStored        = 255
	maxTightMessageCapsStored     = 100
	maxTightMessageCapsRead       = 10000
	maxFramebufferBytes           = 1 << 30 // 1 GiB
	maxDimension                  = 1 << 16
)

// Run executes the full handshake over conn and returns the negotiated
// state, or an error classified per spec.md §4.3/§4.4.
func Run(ctx context.Context, conn *transport.Transport, opts Options) (*Result, error) {
	version, err := readVersion(ctx, conn)
	if err != nil {
		return nil, err
	}

	authType, err := negotiateSecurity(ctx, conn, version, opts)
	if err != nil {
		return nil, err
	}

	if err := writeClientInit(ctx, conn, opts.Shared); err != nil {
		return nil, err
	}

	result, err := readServerInit(ctx, conn, authType)
	if err != nil {
		return nil, err
	}
	result.Capabilities.RFBVersion = version
	result.AuthType = authType

	format, err := choosePixelFormat(opts, result.DefaultPixelFormat)
	if err != nil {
		return nil, err
	}
	result.NegotiatedPixelFormat = format

	if err := writePostInitPreferences(ctx, conn, format, opts.Encodings); err != nil {
		return nil, err
	}

	return result, nil
}

func readVersion(ctx context.Context, conn *transport.Transport) (Version, error) {
	var buf [12]byte
	if err := conn.ReadBlocking(ctx, buf[:]); err != nil {
		return 0, fmt.Errorf("reading RFB version string: %w", err)
	}
	s := string(buf[:])
	if !strings.HasPrefix(s, "RFB ") || s[11] != '\n' {
		return 0, fmt.Errorf("malformed RFB version string %q", s)
	}
	major := s[4:7]
	minor := s[8:11]

	var reported string
	switch {
	case major < "003" || (major == "003" && minor < "003"):
		return 0, fmt.Errorf("unsupported RFB version %q: older than 3.3", s)
	case major == "003" && minor == "003":
		reported = "3.3"
	case major == "003" && minor == "005":
		reported = "3.3" // "3.5" is a long-standing server quirk, treated as a 3.3 synonym
	case major == "003" && minor == "007":
		reported = "3.7"
	default:
		reported = "3.8" // any other 003.0YY above 3.3, or a later major, is treated as >= 3.8
	}

	var version Version
	var echoMinor string
	switch reported {
	case "3.3":
		version = Version33
		echoMinor = "003"
	case "3.7":
		version = Version37
		echoMinor = "007"
	default:
		version = Version38
		echoMinor = "008"
	}

	echo := []byte(fmt.Sprintf("RFB 003.%s\n", echoMinor))
	if err := conn.WriteBlocking(ctx, echo); err != nil {
		return 0, fmt.Errorf("writing RFB version echo: %w", err)
	}
	return version, nil
}

func negotiateSecurity(ctx context.Context, conn *transport.Transport, version Version, opts Options) (security.Type, error) {
	var chosen security.Type

	if version == Version33 {
		var buf [4]byte
		if err := conn.ReadBlocking(ctx, buf[:]); err != nil {
			return 0, fmt.Errorf("reading 3.3 security type: %w", err)
		}
		t := security.Type(be32(buf))
		if t == security.TypeInvalid {
			reason, err := readReasonString(ctx, conn)
			if err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("server rejected connection: %s", reason)
		}
		chosen = t
	} else {
		var countBuf [1]byte
		if err := conn.ReadBlocking(ctx, countBuf[:]); err != nil {
			return 0, fmt.Errorf("reading security type count: %w", err)
		}
		count := int(countBuf[0])
		if count == 0 {
			reason, err := readReasonString(ctx, conn)
			if err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("server rejects connection: %s", reason)
		}
		if count > maxSecurityTypesStored {
			return 0, fmt.Errorf("server offered %d security types, exceeds client limit %d", count, maxSecurityTypesStored)
		}
		offered := make([]byte, count)
		if err := conn.ReadBlocking(ctx, offered); err != nil {
			return 0, fmt.Errorf("reading %d security types: %w", count, err)
		}
		offeredSet := make(map[security.Type]bool, count)
		for _, b := range offered {
			offeredSet[security.Type(b)] = true
		}
		for _, pref := range security.PreferenceOrder {
			if offeredSet[pref] {
				chosen = pref
				break
			}
		}
		if chosen == 0 {
			return 0, fmt.Errorf("server offered no security type this client supports")
		}
		if err := conn.WriteBlocking(ctx, []byte{byte(chosen)}); err != nil {
			return 0, fmt.Errorf("writing selected security type: %w", err)
		}
	}

	if err := runSecurityHandler(ctx, conn, chosen, opts); err != nil {
		return 0, err
	}

	// RFB 3.3/3.7 omit SecurityResult for the None type; all other
	// combinations send it, per spec.md §4.3.
	if (version == Version33 || version == Version37) && chosen == security.TypeNone {
		return chosen, nil
	}

	var resultBuf [4]byte
	if err := conn.ReadBlocking(ctx, resultBuf[:]); err != nil {
		return 0, fmt.Errorf("reading SecurityResult: %w", err)
	}
	result := security.SecurityResult(be32(resultBuf))
	switch result {
	case security.ResultOK:
		return chosen, nil
	case security.ResultTooManyAttempts:
		return 0, fmt.Errorf("server reports too many authentication attempts")
	default:
		if version == Version38 {
			reason, err := readReasonString(ctx, conn)
			if err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("authentication failed. Reason reported by server: %s", reason)
		}
		return 0, fmt.Errorf("authentication failed")
	}
}

func runSecurityHandler(ctx context.Context, conn *transport.Transport, t security.Type, opts Options) error {
	switch t {
	case security.TypeNone:
		return security.NoneHandler{}.Run(ctx, conn, opts.Password)
	case security.TypeVNCAuth:
		return security.VNCAuthHandler{}.Run(ctx, conn, opts.Password)
	case security.TypeTight:
		h := &security.TightHandler{}
		return h.Run(ctx, conn, opts.Password)
	case security.TypeAnonymousTLS:
		h := security.AnonymousTLSHandler{ServerName: opts.ServerName, SubType: security.TypeNone, Log: opts.Log}
		return h.Run(ctx, conn, opts.Password)
	case security.TypeVeNCrypt:
		return security.VeNCryptHandler{}.Run(ctx, conn, opts.Password)
	default:
		return fmt.Errorf("unsupported security type %d", t)
	}
}

func readReasonString(ctx context.Context, conn *transport.Transport) (string, error) {
	var lenBuf [4]byte
	if err := conn.ReadBlocking(ctx, lenBuf[:]); err != nil {
		return "", fmt.Errorf("reading reason length: %w", err)
	}
	n := be32(lenBuf)
	if n > maxDesktopNameBytes {
		n = maxDesktopNameBytes
	}
	buf := make([]byte, n)
	if err := conn.ReadBlocking(ctx, buf); err != nil {
		return "", fmt.Errorf("reading reason string: %w", err)
	}
	return string(buf), nil
}

func writeClientInit(ctx context.Context, conn *transport.Transport, shared bool) error {
	var b byte
	if shared {
		b = 1
	}
	return conn.WriteBlocking(ctx, []byte{b})
}

func readServerInit(ctx context.Context, conn *transport.Transport, authType security.Type) (*Result, error) {
	var header [24]byte
	if err := conn.ReadBlocking(ctx, header[:]); err != nil {
		return nil, fmt.Errorf("reading ServerInit header: %w", err)
	}
	width := wire.ReadU16(header[0:2])
	height := wire.ReadU16(header[2:4])
	format, err := wire.DecodePixelFormat(header[4:20])
	if err != nil {
		return nil, err
	}
	nameLen := wire.ReadU32(header[20:24])

	if !format.ValidForReceive() {
		return nil, fmt.Errorf("server sent invalid pixel format in ServerInit")
	}
	if uint64(width)*uint64(height)*uint64(format.BytesPerPixel()) > maxFramebufferBytes {
		return nil, fmt.Errorf("framebuffer %dx%d at %d bytes/pixel exceeds the %d byte cap", width, height, format.BytesPerPixel(), maxFramebufferBytes)
	}

	truncatedName := nameLen > maxDesktopNameBytes
	readLen := nameLen
	if truncatedName {
		readLen = maxDesktopNameBytes
	}
	nameBuf := make([]byte, readLen)
	if err := conn.ReadBlocking(ctx, nameBuf); err != nil {
		return nil, fmt.Errorf("reading desktop name: %w", err)
	}
	if truncatedName {
		if err := discard(ctx, conn, nameLen-readLen); err != nil {
			return nil, err
		}
	}

	result := &Result{
		FramebufferWidth:    width,
		FramebufferHeight:   height,
		DesktopName:         string(nameBuf),
		DefaultPixelFormat:  format,
	}

	if authType == security.TypeTight {
		caps, err := readTightServerCapabilities(ctx, conn)
		if err != nil {
			return nil, err
		}
		result.Capabilities = *caps
	}

	return result, nil
}

func readTightServerCapabilities(ctx context.Context, conn *transport.Transport) (*ServerCapabilities, error) {
	var counts [6]byte // 3x uint16: nServerMsgs, nClientMsgs, nEncodings
	if err := conn.ReadBlocking(ctx, counts[:]); err != nil {
		return nil, fmt.Errorf("reading tight capability counts: %w", err)
	}
	nServerMsgs := int(wire.ReadU16(counts[0:2]))
	nClientMsgs := int(wire.ReadU16(counts[2:4]))
	nEncodings := int(wire.ReadU16(counts[4:6]))

	caps := &ServerCapabilities{}

	serverMsgs, err := readCapabilityList(ctx, conn, nServerMsgs, maxTightMessageCapsStored)
	if err != nil {
		return nil, fmt.Errorf("reading server-message capabilities: %w", err)
	}
	caps.ServerMessages = serverMsgs

	clientMsgs, err := readCapabilityList(ctx, conn, nClientMsgs, maxTightMessageCapsStored)
	if err != nil {
		return nil, fmt.Errorf("reading client-message capabilities: %w", err)
	}
	caps.ClientMessages = clientMsgs

	encodings, partial, err := readEncodingCapabilityList(ctx, conn, nEncodings)
	if err != nil {
		return nil, fmt.Errorf("reading encoding capabilities: %w", err)
	}
	caps.Encodings = encodings
	caps.Partial = partial

	return caps, nil
}

// readCapabilityList reads n 16-byte capability records, storing at most
// storedCap of them (discarding the remainder's bytes still, since the
// server's declared count must be fully consumed from the wire).
func readCapabilityList(ctx context.Context, conn *transport.Transport, n, storedCap int) ([]security.Capability, error) {
	if n > maxEncodingCapabilitiesRead {
		return nil, fmt.Errorf("server declared %d capabilities, exceeds read limit %d", n, maxEncodingCapabilitiesRead)
	}
	out := make([]security.Capability, 0, min(n, storedCap))
	for i := 0; i < n; i++ {
		var rec [security.CapabilityWireSize]byte
		if err := conn.ReadBlocking(ctx, rec[:]); err != nil {
			return nil, err
		}
		if len(out) < storedCap {
			c, err := security.DecodeCapability(rec[:])
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// readEncodingCapabilityList additionally guarantees the Raw encoding is
// present in the stored list, per spec.md §4.4 step 4, and reports whether
// the list was truncated by the store cap (ServerCapabilities.Partial).
func readEncodingCapabilityList(ctx context.Context, conn *transport.Transport, n int) ([]security.Capability, bool, error) {
	list, err := readCapabilityList(ctx, conn, n, maxEncodingCapabilitiesStored)
	if err != nil {
		return nil, false, err
	}
	partial := n > maxEncodingCapabilitiesStored
	hasRaw := false
	for _, c := range list {
		if c.Code == EncodingRaw {
			hasRaw = true
			break
		}
	}
	if !hasRaw {
		list = append(list, security.Capability{Code: EncodingRaw})
	}
	return list, partial, nil
}

func discard(ctx context.Context, conn *transport.Transport, n uint32) error {
	const chunk = 4096
	buf := make([]byte, chunk)
	for n > 0 {
		take := uint32(chunk)
		if take > n {
			take = n
		}
		if err := conn.ReadBlocking(ctx, buf[:take]); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

func choosePixelFormat(opts Options, serverDefault wire.PixelFormat) (wire.PixelFormat, error) {
	switch opts.Quality {
	case QualityLow:
		return wire.PresetLowRGB332(), nil
	case QualityMedium:
		return wire.PresetMediumRGB565(), nil
	case QualityBest:
		return wire.PresetBestXRGB8888(), nil
	case QualityServerDefault:
		if serverDefault.TrueColor {
			return serverDefault, nil
		}
		return wire.PresetBestXRGB8888(), nil // palette-mode formats are rejected, see spec.md §9
	case QualityCustom:
		if opts.CustomFormat.ValidForSend() && opts.CustomFormat.TrueColor {
			return opts.CustomFormat, nil
		}
		return wire.PresetBestXRGB8888(), nil
	default:
		return wire.PresetBestXRGB8888(), nil
	}
}

func writePostInitPreferences(ctx context.Context, conn *transport.Transport, format wire.PixelFormat, encodings []int32) error {
	msg := make([]byte, 0, 20)
	msg = wire.AppendU8(msg, 0) // SetPixelFormat message type
	msg = append(msg, 0, 0, 0)  // padding
	fmtBuf := make([]byte, wire.PixelFormatWireSize)
	format.Encode(fmtBuf)
	msg = append(msg, fmtBuf...)
	if err := conn.WriteBlocking(ctx, msg); err != nil {
		return fmt.Errorf("writing SetPixelFormat: %w", err)
	}

	list := encodings
	if list == nil {
		list = defaultEncodings
	}
	hasRaw := false
	for _, e := range list {
		if e == EncodingRaw {
			hasRaw = true
			break
		}
	}
	if !hasRaw {
		list = append(append([]int32{}, list...), EncodingRaw)
	}

	enc := make([]byte, 0, 4+4*len(list))
	enc = wire.AppendU8(enc, 2) // SetEncodings message type
	enc = wire.AppendU8(enc, 0) // padding
	enc = wire.AppendU16(enc, uint16(len(list)))
	for _, e := range list {
		enc = wire.AppendI32(enc, e)
	}
	if err := conn.WriteBlocking(ctx, enc); err != nil {
		return fmt.Errorf("writing SetEncodings: %w", err)
	}
	return nil
}

func be32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
