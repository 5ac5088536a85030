// Package workerproto encodes and decodes the in-session RFB client/server
// messages exchanged after the handshake completes: FramebufferUpdateRequest,
// KeyEvent, PointerEvent, ClientCutText outbound; FramebufferUpdate,
// SetColourMapEntries, Bell, ServerCutText inbound.
package workerproto

import (
	"context"
	"fmt"

	"github.com/openrv/govnc/internal/transport"
	"github.com/openrv/govnc/internal/wire"
)

const (
	msgFramebufferUpdateRequest = 3
	msgKeyEvent                 = 4
	msgPointerEvent             = 5
	msgClientCutText            = 6
)

// SendFramebufferUpdateRequest asks the server for a new update, either
// incremental (only changed regions) or a full repaint of the given rect.
func SendFramebufferUpdateRequest(ctx context.Context, conn *transport.Transport, incremental bool, x, y, w, h uint16) error {
	buf := make([]byte, 0, 10)
	buf = wire.AppendU8(buf, msgFramebufferUpdateRequest)
	if incremental {
		buf = wire.AppendU8(buf, 1)
	} else {
		buf = wire.AppendU8(buf, 0)
	}
	buf = wire.AppendU16(buf, x)
	buf = wire.AppendU16(buf, y)
	buf = wire.AppendU16(buf, w)
	buf = wire.AppendU16(buf, h)
	if err := conn.WriteBlocking(ctx, buf); err != nil {
		return fmt.Errorf("writing FramebufferUpdateRequest: %w", err)
	}
	return nil
}

// SendKeyEvent sends a key press/release for the given X11 keysym.
func SendKeyEvent(ctx context.Context, conn *transport.Transport, down bool, keysym uint32) error {
	buf := make([]byte, 0, 8)
	buf = wire.AppendU8(buf, msgKeyEvent)
	if down {
		buf = wire.AppendU8(buf, 1)
	} else {
		buf = wire.AppendU8(buf, 0)
	}
	buf = append(buf, 0, 0) // padding
	buf = wire.AppendU32(buf, keysym)
	if err := conn.WriteBlocking(ctx, buf); err != nil {
		return fmt.Errorf("writing KeyEvent: %w", err)
	}
	return nil
}

// ButtonMask bits, one per pointer button, OR'd together in PointerEvent.
const (
	ButtonLeft      = 1 << 0
	ButtonMiddle    = 1 << 1
	ButtonRight     = 1 << 2
	ButtonWheelUp   = 1 << 3
	ButtonWheelDown = 1 << 4
)

// SendPointerEvent sends an absolute pointer position with the current
// button mask.
func SendPointerEvent(ctx context.Context, conn *transport.Transport, buttonMask uint8, x, y uint16) error {
	buf := make([]byte, 0, 6)
	buf = wire.AppendU8(buf, msgPointerEvent)
	buf = wire.AppendU8(buf, buttonMask)
	buf = wire.AppendU16(buf, x)
	buf = wire.AppendU16(buf, y)
	if err := conn.WriteBlocking(ctx, buf); err != nil {
		return fmt.Errorf("writing PointerEvent: %w", err)
	}
	return nil
}

// maxClientCutTextBytes bounds the clipboard payload the client will send,
// mirroring the inbound ServerCutText cap (spec.md §6).
const maxClientCutTextBytes = 2 << 20

// SendClientCutText pushes local clipboard text to the server (ISO 8859-1;
// callers are responsible for transliterating Unicode beforehand).
func SendClientCutText(ctx context.Context, conn *transport.Transport, text string) error {
	if len(text) > maxClientCutTextBytes {
		text = text[:maxClientCutTextBytes]
	}
	buf := make([]byte, 0, 8+len(text))
	buf = wire.AppendU8(buf, msgClientCutText)
	buf = append(buf, 0, 0, 0) // padding
	buf = wire.AppendU32(buf, uint32(len(text)))
	buf = append(buf, text...)
	if err := conn.WriteBlocking(ctx, buf); err != nil {
		return fmt.Errorf("writing ClientCutText: %w", err)
	}
	return nil
}
