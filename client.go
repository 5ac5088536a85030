// Package govnc is an embeddable RFB/VNC client core: a connection worker
// that negotiates the protocol, decodes the framebuffer stream, and
// delivers input events in the reverse direction. It does not render
// anything; the host owns the display surface and input devices.
package govnc

import (
	"github.com/openrv/govnc/internal/decoder"
	"github.com/openrv/govnc/internal/handshake"
	"github.com/openrv/govnc/internal/keymap"
	"github.com/openrv/govnc/internal/wire"
)

// EventMode selects how the worker hands events to the host (spec.md §6).
type EventMode int

const (
	EventModePolling EventMode = iota
	EventModeCallback
)

// ContextOptions configures a Context at construction.
type ContextOptions struct {
	Log       Logger
	EventMode EventMode
	// Callback is invoked inline from the worker goroutine for every event
	// when EventMode is EventModeCallback. It must not block.
	Callback func(Event)
}

const maxUserDataSlots = 5

// Context is the root object a host interacts with: one worker, one event
// sink, and opaque user-data slots, per spec.md §3.
type Context struct {
	shared *workerSharedData
	worker *worker
	sink   eventSink
	fb     *decoder.Framebuffer
	cursor *decoder.Cursor
	log    Logger

	userData [maxUserDataSlots]any
}

// New constructs a Context and starts its worker goroutine.
func New(opts ContextOptions) *Context {
	log := opts.Log
	if log == nil {
		log = defaultLogger
	}

	var sink eventSink
	switch opts.EventMode {
	case EventModeCallback:
		if opts.Callback == nil {
			panic("govnc: EventModeCallback requires a non-nil Callback")
		}
		sink = &callbackSink{fn: opts.Callback}
	default:
		sink = newPollingSink()
	}

	c := &Context{
		shared: newWorkerSharedData(),
		sink:   sink,
		fb:     &decoder.Framebuffer{},
		cursor: &decoder.Cursor{},
		log:    log,
	}
	c.worker = newWorker(c.shared, c.sink, c.fb, c.cursor, log)
	go c.worker.run()
	return c
}

// Destroy requests the worker stop and blocks until it has joined. The
// Context must not be used afterward.
func (c *Context) Destroy() {
	c.shared.requestQuit()
	c.worker.wake.Signal()
	<-c.worker.done
}

// Connect starts a connection attempt; the result arrives as a
// ConnectResult event. Returns an error immediately only if a connection
// is already active.
func (c *Context) Connect(cfg ConnectionConfig) *Error {
	if !c.shared.requestConnect(cfg) {
		return NewError(ErrGeneric, 0, "a connection is already active")
	}
	c.worker.wake.Signal()
	return nil
}

// Disconnect requests the active connection (or in-flight connect
// attempt) be torn down. Safe to call when not connected.
func (c *Context) Disconnect() {
	c.shared.requestDisconnect()
	c.worker.wake.Signal()
}

func (c *Context) IsConnected() bool {
	return c.shared.isConnected()
}

func (c *Context) State() ConnectionState {
	return c.shared.snapshotState()
}

// RequestFramebufferUpdate asks the server for an incremental update
// covering the given rectangle.
func (c *Context) RequestFramebufferUpdate(x, y, w, h uint16) {
	c.shared.queueFramebufferUpdateRequest(true, x, y, w, h)
	c.worker.wake.Signal()
}

// RequestFramebufferUpdateFull asks for a full (non-incremental) repaint
// of the given rectangle.
func (c *Context) RequestFramebufferUpdateFull(x, y, w, h uint16) {
	c.shared.queueFramebufferUpdateRequest(false, x, y, w, h)
	c.worker.wake.Signal()
}

// SetQuality changes the requested pixel format; takes effect on the next
// Connected-state iteration once no update is in flight (spec.md §3).
func (c *Context) SetQuality(quality QualityProfile, custom PixelFormat) {
	c.shared.mu.Lock()
	c.shared.config.Quality = quality
	c.shared.config.CustomFormat = custom
	c.shared.mu.Unlock()
	format, err := chooseRuntimePixelFormat(quality, custom)
	if err == nil {
		c.shared.mu.Lock()
		c.shared.negotiatedFormat = format
		c.shared.mu.Unlock()
	}
	c.shared.queuePixelFormatChange()
	c.worker.wake.Signal()
}

// chooseRuntimePixelFormat mirrors the handshake's initial-format choice
// (handshake.choosePixelFormat) for mid-session quality changes, where
// there is no fresh ServerDefault to fall back on; ServerDefault and an
// invalid Custom format both fall back to Best.
func chooseRuntimePixelFormat(quality QualityProfile, custom PixelFormat) (PixelFormat, error) {
	switch quality {
	case QualityLow:
		return wire.PresetLowRGB332(), nil
	case QualityMedium:
		return wire.PresetMediumRGB565(), nil
	case QualityCustom:
		if custom.ValidForSend() && custom.TrueColor {
			return custom, nil
		}
		return wire.PresetBestXRGB8888(), nil
	default:
		return wire.PresetBestXRGB8888(), nil
	}
}

// PollEvent dequeues the next event in polling mode; returns ok=false if
// the queue is empty or the Context is in callback mode.
func (c *Context) PollEvent() (Event, bool) {
	ps, ok := c.sink.(*pollingSink)
	if !ok {
		return Event{}, false
	}
	return ps.poll()
}

// SendKeyEvent queues a key press/release, dropped silently if view-only.
func (c *Context) SendKeyEvent(down bool, keysym uint32) {
	c.shared.queueKeyEvent(down, keysym)
	c.worker.wake.Signal()
}

// SendKeyEventUnicode queues a key press/release for the X11 keysym that
// corresponds to the given Unicode code point; ok is false if r has no
// known keysym mapping, in which case nothing is queued.
func (c *Context) SendKeyEventUnicode(down bool, r rune) (ok bool) {
	keysym, ok := keymap.ToKeysym(r)
	if !ok {
		return false
	}
	c.SendKeyEvent(down, keysym)
	return true
}

// SendPointerEvent queues an absolute pointer update, clamped to the
// current framebuffer size and dropped silently if view-only.
func (c *Context) SendPointerEvent(buttonMask uint8, x, y uint16) {
	width, height, _, _ := c.fb.Snapshot()
	c.shared.queuePointerEvent(buttonMask, x, y, width, height)
	c.worker.wake.Signal()
}

// AcquireFramebuffer returns a snapshot of the current framebuffer: width,
// height, RGB888 pixels, and a monotonic sequence number. Safe to call
// concurrently with the worker; blocks only as long as the copy itself.
func (c *Context) AcquireFramebuffer() (width, height uint16, pixels []byte, sequence uint64) {
	return c.fb.Snapshot()
}

// AcquireCursor returns a snapshot of the current cursor shape.
func (c *Context) AcquireCursor() decoder.Cursor {
	return c.cursor.Snapshot()
}

func (c *Context) SetViewOnly(v bool) {
	c.shared.setViewOnly(v)
}

func (c *Context) IsViewOnly() bool {
	return c.shared.isViewOnly()
}

// SetUserData stores an opaque value in one of the host's reserved slots.
func (c *Context) SetUserData(slot int, v any) {
	if slot < 0 || slot >= maxUserDataSlots {
		return
	}
	c.userData[slot] = v
}

func (c *Context) GetUserData(slot int) any {
	if slot < 0 || slot >= maxUserDataSlots {
		return nil
	}
	return c.userData[slot]
}

// ByteCounters returns cumulative bytes sent/received on the current or
// most recent connection.
func (c *Context) ByteCounters() (sent, received uint64) {
	return c.shared.byteCounters()
}

// Capabilities returns the most recently negotiated server capabilities.
func (c *Context) Capabilities() handshake.ServerCapabilities {
	return c.shared.snapshotCapabilities()
}
