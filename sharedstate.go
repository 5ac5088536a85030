package govnc

import (
	"sync"

	"github.com/openrv/govnc/internal/handshake"
)

// ConnectionState is the worker's single state value, guarded by
// workerSharedData's mutex (spec.md §3).
type ConnectionState int

const (
	StateNotConnected ConnectionState = iota
	StateStartConnection
	StateConnectionPending
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateNotConnected:
		return "NotConnected"
	case StateStartConnection:
		return "StartConnection"
	case StateConnectionPending:
		return "ConnectionPending"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

type inputKind int

const (
	inputKey inputKind = iota
	inputPointer
)

// inputIntent is one queued key or pointer event; key and pointer events
// share a single queue so down/up timing relative to motion is preserved
// exactly as the host submitted it (spec.md §4.6 "preserving submission
// order").
type inputIntent struct {
	kind inputKind

	keyDown   bool
	keysym    uint32

	buttonMask uint8
	x, y       uint16
}

// workerSharedData is the single cross-thread cell between the host
// context and the worker goroutine, behind one mutex, per spec.md §3/§5.
// Every field is touched only while mu is held; the worker copies out what
// it needs before any call that may suspend.
type workerSharedData struct {
	mu sync.Mutex

	state  ConnectionState
	config ConnectionConfig

	userRequestedDisconnect bool
	wantQuitThread          bool

	requestPixelFormat       bool
	requestFramebufferUpdate bool
	fbUpdateIncremental      bool
	fbUpdateX, fbUpdateY     uint16
	fbUpdateW, fbUpdateH     uint16

	queuedInputs []inputIntent

	viewOnly bool

	negotiatedFormat PixelFormat
	capabilities     handshake.ServerCapabilities

	bytesSent, bytesReceived uint64

	fbUpdateInFlight bool
}

func newWorkerSharedData() *workerSharedData {
	return &workerSharedData{state: StateNotConnected}
}

func (s *workerSharedData) snapshotState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *workerSharedData) isConnected() bool {
	return s.snapshotState() == StateConnected
}

func (s *workerSharedData) setViewOnly(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewOnly = v
}

func (s *workerSharedData) isViewOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewOnly
}

// requestConnect transitions NotConnected -> StartConnection with the
// given config; it is a no-op (returns false) if a connection is already
// active.
func (s *workerSharedData) requestConnect(cfg ConnectionConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotConnected {
		return false
	}
	s.config = cfg
	s.state = StateStartConnection
	s.userRequestedDisconnect = false
	return true
}

// requestDisconnect sets the abort flag the worker observes at its next
// wait() return; wake must still be signalled by the caller.
func (s *workerSharedData) requestDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRequestedDisconnect = true
}

func (s *workerSharedData) requestQuit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wantQuitThread = true
	s.userRequestedDisconnect = true
}

// queueFramebufferUpdateRequest merges with any already-pending request:
// a full (non-incremental) request upgrades a pending incremental one, but
// not the reverse, matching "collapse into the most recent" semantics
// applied conservatively for this single-outstanding-request case.
func (s *workerSharedData) queueFramebufferUpdateRequest(incremental bool, x, y, w, h uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if incremental && s.requestFramebufferUpdate && !s.fbUpdateIncremental {
		return // keep the pending full request
	}
	s.requestFramebufferUpdate = true
	s.fbUpdateIncremental = incremental
	s.fbUpdateX, s.fbUpdateY, s.fbUpdateW, s.fbUpdateH = x, y, w, h
}

func (s *workerSharedData) queuePixelFormatChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestPixelFormat = true
}

// queueKeyEvent drops the event silently when view-only is set, per
// spec.md §4.6.
func (s *workerSharedData) queueKeyEvent(down bool, keysym uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewOnly {
		return
	}
	s.queuedInputs = append(s.queuedInputs, inputIntent{kind: inputKey, keyDown: down, keysym: keysym})
}

// queuePointerEvent clamps the coordinates into the framebuffer rectangle
// before queueing, per spec.md §4.6.
func (s *workerSharedData) queuePointerEvent(buttonMask uint8, x, y uint16, fbWidth, fbHeight uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewOnly {
		return
	}
	if fbWidth > 0 && x >= fbWidth {
		x = fbWidth - 1
	}
	if fbHeight > 0 && y >= fbHeight {
		y = fbHeight - 1
	}
	s.queuedInputs = append(s.queuedInputs, inputIntent{kind: inputPointer, buttonMask: buttonMask, x: x, y: y})
}

// drainedIntents holds what drain copies out (and clears) of the flags/queue
// the worker is about to act on, per spec.md §4.6 step 1.
type drainedIntents struct {
	state ConnectionState
	config ConnectionConfig

	abort    bool
	wantQuit bool

	requestPixelFormat       bool
	requestFramebufferUpdate bool
	fbUpdateIncremental      bool
	fbUpdateX, fbUpdateY     uint16
	fbUpdateW, fbUpdateH     uint16

	inputs []inputIntent

	negotiatedFormat PixelFormat
}

func (s *workerSharedData) drain() drainedIntents {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := drainedIntents{
		state:                    s.state,
		config:                   s.config,
		abort:                    s.userRequestedDisconnect,
		wantQuit:                 s.wantQuitThread,
		requestPixelFormat:       s.requestPixelFormat && !s.fbUpdateInFlight,
		requestFramebufferUpdate: s.requestFramebufferUpdate && !s.fbUpdateInFlight,
		fbUpdateIncremental:      s.fbUpdateIncremental,
		fbUpdateX:                s.fbUpdateX,
		fbUpdateY:                s.fbUpdateY,
		fbUpdateW:                s.fbUpdateW,
		fbUpdateH:                s.fbUpdateH,
		inputs:                   s.queuedInputs,
		negotiatedFormat:         s.negotiatedFormat,
	}
	if d.requestPixelFormat {
		s.requestPixelFormat = false
	}
	if d.requestFramebufferUpdate {
		s.requestFramebufferUpdate = false
		s.fbUpdateInFlight = true
	}
	s.queuedInputs = nil
	return d
}

func (s *workerSharedData) setState(state ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *workerSharedData) setConnected(format PixelFormat, caps handshake.ServerCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	s.negotiatedFormat = format
	s.capabilities = caps
}

func (s *workerSharedData) markUpdateFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fbUpdateInFlight = false
}

func (s *workerSharedData) addBytes(sent, received uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesSent += sent
	s.bytesReceived += received
}

func (s *workerSharedData) byteCounters() (sent, received uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent, s.bytesReceived
}

func (s *workerSharedData) snapshotCapabilities() handshake.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}
