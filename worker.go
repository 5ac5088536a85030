package govnc

import (
	"context"
	"time"

	"github.com/openrv/govnc/internal/decoder"
	"github.com/openrv/govnc/internal/handshake"
	"github.com/openrv/govnc/internal/metrics"
	"github.com/openrv/govnc/internal/security"
	"github.com/openrv/govnc/internal/transport"
	"github.com/openrv/govnc/internal/wire"
	"github.com/openrv/govnc/internal/workerproto"
)

// connectTimeout bounds the dial+handshake for one connect attempt.
const connectTimeout = 20 * time.Second

// inboundRingCapacity bounds how far the worker can fall behind draining
// the socket before ReadAvailable's output is rejected outright, per
// spec.md §4.2's 1 MiB ring.
const inboundRingCapacity = 1 << 20

// inboundReadChunk is the size of a single ReadAvailable call; it only
// bounds one syscall's worth of buffering; data the caller doesn't have is
// simply left on the socket for the next call.
const inboundReadChunk = 64 * 1024

// worker is the one goroutine per Context that owns the socket, runs the
// handshake, and multiplexes outbound intents with inbound server
// messages, per spec.md §4.6.
type worker struct {
	shared *workerSharedData
	sink   eventSink
	wake   *transport.Notifier
	fb     *decoder.Framebuffer
	cursor *decoder.Cursor
	log    Logger

	conn       *transport.Transport
	dispatcher *decoder.Dispatcher

	inboundRing   *transport.Ring
	inboundStream *workerproto.InboundStream

	lastBytesSent, lastBytesReceived uint64

	done chan struct{}
}

// syncByteCounters folds the transport's own cumulative counters into the
// shared byte counters and the metrics package, reporting only the delta
// since the previous call (the transport counters never reset across a
// connection's lifetime).
func (w *worker) syncByteCounters() {
	if w.conn == nil {
		return
	}
	sent, received := w.conn.BytesSent(), w.conn.BytesReceived()
	dSent, dReceived := sent-w.lastBytesSent, received-w.lastBytesReceived
	w.lastBytesSent, w.lastBytesReceived = sent, received
	if dSent == 0 && dReceived == 0 {
		return
	}
	w.shared.addBytes(dSent, dReceived)
	metrics.ObserveBytes(dSent, dReceived)
}

func newWorker(shared *workerSharedData, sink eventSink, fb *decoder.Framebuffer, cursor *decoder.Cursor, log Logger) *worker {
	return &worker{
		shared: shared,
		sink:   sink,
		wake:   transport.NewNotifier(),
		fb:     fb,
		cursor: cursor,
		log:    log,
		done:   make(chan struct{}),
	}
}

func (w *worker) emit(e Event) {
	w.sink.push(e)
}

// run is the worker's main loop; one instance runs for the lifetime of a
// Context, started at construction and joined at destruction.
func (w *worker) run() {
	defer close(w.done)
	w.emit(Event{Kind: EventThreadStarted, ThreadName: "govnc-worker"})

	for {
		d := w.shared.drain()

		if d.wantQuit {
			if w.conn != nil {
				w.teardown(true, nil)
			}
			w.emit(Event{Kind: EventThreadAboutToStop, ThreadName: "govnc-worker"})
			return
		}

		if d.abort {
			switch d.state {
			case StateStartConnection, StateConnectionPending:
				w.emit(Event{Kind: EventConnectResult, Host: d.config.Host, Port: d.config.Port, OK: false,
					Err: NewError(ErrUserInterruption, 0, "connection attempt cancelled by host")})
				w.emit(Event{Kind: EventDisconnected, Host: d.config.Host, Port: d.config.Port, Graceful: true})
				w.shared.setState(StateNotConnected)
			case StateConnected:
				w.teardown(true, nil)
				w.shared.setState(StateNotConnected)
			}
			w.clearAbort()
			continue
		}

		switch d.state {
		case StateNotConnected:
			if err := w.wake.Wait(context.Background()); err != nil {
				return
			}
		case StateStartConnection:
			w.runConnect(d.config)
		case StateConnected:
			w.runConnected(d)
		}
	}
}

func (w *worker) clearAbort() {
	w.shared.mu.Lock()
	w.shared.userRequestedDisconnect = false
	w.shared.mu.Unlock()
}

// runConnect performs the dial + handshake synchronously on the worker
// goroutine. A watcher goroutine cancels the attempt's context if the host
// signals disconnect/quit while it's in flight.
func (w *worker) runConnect(cfg ConnectionConfig) {
	if verr := cfg.validate(); verr != nil {
		metrics.ObserveConnect(cfg.Host, false)
		w.emit(Event{Kind: EventConnectResult, Host: cfg.Host, Port: cfg.Port, OK: false, Err: verr})
		w.emit(Event{Kind: EventDisconnected, Host: cfg.Host, Port: cfg.Port, Graceful: false, Err: verr})
		w.shared.setState(StateNotConnected)
		return
	}

	w.shared.setState(StateConnectionPending)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-w.wake.C():
			cancel()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	conn, err := w.dial(ctx, cfg)
	if err != nil {
		metrics.ObserveConnect(cfg.Host, false)
		cerr := NewError(ErrGeneric, 0, "%s", err.Error())
		w.emit(Event{Kind: EventConnectResult, Host: cfg.Host, Port: cfg.Port, OK: false, Err: cerr})
		w.emit(Event{Kind: EventDisconnected, Host: cfg.Host, Port: cfg.Port, Graceful: false, Err: cerr})
		w.shared.setState(StateNotConnected)
		return
	}

	opts := handshake.Options{
		Password:     cfg.Password,
		Shared:       cfg.Shared,
		Quality:      cfg.Quality,
		CustomFormat: cfg.CustomFormat,
		Encodings:    cfg.Encodings,
		LenientCoRRE: cfg.LenientCoRRE,
		ServerName:   cfg.Host,
		Log:          func(format string, args ...any) { logWarn(w.log, format, args...) },
	}
	result, err := handshake.Run(ctx, conn, opts)
	if err != nil {
		_ = conn.Close()
		metrics.ObserveConnect(cfg.Host, false)
		cerr := NewError(ErrProtocolError, 0, "%s", err.Error())
		w.emit(Event{Kind: EventConnectResult, Host: cfg.Host, Port: cfg.Port, OK: false, Err: cerr})
		w.emit(Event{Kind: EventDisconnected, Host: cfg.Host, Port: cfg.Port, Graceful: false, Err: cerr})
		w.shared.setState(StateNotConnected)
		return
	}

	w.conn = conn
	w.lastBytesSent, w.lastBytesReceived = conn.BytesSent(), conn.BytesReceived()
	w.fb.Resize(result.FramebufferWidth, result.FramebufferHeight)
	w.cursor.Set(0, 0, 0, 0, nil)
	w.dispatcher = decoder.NewDispatcher(w.fb, w.cursor, result.NegotiatedPixelFormat, cfg.LenientCoRRE)
	w.inboundRing = transport.NewRing(inboundRingCapacity)
	w.inboundStream = workerproto.NewInboundStream(w.dispatcher)

	w.shared.setConnected(result.NegotiatedPixelFormat, result.Capabilities)
	metrics.ObserveConnect(cfg.Host, true)
	w.emit(Event{
		Kind: EventConnectResult, Host: cfg.Host, Port: cfg.Port, OK: true,
		FramebufferWidth: result.FramebufferWidth, FramebufferHeight: result.FramebufferHeight,
		DesktopName: result.DesktopName, PixelFormat: result.NegotiatedPixelFormat,
		AuthType: uint8(result.AuthType), AuthTypeName: connectSecurityTypeName(result.AuthType),
	})
}

func (w *worker) dial(ctx context.Context, cfg ConnectionConfig) (*transport.Transport, error) {
	switch cfg.Scheme {
	case SchemeWebSocket, SchemeWebSocketTLS:
		dialer := transport.NewWSDialer(cfg.Host, cfg.Port, cfg.WebSocketPath, cfg.Scheme == SchemeWebSocketTLS)
		return dialer.DialContext(ctx)
	default:
		return transport.Dial(ctx, transport.DialOptions{Host: cfg.Host, Port: cfg.Port, Timeout: connectTimeout, Fwmark: cfg.Fwmark})
	}
}

// runConnected writes any pending outbound messages, then waits for
// readability or the wake channel, then drains whatever arrived into the
// inbound ring and feeds it to the resumable stream parser, per
// spec.md §4.2/§4.6 step 3's Connected case. Each call does at most one
// bounded Wait and one bounded ReadAvailable: a FramebufferUpdate too large
// or slow to arrive in one read never stops the worker from coming back
// around the outer loop to notice a queued outbound intent, a quit, or a
// user-initiated disconnect.
func (w *worker) runConnected(d drainedIntents) {
	ctx := context.Background()

	if d.requestPixelFormat {
		fmtBuf := make([]byte, wire.PixelFormatWireSize)
		d.negotiatedFormat.Encode(fmtBuf)
		msg := make([]byte, 0, 4+len(fmtBuf))
		msg = wire.AppendU8(msg, 0)
		msg = append(msg, 0, 0, 0)
		msg = append(msg, fmtBuf...)
		if err := w.conn.WriteBlocking(ctx, msg); err != nil {
			w.syncByteCounters()
			w.failConnected(err)
			return
		}
		w.dispatcher.SetPixelFormat(d.negotiatedFormat)
	}

	if d.requestFramebufferUpdate {
		if err := workerproto.SendFramebufferUpdateRequest(ctx, w.conn, d.fbUpdateIncremental, d.fbUpdateX, d.fbUpdateY, d.fbUpdateW, d.fbUpdateH); err != nil {
			w.syncByteCounters()
			w.failConnected(err)
			return
		}
	}

	for _, in := range d.inputs {
		var err error
		switch in.kind {
		case inputKey:
			err = workerproto.SendKeyEvent(ctx, w.conn, in.keyDown, in.keysym)
		case inputPointer:
			err = workerproto.SendPointerEvent(ctx, w.conn, in.buttonMask, in.x, in.y)
		}
		if err != nil {
			w.syncByteCounters()
			w.failConnected(err)
			return
		}
	}
	w.syncByteCounters()

	result, err := w.conn.Wait(ctx, transport.WaitRead, 1*time.Second)
	if err != nil {
		w.failConnected(err)
		return
	}
	if result != transport.Signalled {
		return
	}

	var scratch [inboundReadChunk]byte
	n, rerr := w.conn.ReadAvailable(scratch[:])
	if n > 0 {
		if aerr := w.inboundRing.Append(scratch[:n]); aerr != nil {
			w.syncByteCounters()
			w.failConnected(aerr)
			return
		}
	}
	w.syncByteCounters()
	if rerr != nil {
		w.failConnected(rerr)
		return
	}

	if err := w.pumpInbound(); err != nil {
		w.failConnected(err)
		return
	}
}

// pumpInbound feeds whatever is currently buffered in the ring through the
// inbound stream parser and emits events for every top-level message it
// completes, discarding only the bytes the parser actually consumed. A
// message left incomplete (buf exhausted mid-rectangle, mid-header, etc.)
// just waits for the ring to gain more bytes on a future call; it never
// blocks here.
func (w *worker) pumpInbound() error {
	consumed, events, err := w.inboundStream.Feed(w.inboundRing.Bytes())
	w.inboundRing.Discard(consumed)
	if err != nil {
		return err
	}
	for _, ev := range events {
		switch ev.Kind {
		case workerproto.InboundFramebufferUpdate:
			for _, r := range ev.Rects {
				metrics.ObserveRect(decoder.EncodingName(r.Encoding))
				w.emit(Event{Kind: EventFramebufferUpdated, X: r.X, Y: r.Y, W: r.W, H: r.H})
			}
			w.emit(Event{Kind: EventFramebufferUpdateRequestFinished})
			w.shared.markUpdateFinished()
		case workerproto.InboundBell:
			w.emit(Event{Kind: EventBell})
		case workerproto.InboundCutText:
			w.emit(Event{Kind: EventCutText, Text: ev.Text})
		case workerproto.InboundColourMap:
			logDebug(w.log, "ignoring SetColourMapEntries (client is always true-colour)")
		}
	}
	return nil
}

func (w *worker) failConnected(err error) {
	w.teardown(false, NewError(ErrClosedByRemote, 0, "%s", err.Error()))
	w.shared.setState(StateNotConnected)
}

func (w *worker) teardown(graceful bool, cause *Error) {
	if w.conn != nil {
		_ = w.conn.Close()
	}
	if w.dispatcher != nil {
		w.dispatcher.ResetConnection()
	}
	w.shared.mu.Lock()
	host, port := w.shared.config.Host, w.shared.config.Port
	w.shared.mu.Unlock()
	w.conn = nil
	w.dispatcher = nil
	w.inboundRing = nil
	w.inboundStream = nil
	reason := "graceful"
	if !graceful {
		reason = "error"
	}
	metrics.ObserveDisconnect(host, reason)
	w.emit(Event{Kind: EventDisconnected, Host: host, Port: port, Graceful: graceful, Err: cause})
}

// connectSecurityTypeName exposes the negotiated security type to the host
// surface without leaking the internal security package.
func connectSecurityTypeName(t security.Type) string {
	switch t {
	case security.TypeNone:
		return "None"
	case security.TypeVNCAuth:
		return "VNCAuth"
	case security.TypeTight:
		return "Tight"
	case security.TypeAnonymousTLS:
		return "AnonymousTLS"
	case security.TypeVeNCrypt:
		return "VeNCrypt"
	default:
		return "Unknown"
	}
}
