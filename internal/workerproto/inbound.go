package workerproto

import (
	"fmt"

	"github.com/openrv/govnc/internal/decoder"
	"github.com/openrv/govnc/internal/wire"
)

const (
	MsgFramebufferUpdate   = 0
	MsgSetColourMapEntries = 1
	MsgBell                = 2
	MsgServerCutText       = 3
)

// maxServerCutTextBytes bounds a single ServerCutText payload (spec.md §4.6).
const maxServerCutTextBytes = 2 << 20

// InboundKind tags the top-level server-to-client message an InboundEvent
// completes.
type InboundKind int

const (
	InboundFramebufferUpdate InboundKind = iota
	InboundBell
	InboundCutText
	InboundColourMap
)

// InboundEvent is emitted once a complete top-level server message has been
// parsed out of the stream.
type InboundEvent struct {
	Kind  InboundKind
	Rects []decoder.UpdatedRect // InboundFramebufferUpdate only
	Text  string                // InboundCutText only
}

// streamState is the top-level message-framing state, tracked across Feed
// calls alongside whatever sub-parser (Dispatcher, a colour-map skip, a
// cut-text accumulation) is currently active.
type streamState int

const (
	stMsgType streamState = iota
	stFramebufferUpdate
	stColourHeader
	stColourPayload
	stCutTextHeader
	stCutTextPayload
)

// InboundStream parses the post-handshake server-to-client message stream
// from whatever chunks of bytes happen to be available, never requiring a
// whole message to be buffered before making progress (spec.md §4.2: "the
// currently active message parser keeps state and consumes partial
// buffers"). FramebufferUpdate framing and rectangle decoding is delegated
// to the decoder.Dispatcher installed at construction; the other three
// message kinds are simple enough to track directly here.
type InboundStream struct {
	dispatcher *decoder.Dispatcher

	state streamState

	colourHdr    [5]byte // 1 padding + uint16 firstColour + uint16 numColours
	colourHdrGot int
	colourRemain int

	cutHdr     [7]byte // 3 padding + uint32 length
	cutHdrGot  int
	cutRemain  uint32 // bytes of the real payload still to read into cutBuf
	cutDiscard uint32 // bytes beyond maxServerCutTextBytes still to discard
	cutBuf     []byte
}

func NewInboundStream(dispatcher *decoder.Dispatcher) *InboundStream {
	return &InboundStream{dispatcher: dispatcher, state: stMsgType}
}

// Feed consumes as much of buf as currently forms complete top-level
// messages, returning how many bytes it consumed and one InboundEvent per
// message it finishes. Bytes belonging to a message still in flight are
// retained internally via consumed < len(buf); the caller must keep
// whatever it didn't consume and pass it back (with more appended) on the
// next call.
func (s *InboundStream) Feed(buf []byte) (consumed int, events []InboundEvent, err error) {
	for {
		switch s.state {
		case stMsgType:
			if consumed >= len(buf) {
				return consumed, events, nil
			}
			msgType := buf[consumed]
			consumed++
			switch msgType {
			case MsgFramebufferUpdate:
				s.dispatcher.BeginFramebufferUpdate()
				s.state = stFramebufferUpdate
			case MsgSetColourMapEntries:
				s.state = stColourHeader
				s.colourHdrGot = 0
			case MsgBell:
				events = append(events, InboundEvent{Kind: InboundBell})
			case MsgServerCutText:
				s.state = stCutTextHeader
				s.cutHdrGot = 0
			default:
				return consumed, events, fmt.Errorf("unsupported server message type %d", msgType)
			}

		case stFramebufferUpdate:
			n, done, ferr := s.dispatcher.Feed(buf[consumed:])
			consumed += n
			if ferr != nil {
				return consumed, events, ferr
			}
			if !done {
				return consumed, events, nil
			}
			events = append(events, InboundEvent{Kind: InboundFramebufferUpdate, Rects: s.dispatcher.PendingRects()})
			s.state = stMsgType

		case stColourHeader:
			if consumed >= len(buf) {
				return consumed, events, nil
			}
			n := copy(s.colourHdr[s.colourHdrGot:], buf[consumed:])
			s.colourHdrGot += n
			consumed += n
			if s.colourHdrGot < len(s.colourHdr) {
				return consumed, events, nil
			}
			numColours := int(wire.ReadU16(s.colourHdr[3:5]))
			s.colourRemain = numColours * 6 // 3x uint16 per entry
			s.state = stColourPayload

		case stColourPayload:
			// The client only ever negotiates a true-colour pixel format,
			// so palette entries carry no usable information; they must
			// still be fully read off the wire.
			if s.colourRemain == 0 {
				events = append(events, InboundEvent{Kind: InboundColourMap})
				s.state = stMsgType
				continue
			}
			if consumed >= len(buf) {
				return consumed, events, nil
			}
			take := len(buf) - consumed
			if take > s.colourRemain {
				take = s.colourRemain
			}
			consumed += take
			s.colourRemain -= take

		case stCutTextHeader:
			if consumed >= len(buf) {
				return consumed, events, nil
			}
			n := copy(s.cutHdr[s.cutHdrGot:], buf[consumed:])
			s.cutHdrGot += n
			consumed += n
			if s.cutHdrGot < len(s.cutHdr) {
				return consumed, events, nil
			}
			length := wire.ReadU32(s.cutHdr[3:7])
			if length > maxServerCutTextBytes {
				s.cutRemain = maxServerCutTextBytes
				s.cutDiscard = length - maxServerCutTextBytes
			} else {
				s.cutRemain = length
				s.cutDiscard = 0
			}
			s.cutBuf = make([]byte, 0, s.cutRemain)
			s.state = stCutTextPayload

		case stCutTextPayload:
			if s.cutRemain == 0 && s.cutDiscard == 0 {
				events = append(events, InboundEvent{Kind: InboundCutText, Text: string(s.cutBuf)})
				s.cutBuf = nil
				s.state = stMsgType
				continue
			}
			if consumed >= len(buf) {
				return consumed, events, nil
			}
			if s.cutRemain > 0 {
				take := uint32(len(buf) - consumed)
				if take > s.cutRemain {
					take = s.cutRemain
				}
				s.cutBuf = append(s.cutBuf, buf[consumed:consumed+int(take)]...)
				consumed += int(take)
				s.cutRemain -= take
				continue
			}
			take := uint32(len(buf) - consumed)
			if take > s.cutDiscard {
				take = s.cutDiscard
			}
			consumed += int(take)
			s.cutDiscard -= take
		}
	}
}
