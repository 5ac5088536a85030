package govnc

import "fmt"

// Code identifies the class of failure reported to the host, mirroring
// orv_error_code_t from the original library's public header.
type Code int

const (
	ErrNone Code = 0

	ErrUserInterruption Code = 2

	// Connect-time errors.
	ErrGeneric            Code = 10
	ErrNoSuchHost         Code = 11
	ErrConnectionRefused  Code = 12
	ErrHostUnreachable    Code = 13
	ErrTimeout            Code = 14
	ErrProtocolError      Code = 15
	ErrAuthFailed         Code = 16
	ErrServerRejects      Code = 17
	ErrSslHandshake       Code = 18

	// In-session errors.
	ErrReadFailed         Code = 100
	ErrWriteFailed        Code = 101
	ErrSessionProtocol    Code = 102
	ErrClosedByRemote     Code = 103
	ErrUnsupportedEncoding Code = 120
	ErrInvalidEncoding     Code = 121
)

func (c Code) String() string {
	switch c {
	case ErrNone:
		return "NoError"
	case ErrUserInterruption:
		return "UserInterruption"
	case ErrGeneric:
		return "Generic"
	case ErrNoSuchHost:
		return "NoSuchHost"
	case ErrConnectionRefused:
		return "ConnectionRefused"
	case ErrHostUnreachable:
		return "HostUnreachable"
	case ErrTimeout:
		return "Timeout"
	case ErrProtocolError:
		return "ProtocolError"
	case ErrAuthFailed:
		return "AuthFailed"
	case ErrServerRejects:
		return "ServerRejects"
	case ErrSslHandshake:
		return "SslHandshake"
	case ErrReadFailed:
		return "ReadFailed"
	case ErrWriteFailed:
		return "WriteFailed"
	case ErrSessionProtocol:
		return "ProtocolError"
	case ErrClosedByRemote:
		return "ClosedByRemote"
	case ErrUnsupportedEncoding:
		return "UnsupportedEncoding"
	case ErrInvalidEncoding:
		return "InvalidEncoding"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is the value-typed failure carried by any fallible operation in the
// core, modelled on orv_error_t: a primary code, a library-specific
// sub-code, and a bounded human-readable message.
type Error struct {
	Code    Code
	SubCode int
	Message string
}

const maxErrorMessageBytes = 1024

func NewError(code Code, subCode int, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxErrorMessageBytes {
		msg = msg[:maxErrorMessageBytes]
	}
	return &Error{Code: code, SubCode: subCode, Message: msg}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (sub=%d): %s", e.Code, e.SubCode, e.Message)
}

// WrapError preserves code/subcode while attaching additional wire context,
// following the teacher's fmt.Errorf("...: %w", err) wrapping idiom.
func WrapError(base *Error, format string, args ...any) *Error {
	if base == nil {
		return nil
	}
	return NewError(base.Code, base.SubCode, "%s: %s", fmt.Sprintf(format, args...), base.Message)
}
