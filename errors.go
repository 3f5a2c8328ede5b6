package rfbserver

import (
	"errors"
	"fmt"
)

// ErrNeedMoreData reports that a partial buffer does not yet hold a
// complete message. Callers accumulate more transport bytes and retry;
// it never indicates a protocol violation.
var ErrNeedMoreData = errors.New("need more data")

// ErrorCode classifies server errors. Every failure is local to one
// session; no error propagates across sessions.
type ErrorCode int

const (
	// ErrTransport indicates an I/O failure on the byte stream. The
	// session terminates without retry.
	ErrTransport ErrorCode = iota
	// ErrProtocol indicates a malformed or unexpected message. A
	// desynchronized stream cannot be resynchronized, so the session
	// terminates.
	ErrProtocol
	// ErrUnsupported indicates the client requested a version, security
	// type or encoding the server cannot satisfy.
	ErrUnsupported
	// ErrInternal indicates a broken invariant inside the server, such
	// as an out-of-bounds rectangle reaching a codec. It never reaches
	// the wire.
	ErrInternal
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrTransport:
		return "transport"
	case ErrProtocol:
		return "protocol"
	case ErrUnsupported:
		return "unsupported"
	case ErrInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ServerError carries the operation and classification of a session
// failure alongside the underlying cause.
type ServerError struct {
	Op   string
	Code ErrorCode
	Err  error
}

// Error returns the formatted error message.
func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rfb %s: %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("rfb %s: %s", e.Code, e.Op)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error.
func (e *ServerError) Is(target error) bool {
	var srvErr *ServerError
	if errors.As(target, &srvErr) {
		return e.Code == srvErr.Code && (srvErr.Op == "" || e.Op == srvErr.Op)
	}
	return false
}

func serverErrorf(op string, code ErrorCode, format string, args ...interface{}) *ServerError {
	return &ServerError{Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

// MalformedMessageError reports a message that could not be parsed.
// MsgType and Offset give the state machine enough context to log the
// failure before terminating the connection.
type MalformedMessageError struct {
	MsgType uint8
	Offset  int
	Reason  string
}

// Error returns the formatted error message.
func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message type %d at offset %d: %s", e.MsgType, e.Offset, e.Reason)
}
