package rfbserver

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestServerErrorFormatting(t *testing.T) {
	err := &ServerError{Op: "version", Code: ErrProtocol, Err: io.ErrUnexpectedEOF}
	msg := err.Error()
	for _, want := range []string{"protocol", "version", io.ErrUnexpectedEOF.Error()} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	bare := &ServerError{Op: "auth", Code: ErrUnsupported}
	if msg := bare.Error(); !strings.Contains(msg, "auth") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestServerErrorUnwrap(t *testing.T) {
	err := serverErrorf("read", ErrTransport, "wrapped: %w", io.EOF)
	if !errors.Is(err, io.EOF) {
		t.Error("wrapped cause not reachable through Unwrap")
	}
}

func TestServerErrorIs(t *testing.T) {
	err := serverErrorf("set-pixel-format", ErrUnsupported, "mismatch")

	if !errors.Is(err, &ServerError{Code: ErrUnsupported}) {
		t.Error("code-only target did not match")
	}
	if !errors.Is(err, &ServerError{Op: "set-pixel-format", Code: ErrUnsupported}) {
		t.Error("op+code target did not match")
	}
	if errors.Is(err, &ServerError{Code: ErrTransport}) {
		t.Error("different code matched")
	}
	if errors.Is(err, &ServerError{Op: "dispatch", Code: ErrUnsupported}) {
		t.Error("different op matched")
	}
}

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrTransport, "transport"},
		{ErrProtocol, "protocol"},
		{ErrUnsupported, "unsupported"},
		{ErrInternal, "internal"},
		{ErrorCode(42), "unknown"},
	}
	for _, tt := range tests {
		if got := fmt.Sprint(tt.code); got != tt.want {
			t.Errorf("ErrorCode(%d) = %q, want %q", int(tt.code), got, tt.want)
		}
	}
}

func TestMalformedMessageError(t *testing.T) {
	err := &MalformedMessageError{MsgType: 9, Offset: 4, Reason: "unknown message type"}
	msg := err.Error()
	for _, want := range []string{"9", "4", "unknown message type"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}
