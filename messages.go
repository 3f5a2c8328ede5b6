package rfbserver

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ClientMessageType identifies a client-to-server RFB message.
type ClientMessageType uint8

// Client-to-server message types, RFC 6143 §7.5.
const (
	SetPixelFormatMsgType ClientMessageType = iota
	_
	SetEncodingsMsgType
	FramebufferUpdateRequestMsgType
	KeyEventMsgType
	PointerEventMsgType
	ClientCutTextMsgType
)

// String implements the fmt.Stringer interface.
func (t ClientMessageType) String() string {
	switch t {
	case SetPixelFormatMsgType:
		return "SetPixelFormat"
	case SetEncodingsMsgType:
		return "SetEncodings"
	case FramebufferUpdateRequestMsgType:
		return "FramebufferUpdateRequest"
	case KeyEventMsgType:
		return "KeyEvent"
	case PointerEventMsgType:
		return "PointerEvent"
	case ClientCutTextMsgType:
		return "ClientCutText"
	default:
		return fmt.Sprintf("ClientMessageType(%d)", uint8(t))
	}
}

// ServerMessageType identifies a server-to-client RFB message.
type ServerMessageType uint8

// Server-to-client message types, RFC 6143 §7.6.
const (
	FramebufferUpdateMsgType ServerMessageType = iota
	SetColorMapEntriesMsgType
	BellMsgType
	ServerCutTextMsgType
)

// ClientMessage is a parsed client-to-server message.
type ClientMessage interface {
	Type() ClientMessageType
}

// Key is an X Window System "keysym" carried by KeyEvent.
type Key uint32

// SetPixelFormat holds the wire format message.
type SetPixelFormat struct {
	PF PixelFormat
}

func (*SetPixelFormat) Type() ClientMessageType { return SetPixelFormatMsgType }

func (msg *SetPixelFormat) String() string {
	return fmt.Sprintf("%s", msg.PF)
}

// SetEncodings holds the client's encoding preferences, most preferred
// first.
type SetEncodings struct {
	Encodings []EncodingType
}

func (*SetEncodings) Type() ClientMessageType { return SetEncodingsMsgType }

func (msg *SetEncodings) String() string {
	return fmt.Sprintf("encodings[]: { %v }", msg.Encodings)
}

// FramebufferUpdateRequest holds the wire format message.
type FramebufferUpdateRequest struct {
	Incremental   uint8
	X, Y          uint16
	Width, Height uint16
}

func (*FramebufferUpdateRequest) Type() ClientMessageType { return FramebufferUpdateRequestMsgType }

func (msg *FramebufferUpdateRequest) String() string {
	return fmt.Sprintf("incremental: %d, x: %d, y: %d, width: %d, height: %d",
		msg.Incremental, msg.X, msg.Y, msg.Width, msg.Height)
}

// Region returns the requested region as a rectangle.
func (msg *FramebufferUpdateRequest) Region() Rectangle {
	return Rectangle{X: msg.X, Y: msg.Y, Width: msg.Width, Height: msg.Height}
}

// KeyEvent holds the wire format message.
type KeyEvent struct {
	Down uint8
	Key  Key
}

func (*KeyEvent) Type() ClientMessageType { return KeyEventMsgType }

func (msg *KeyEvent) String() string {
	return fmt.Sprintf("down: %d, key: 0x%x", msg.Down, uint32(msg.Key))
}

// PointerEvent holds the wire format message.
type PointerEvent struct {
	Mask Button
	X, Y uint16
}

func (*PointerEvent) Type() ClientMessageType { return PointerEventMsgType }

func (msg *PointerEvent) String() string {
	return fmt.Sprintf("mask: %d, x: %d, y: %d", msg.Mask, msg.X, msg.Y)
}

// ClientCutText holds the wire format message.
type ClientCutText struct {
	Text []byte
}

func (*ClientCutText) Type() ClientMessageType { return ClientCutTextMsgType }

func (msg *ClientCutText) String() string {
	return fmt.Sprintf("length: %d, text: %s", len(msg.Text), msg.Text)
}

// UpdateRect is one encoded rectangle inside a FramebufferUpdate.
type UpdateRect struct {
	Rect Rectangle
	Enc  EncodingType
	Data []byte
}

// FramebufferUpdate holds a framebuffer update ready for the wire.
type FramebufferUpdate struct {
	Rects []UpdateRect
}

// Type returns the server message type.
func (*FramebufferUpdate) Type() ServerMessageType { return FramebufferUpdateMsgType }

// Write serializes the complete message to w. The scheduler writes the
// serialized form in a single transport write so the update is atomic
// on the wire.
func (msg *FramebufferUpdate) Write(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, msg.Type()); err != nil {
		return err
	}
	var pad [1]byte
	if err := binary.Write(w, binary.BigEndian, pad); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(msg.Rects))); err != nil {
		return err
	}
	for _, rect := range msg.Rects {
		if err := rect.Rect.Write(w); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, int32(rect.Enc)); err != nil {
			return err
		}
		if _, err := w.Write(rect.Data); err != nil {
			return err
		}
	}
	return nil
}

// ServerInit holds the wire format message, RFC 6143 §7.3.2.
type ServerInit struct {
	FBWidth, FBHeight uint16
	PixelFormat       PixelFormat
	NameText          []byte
}

func (msg *ServerInit) String() string {
	return fmt.Sprintf("width: %d, height: %d, pixel-format: %s, name: %s",
		msg.FBWidth, msg.FBHeight, msg.PixelFormat, msg.NameText)
}

// Write serializes the message to w.
func (msg *ServerInit) Write(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, msg.FBWidth); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, msg.FBHeight); err != nil {
		return err
	}
	if err := msg.PixelFormat.Write(w); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(msg.NameText))); err != nil {
		return err
	}
	_, err := w.Write(msg.NameText)
	return err
}

// ServerCutText holds the wire format message.
type ServerCutText struct {
	Text []byte
}

// Type returns the server message type.
func (*ServerCutText) Type() ServerMessageType { return ServerCutTextMsgType }

// Write serializes the message to w.
func (msg *ServerCutText) Write(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, msg.Type()); err != nil {
		return err
	}
	var pad [3]byte
	if err := binary.Write(w, binary.BigEndian, pad); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(msg.Text))); err != nil {
		return err
	}
	_, err := w.Write(msg.Text)
	return err
}

// Bell rings the client's bell, if it has one.
type Bell struct{}

// Type returns the server message type.
func (*Bell) Type() ServerMessageType { return BellMsgType }

// Write serializes the message to w.
func (msg *Bell) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, msg.Type())
}
