package rfbserver

import (
	"encoding/binary"
	"fmt"
)

// maxCutTextLen caps ClientCutText payloads. A larger length field is
// treated as malformed rather than buffered indefinitely.
const maxCutTextLen = 1 << 20

// ProtocolVersionFormat is the 12-byte handshake string layout.
const ProtocolVersionFormat = "RFB %03d.%03d\n"

// protocolVersionLen is the fixed handshake string length.
const protocolVersionLen = 12

// FormatProtocolVersion renders a version handshake string.
func FormatProtocolVersion(major, minor int) []byte {
	return []byte(fmt.Sprintf(ProtocolVersionFormat, major, minor))
}

// ParseProtocolVersion parses a 12-byte version handshake string.
func ParseProtocolVersion(buf []byte) (major, minor int, err error) {
	if len(buf) < protocolVersionLen {
		return 0, 0, ErrNeedMoreData
	}
	n, err := fmt.Sscanf(string(buf[:protocolVersionLen]), ProtocolVersionFormat, &major, &minor)
	if err != nil || n != 2 {
		return 0, 0, &MalformedMessageError{Offset: 0, Reason: fmt.Sprintf("bad version string %q", buf[:protocolVersionLen])}
	}
	return major, minor, nil
}

// clientMessageLength returns the total byte length of the message at
// the head of buf, reading the length field of variable-length
// messages from the buffer itself. It returns ErrNeedMoreData when the
// prefix holding the length field is itself incomplete.
func clientMessageLength(buf []byte) (int, error) {
	switch ClientMessageType(buf[0]) {
	case SetPixelFormatMsgType:
		return 20, nil
	case SetEncodingsMsgType:
		if len(buf) < 4 {
			return 0, ErrNeedMoreData
		}
		numEncodings := int(binary.BigEndian.Uint16(buf[2:4]))
		return 4 + numEncodings*4, nil
	case FramebufferUpdateRequestMsgType:
		return 10, nil
	case KeyEventMsgType:
		return 8, nil
	case PointerEventMsgType:
		return 6, nil
	case ClientCutTextMsgType:
		if len(buf) < 8 {
			return 0, ErrNeedMoreData
		}
		textLength := int(binary.BigEndian.Uint32(buf[4:8]))
		if textLength > maxCutTextLen {
			return 0, &MalformedMessageError{MsgType: buf[0], Offset: 4,
				Reason: fmt.Sprintf("cut-text length %d exceeds limit %d", textLength, maxCutTextLen)}
		}
		return 8 + textLength, nil
	default:
		return 0, &MalformedMessageError{MsgType: buf[0], Offset: 0, Reason: "unknown message type"}
	}
}

// ParseClientMessage decodes the client-to-server message at the head
// of buf and returns it together with the number of bytes consumed.
// A short buffer yields ErrNeedMoreData so the caller can accumulate
// more transport bytes without losing what is already buffered; a
// *MalformedMessageError means the stream is desynchronized and the
// session must terminate. The function is a pure transform over the
// byte slice.
func ParseClientMessage(buf []byte) (ClientMessage, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	msgLen, err := clientMessageLength(buf)
	if err != nil {
		return nil, 0, err
	}
	if len(buf) < msgLen {
		return nil, 0, ErrNeedMoreData
	}
	body := buf[:msgLen]

	switch ClientMessageType(body[0]) {
	case SetPixelFormatMsgType:
		pf, err := UnmarshalPixelFormat(body[4:20])
		if err != nil {
			return nil, 0, &MalformedMessageError{MsgType: body[0], Offset: 4, Reason: err.Error()}
		}
		return &SetPixelFormat{PF: pf}, msgLen, nil

	case SetEncodingsMsgType:
		numEncodings := int(binary.BigEndian.Uint16(body[2:4]))
		encodings := make([]EncodingType, 0, numEncodings)
		for i := 0; i < numEncodings; i++ {
			off := 4 + i*4
			encodings = append(encodings, EncodingType(int32(binary.BigEndian.Uint32(body[off:off+4]))))
		}
		return &SetEncodings{Encodings: encodings}, msgLen, nil

	case FramebufferUpdateRequestMsgType:
		return &FramebufferUpdateRequest{
			Incremental: body[1],
			X:           binary.BigEndian.Uint16(body[2:4]),
			Y:           binary.BigEndian.Uint16(body[4:6]),
			Width:       binary.BigEndian.Uint16(body[6:8]),
			Height:      binary.BigEndian.Uint16(body[8:10]),
		}, msgLen, nil

	case KeyEventMsgType:
		return &KeyEvent{
			Down: body[1],
			Key:  Key(binary.BigEndian.Uint32(body[4:8])),
		}, msgLen, nil

	case PointerEventMsgType:
		return &PointerEvent{
			Mask: Button(body[1]),
			X:    binary.BigEndian.Uint16(body[2:4]),
			Y:    binary.BigEndian.Uint16(body[4:6]),
		}, msgLen, nil

	default: // ClientCutTextMsgType; unknown types already rejected.
		text := make([]byte, msgLen-8)
		copy(text, body[8:])
		return &ClientCutText{Text: text}, msgLen, nil
	}
}
