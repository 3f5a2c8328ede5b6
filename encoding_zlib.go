package rfbserver

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
)

// ZlibEncoder wraps Raw pixel data in a zlib stream, RFC 6143 §7.7.
// The stream persists for the lifetime of one session: the first
// rectangle carries the zlib header and later rectangles continue the
// same stream, so instances must never be shared across sessions.
type ZlibEncoder struct {
	compressed bytes.Buffer
	zw         *zlib.Writer
}

// NewZlibEncoder returns an encoder with a fresh zlib stream.
func NewZlibEncoder() *ZlibEncoder {
	enc := &ZlibEncoder{}
	enc.zw = zlib.NewWriter(&enc.compressed)
	return enc
}

// Type implements the Encoder interface.
func (*ZlibEncoder) Type() EncodingType { return EncZlib }

// Encode implements the Encoder interface. The body is a big-endian
// u32 length followed by that many bytes of compressed stream data,
// sync-flushed so the client can decode the rectangle immediately.
func (enc *ZlibEncoder) Encode(snap *Snapshot, rect Rectangle) ([]byte, error) {
	enc.compressed.Reset()
	if _, err := enc.zw.Write(snap.Extract(rect)); err != nil {
		return nil, err
	}
	if err := enc.zw.Flush(); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, uint32(enc.compressed.Len())); err != nil {
		return nil, err
	}
	buf.Write(enc.compressed.Bytes())
	return buf.Bytes(), nil
}
