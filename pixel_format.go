// Implementation of RFC 6143 §7.4 Pixel Format Data Structure.

package rfbserver

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

var (
	// PixelFormat8bit is the 8 bit-per-pixel color-mapped format.
	PixelFormat8bit = NewPixelFormat(8)
	// PixelFormat16bit is the 16 bit-per-pixel RGB565 format.
	PixelFormat16bit = NewPixelFormat(16)
	// PixelFormat32bit is the canonical 32 bit-per-pixel depth-24 format
	// published at ServerInit time.
	PixelFormat32bit = NewPixelFormat(32)
)

// PixelFormat describes the way a pixel is laid out on the wire.
// Immutable once negotiated for a session.
type PixelFormat struct {
	BPP                             uint8   // bits-per-pixel
	Depth                           uint8   // depth
	BigEndian                       uint8   // big-endian-flag
	TrueColor                       uint8   // true-color-flag
	RedMax, GreenMax, BlueMax       uint16  // red-, green-, blue-max
	RedShift, GreenShift, BlueShift uint8   // red-, green-, blue-shift
	_                               [3]byte // padding
}

const pixelFormatLen = 16

// NewPixelFormat returns a populated PixelFormat for the given depth.
func NewPixelFormat(bpp uint8) PixelFormat {
	rMax := uint16(255)
	gMax := uint16(255)
	bMax := uint16(255)
	var (
		tc         = uint8(1)
		rs, gs, bs uint8
		depth      uint8
	)
	switch bpp {
	case 8:
		tc = 0
		depth = 8
		rMax, gMax, bMax = 0, 0, 0
	case 16:
		depth = 16
		rMax, gMax, bMax = 31, 63, 31
		rs, gs, bs = 11, 5, 0
	case 32:
		depth = 24
		rs, gs, bs = 16, 8, 0
	}
	return PixelFormat{bpp, depth, 0, tc, rMax, gMax, bMax, rs, gs, bs, [3]byte{}}
}

// BytesPerPixel returns the number of bytes a single pixel occupies.
func (pf PixelFormat) BytesPerPixel() int {
	return int(pf.BPP) / 8
}

// Validate checks the structural invariants of the format.
func (pf PixelFormat) Validate() error {
	switch pf.BPP {
	case 8, 16, 32:
	default:
		return fmt.Errorf("invalid bits-per-pixel %d; must be 8, 16, or 32", pf.BPP)
	}
	if pf.Depth > pf.BPP {
		return fmt.Errorf("invalid depth %d; cannot exceed bits-per-pixel %d", pf.Depth, pf.BPP)
	}
	return nil
}

// Marshal serializes the format into its 16-byte wire representation.
func (pf PixelFormat) Marshal() ([]byte, error) {
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	buf := bPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bPool.Put(buf)

	if err := binary.Write(buf, binary.BigEndian, &pf); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Write writes the 16-byte wire representation to w.
func (pf PixelFormat) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, &pf)
}

// UnmarshalPixelFormat decodes the 16-byte wire representation.
func UnmarshalPixelFormat(data []byte) (PixelFormat, error) {
	var pf PixelFormat
	if len(data) < pixelFormatLen {
		return pf, ErrNeedMoreData
	}
	if err := binary.Read(bytes.NewReader(data[:pixelFormatLen]), binary.BigEndian, &pf); err != nil {
		return pf, err
	}
	return pf, nil
}

// String implements the fmt.Stringer interface.
func (pf PixelFormat) String() string {
	return fmt.Sprintf("{ bpp: %d depth: %d big-endian: %d true-color: %d red-max: %d green-max: %d blue-max: %d red-shift: %d green-shift: %d blue-shift: %d }",
		pf.BPP, pf.Depth, pf.BigEndian, pf.TrueColor, pf.RedMax, pf.GreenMax, pf.BlueMax, pf.RedShift, pf.GreenShift, pf.BlueShift)
}

func (pf PixelFormat) order() binary.ByteOrder {
	if pf.BigEndian == 1 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// RGB unpacks the red, green and blue channels of an assembled pixel.
func (pf PixelFormat) RGB(pixel uint32) (r, g, b uint16) {
	r = uint16(pixel>>pf.RedShift) & pf.RedMax
	g = uint16(pixel>>pf.GreenShift) & pf.GreenMax
	b = uint16(pixel>>pf.BlueShift) & pf.BlueMax
	return r, g, b
}

// ReadPixel assembles a pixel from its wire bytes.
func (pf PixelFormat) ReadPixel(p []byte) uint32 {
	switch pf.BPP {
	case 8:
		return uint32(p[0])
	case 16:
		return uint32(pf.order().Uint16(p))
	default:
		return pf.order().Uint32(p)
	}
}

// PutPixel writes a pixel in the format's native byte layout.
func (pf PixelFormat) PutPixel(p []byte, pixel uint32) {
	switch pf.BPP {
	case 8:
		p[0] = uint8(pixel)
	case 16:
		pf.order().PutUint16(p, uint16(pixel))
	default:
		pf.order().PutUint32(p, pixel)
	}
}
