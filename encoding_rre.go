package rfbserver

import (
	"bytes"
	"encoding/binary"
)

// RREEncoder implements rise-and-run-length encoding, RFC 6143 §7.7.3:
// a background color for the whole rectangle followed by a list of
// uniformly colored subrectangles. Degenerate for photographic
// content, compact for flat UI regions.
type RREEncoder struct{}

// Type implements the Encoder interface.
func (*RREEncoder) Type() EncodingType { return EncRRE }

// Encode implements the Encoder interface.
func (*RREEncoder) Encode(snap *Snapshot, rect Rectangle) ([]byte, error) {
	w := int(rect.Width)
	h := int(rect.Height)
	pixels := make([]uint32, 0, rect.Area())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pixels = append(pixels, snap.PixelAt(int(rect.X)+x, int(rect.Y)+y))
		}
	}

	bg, _, _ := analyzeTile(pixels)
	subrects := extractSubrects(pixels, w, h, bg, true)

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(subrects))); err != nil {
		return nil, err
	}
	writePixel(buf, snap.Format, bg)
	for _, sr := range subrects {
		writePixel(buf, snap.Format, sr.pixel)
		hdr := []uint16{uint16(sr.x), uint16(sr.y), uint16(sr.w), uint16(sr.h)}
		if err := binary.Write(buf, binary.BigEndian, hdr); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
