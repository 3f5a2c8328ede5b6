package rfbserver

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
)

// ZRLE tile subencodings, RFC 6143 §7.7.6.
const (
	zrleTileRaw      = 0
	zrleTileSolid    = 1
	zrleTilePlainRLE = 128
)

const zrleTileSize = 64

// ZRLEEncoder implements zlib run-length encoding: 64x64 tiles, each
// raw, solid or run-length encoded with compressed CPIXELs, the whole
// tile stream deflated through a per-session zlib stream.
type ZRLEEncoder struct {
	compressed bytes.Buffer
	zw         *zlib.Writer
}

// NewZRLEEncoder returns an encoder with a fresh zlib stream.
func NewZRLEEncoder() *ZRLEEncoder {
	enc := &ZRLEEncoder{}
	enc.zw = zlib.NewWriter(&enc.compressed)
	return enc
}

// Type implements the Encoder interface.
func (*ZRLEEncoder) Type() EncodingType { return EncZRLE }

// Encode implements the Encoder interface.
func (enc *ZRLEEncoder) Encode(snap *Snapshot, rect Rectangle) ([]byte, error) {
	tiles := &bytes.Buffer{}
	// Int tile origins, same wrap hazard as the hextile loop.
	for ty := int(rect.Y); ty < int(rect.Y)+int(rect.Height); ty += zrleTileSize {
		th := min32(zrleTileSize, int(rect.Y)+int(rect.Height)-ty)
		for tx := int(rect.X); tx < int(rect.X)+int(rect.Width); tx += zrleTileSize {
			tw := min32(zrleTileSize, int(rect.X)+int(rect.Width)-tx)
			tile := Rectangle{X: uint16(tx), Y: uint16(ty), Width: uint16(tw), Height: uint16(th)}
			encodeZRLETile(tiles, snap, tile)
		}
	}

	enc.compressed.Reset()
	if _, err := enc.zw.Write(tiles.Bytes()); err != nil {
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

func encodeZRLETile(buf *bytes.Buffer, snap *Snapshot, tile Rectangle) {
	pixels := tilePixels(snap, tile)

	solid := true
	for _, p := range pixels[1:] {
		if p != pixels[0] {
			solid = false
			break
		}
	}
	if solid {
		buf.WriteByte(zrleTileSolid)
		writeCPixel(buf, snap.Format, pixels[0])
		return
	}

	runs := rlePixelRuns(pixels)
	cpixLen := cpixelLen(snap.Format)
	rleCost := 0
	for _, run := range runs {
		rleCost += cpixLen + 1 + (run.length-1)/255
	}
	if rleCost < len(pixels)*cpixLen {
		buf.WriteByte(zrleTilePlainRLE)
		for _, run := range runs {
			writeCPixel(buf, snap.Format, run.pixel)
			writeRunLength(buf, run.length)
		}
		return
	}

	buf.WriteByte(zrleTileRaw)
	for _, p := range pixels {
		writeCPixel(buf, snap.Format, p)
	}
}

type pixelRun struct {
	pixel  uint32
	length int
}

func rlePixelRuns(pixels []uint32) []pixelRun {
	var runs []pixelRun
	for i := 0; i < len(pixels); {
		j := i + 1
		for j < len(pixels) && pixels[j] == pixels[i] {
			j++
		}
		runs = append(runs, pixelRun{pixel: pixels[i], length: j - i})
		i = j
	}
	return runs
}

// writeRunLength emits length-1 as a sequence of 255 bytes followed
// by a terminating byte below 255.
func writeRunLength(buf *bytes.Buffer, length int) {
	v := length - 1
	for v >= 255 {
		buf.WriteByte(255)
		v -= 255
	}
	buf.WriteByte(uint8(v))
}

// cpixelLen returns the compressed pixel size: 3 bytes when a depth-24
// true-color format fits its channels in the low 24 bits of a 32bpp
// pixel, otherwise the format's full pixel size.
func cpixelLen(pf PixelFormat) int {
	if cpixelCompressible(pf) {
		return 3
	}
	return pf.BytesPerPixel()
}

func cpixelCompressible(pf PixelFormat) bool {
	if pf.TrueColor != 1 || pf.BPP != 32 || pf.Depth > 24 {
		return false
	}
	high := uint32(pf.RedMax)<<pf.RedShift |
		uint32(pf.GreenMax)<<pf.GreenShift |
		uint32(pf.BlueMax)<<pf.BlueShift
	return high&0xff000000 == 0
}

// writeCPixel appends one compressed pixel. For compressible formats
// the 3 significant bytes are taken from the native layout, honoring
// the format's byte order.
func writeCPixel(buf *bytes.Buffer, pf PixelFormat, pixel uint32) {
	if !cpixelCompressible(pf) {
		writePixel(buf, pf, pixel)
		return
	}
	var scratch [4]byte
	pf.PutPixel(scratch[:], pixel)
	if pf.BigEndian == 1 {
		buf.Write(scratch[1:4])
	} else {
		buf.Write(scratch[0:3])
	}
}
