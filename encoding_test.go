package rfbserver

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"testing"
)

// makeSnapshot builds a test frame whose pixel at (x, y) is fn(x, y).
func makeSnapshot(t *testing.T, width, height uint16, pf PixelFormat, fn func(x, y int) uint32) *Snapshot {
	t.Helper()
	bpp := pf.BytesPerPixel()
	pix := make([]byte, int(width)*int(height)*bpp)
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			pf.PutPixel(pix[(y*int(width)+x)*bpp:], fn(x, y))
		}
	}
	snap, err := NewSnapshot(width, height, pf, pix)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return snap
}

// wantPixels returns the rectangle's pixels in scan-line order, the
// ground truth every decoder's output is compared against.
func wantPixels(snap *Snapshot, rect Rectangle) []uint32 {
	out := make([]uint32, 0, rect.Area())
	for y := 0; y < int(rect.Height); y++ {
		for x := 0; x < int(rect.Width); x++ {
			out = append(out, snap.PixelAt(int(rect.X)+x, int(rect.Y)+y))
		}
	}
	return out
}

func comparePixels(t *testing.T, got, want []uint32, w int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("pixel count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pixel (%d,%d) = %#x, want %#x", i%w, i/w, got[i], want[i])
		}
	}
}

// checker alternates two colors in 8x8 blocks.
func checker(a, b uint32) func(x, y int) uint32 {
	return func(x, y int) uint32 {
		if (x/8+y/8)%2 == 0 {
			return a
		}
		return b
	}
}

// noise is deterministic many-colored content that defeats run-length
// and subrectangle schemes.
func noise(x, y int) uint32 {
	return uint32(x*2654435761+y*40503) & 0x00ffffff
}

func TestRawEncoderRoundTrip(t *testing.T) {
	snap := makeSnapshot(t, 64, 48, PixelFormat32bit, noise)
	rect := Rectangle{X: 8, Y: 4, Width: 24, Height: 20}

	data, err := (&RawEncoder{}).Encode(snap, rect)
	if err != nil {
		t.Fatal(err)
	}
	bpp := snap.Format.BytesPerPixel()
	if len(data) != rect.Area()*bpp {
		t.Fatalf("body length = %d, want %d", len(data), rect.Area()*bpp)
	}
	got := make([]uint32, 0, rect.Area())
	for off := 0; off < len(data); off += bpp {
		got = append(got, snap.Format.ReadPixel(data[off:]))
	}
	comparePixels(t, got, wantPixels(snap, rect), int(rect.Width))
}

// pixelStream steps through encoded pixel data.
type pixelStream struct {
	r  io.Reader
	pf PixelFormat
	t  *testing.T
}

func (r *pixelStream) pixel() uint32 {
	buf := make([]byte, r.pf.BytesPerPixel())
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.t.Fatalf("truncated pixel: %v", err)
	}
	return r.pf.ReadPixel(buf)
}

func (r *pixelStream) byte() uint8 {
	var b [1]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.t.Fatalf("truncated byte: %v", err)
	}
	return b[0]
}

// decodeHextile is a reference decoder for the Hextile rectangle body,
// reading exactly the rectangle's encoded bytes from src.
func decodeHextile(t *testing.T, src io.Reader, pf PixelFormat, rect Rectangle) []uint32 {
	t.Helper()
	out := make([]uint32, rect.Area())
	r := &pixelStream{r: src, pf: pf, t: t}

	var bg, fg uint32
	put := func(tile Rectangle, tx, ty, tw, th int, p uint32) {
		for dy := 0; dy < th; dy++ {
			for dx := 0; dx < tw; dx++ {
				gx := int(tile.X) - int(rect.X) + tx + dx
				gy := int(tile.Y) - int(rect.Y) + ty + dy
				out[gy*int(rect.Width)+gx] = p
			}
		}
	}

	for ty := int(rect.Y); ty < int(rect.Y)+int(rect.Height); ty += hextileTileSize {
		th := min32(hextileTileSize, int(rect.Y)+int(rect.Height)-ty)
		for tx := int(rect.X); tx < int(rect.X)+int(rect.Width); tx += hextileTileSize {
			tw := min32(hextileTileSize, int(rect.X)+int(rect.Width)-tx)
			tile := Rectangle{X: uint16(tx), Y: uint16(ty), Width: uint16(tw), Height: uint16(th)}

			subenc := r.byte()
			if subenc&HextileRaw != 0 {
				for y := 0; y < th; y++ {
					for x := 0; x < tw; x++ {
						put(tile, x, y, 1, 1, r.pixel())
					}
				}
				continue
			}
			if subenc&HextileBackgroundSpecified != 0 {
				bg = r.pixel()
			}
			if subenc&HextileForegroundSpecified != 0 {
				fg = r.pixel()
			}
			put(tile, 0, 0, tw, th, bg)
			if subenc&HextileAnySubrects == 0 {
				continue
			}
			nsub := int(r.byte())
			for i := 0; i < nsub; i++ {
				color := fg
				if subenc&HextileSubrectsColoured != 0 {
					color = r.pixel()
				}
				xy := r.byte()
				wh := r.byte()
				put(tile, int(xy>>4), int(xy&0xf), int(wh>>4)+1, int(wh&0xf)+1, color)
			}
		}
	}
	return out
}

func TestHextileEncoder(t *testing.T) {
	tests := []struct {
		name string
		pf   PixelFormat
		fn   func(x, y int) uint32
	}{
		{name: "solid", pf: PixelFormat32bit, fn: func(x, y int) uint32 { return 0x123456 }},
		{name: "two color", pf: PixelFormat32bit, fn: checker(0x000000, 0xffffff)},
		{name: "two color 16bpp", pf: PixelFormat16bit, fn: checker(0x001f, 0xf800)},
		{name: "multi color", pf: PixelFormat32bit, fn: func(x, y int) uint32 {
			return uint32((x/4)%4) << 16
		}},
		{name: "noise forces raw tiles", pf: PixelFormat32bit, fn: noise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := makeSnapshot(t, 48, 40, tt.pf, tt.fn)
			rect := Rectangle{X: 3, Y: 5, Width: 41, Height: 30} // ragged tiles on purpose

			enc := &HextileEncoder{}
			data, err := enc.Encode(snap, rect)
			if err != nil {
				t.Fatal(err)
			}
			src := bytes.NewReader(data)
			got := decodeHextile(t, src, tt.pf, rect)
			if src.Len() != 0 {
				t.Errorf("decoder left %d bytes unconsumed", src.Len())
			}
			comparePixels(t, got, wantPixels(snap, rect), int(rect.Width))
		})
	}
}

// Solid runs of identical tiles collapse to one byte each after the
// first; the carried background makes that possible.
func TestHextileBackgroundCarryOver(t *testing.T) {
	snap := makeSnapshot(t, 64, 16, PixelFormat32bit, func(x, y int) uint32 { return 0xaabbcc })
	rect := snap.Bounds()

	enc := &HextileEncoder{}
	data, err := enc.Encode(snap, rect)
	if err != nil {
		t.Fatal(err)
	}
	// First tile: subenc + pixel. Remaining three tiles: one byte each.
	want := 1 + snap.Format.BytesPerPixel() + 3
	if len(data) != want {
		t.Errorf("encoded length = %d, want %d", len(data), want)
	}

	// Carry-over must reset between rectangles: a second encode of the
	// same content re-specifies the background.
	data2, err := enc.Encode(snap, rect)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, data2) {
		t.Errorf("second rectangle differs: %x vs %x", data, data2)
	}
}

func TestHextileEncoderBeatsRawOnFlatContent(t *testing.T) {
	snap := makeSnapshot(t, 128, 128, PixelFormat32bit, checker(0, 0x00ff00))
	rect := snap.Bounds()

	hextile, err := (&HextileEncoder{}).Encode(snap, rect)
	if err != nil {
		t.Fatal(err)
	}
	rawLen := rect.Area() * snap.Format.BytesPerPixel()
	if len(hextile) >= rawLen {
		t.Errorf("hextile %d bytes, raw %d; expected compression on flat content", len(hextile), rawLen)
	}
}

// decodeRRE is a reference decoder for the RRE rectangle body.
func decodeRRE(t *testing.T, data []byte, pf PixelFormat, rect Rectangle) []uint32 {
	t.Helper()
	if len(data) < 4 {
		t.Fatal("truncated RRE header")
	}
	nsub := int(binary.BigEndian.Uint32(data))
	src := bytes.NewReader(data[4:])
	r := &pixelStream{r: src, pf: pf, t: t}

	out := make([]uint32, rect.Area())
	bg := r.pixel()
	for i := range out {
		out[i] = bg
	}
	hdr := make([]byte, 8)
	for i := 0; i < nsub; i++ {
		p := r.pixel()
		if _, err := io.ReadFull(src, hdr); err != nil {
			t.Fatalf("truncated subrect %d: %v", i, err)
		}
		sx := int(binary.BigEndian.Uint16(hdr[0:]))
		sy := int(binary.BigEndian.Uint16(hdr[2:]))
		sw := int(binary.BigEndian.Uint16(hdr[4:]))
		sh := int(binary.BigEndian.Uint16(hdr[6:]))
		for dy := 0; dy < sh; dy++ {
			for dx := 0; dx < sw; dx++ {
				out[(sy+dy)*int(rect.Width)+sx+dx] = p
			}
		}
	}
	if src.Len() != 0 {
		t.Fatalf("decoder left %d bytes unconsumed", src.Len())
	}
	return out
}

func TestRREEncoder(t *testing.T) {
	snap := makeSnapshot(t, 40, 24, PixelFormat32bit, func(x, y int) uint32 {
		if x >= 10 && x < 20 && y >= 5 && y < 15 {
			return 0xff0000
		}
		if x >= 30 {
			return 0x0000ff
		}
		return 0x00ff00
	})
	rect := snap.Bounds()

	data, err := (&RREEncoder{}).Encode(snap, rect)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeRRE(t, data, snap.Format, rect)
	comparePixels(t, got, wantPixels(snap, rect), int(rect.Width))
}

// Consecutive Zlib rectangles continue a single deflate stream; a
// decoder holding one inflater across rectangles must recover each
// rectangle's raw pixels.
func TestZlibEncoderStreamContinuity(t *testing.T) {
	snap := makeSnapshot(t, 32, 32, PixelFormat32bit, noise)
	rects := []Rectangle{
		{X: 0, Y: 0, Width: 16, Height: 16},
		{X: 16, Y: 16, Width: 16, Height: 16},
		{X: 0, Y: 16, Width: 32, Height: 8},
	}

	enc := NewZlibEncoder()
	var stream bytes.Buffer
	var rawLens []int
	for _, rect := range rects {
		data, err := enc.Encode(snap, rect)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) < 4 {
			t.Fatal("missing length prefix")
		}
		n := int(binary.BigEndian.Uint32(data))
		if n != len(data)-4 {
			t.Fatalf("length prefix %d, payload %d", n, len(data)-4)
		}
		stream.Write(data[4:])
		rawLens = append(rawLens, rect.Area()*snap.Format.BytesPerPixel())
	}

	zr, err := zlib.NewReader(&stream)
	if err != nil {
		t.Fatalf("zlib stream header: %v", err)
	}
	for i, rect := range rects {
		raw := make([]byte, rawLens[i])
		if _, err := io.ReadFull(zr, raw); err != nil {
			t.Fatalf("rect %d inflate: %v", i, err)
		}
		if !bytes.Equal(raw, snap.Extract(rect)) {
			t.Errorf("rect %d pixel data mismatch", i)
		}
	}
}

// readCPixel mirrors writeCPixel.
func readCPixel(t *testing.T, r io.Reader, pf PixelFormat) uint32 {
	t.Helper()
	if !cpixelCompressible(pf) {
		buf := make([]byte, pf.BytesPerPixel())
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("read pixel: %v", err)
		}
		return pf.ReadPixel(buf)
	}
	var b [3]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		t.Fatalf("read cpixel: %v", err)
	}
	var scratch [4]byte
	if pf.BigEndian == 1 {
		copy(scratch[1:], b[:])
	} else {
		copy(scratch[0:], b[:])
	}
	return pf.ReadPixel(scratch[:])
}

func readRunLength(t *testing.T, r io.Reader) int {
	t.Helper()
	length := 1
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			t.Fatalf("read run length: %v", err)
		}
		length += int(b[0])
		if b[0] < 255 {
			return length
		}
	}
}

// decodeZRLETiles is a reference decoder for one ZRLE rectangle's tile
// stream, read from an already-fed inflater.
func decodeZRLETiles(t *testing.T, zr io.Reader, pf PixelFormat, rect Rectangle) []uint32 {
	t.Helper()
	out := make([]uint32, rect.Area())
	for ty := int(rect.Y); ty < int(rect.Y)+int(rect.Height); ty += zrleTileSize {
		th := min32(zrleTileSize, int(rect.Y)+int(rect.Height)-ty)
		for tx := int(rect.X); tx < int(rect.X)+int(rect.Width); tx += zrleTileSize {
			tw := min32(zrleTileSize, int(rect.X)+int(rect.Width)-tx)

			tile := make([]uint32, tw*th)
			var subenc [1]byte
			if _, err := io.ReadFull(zr, subenc[:]); err != nil {
				t.Fatalf("tile subencoding: %v", err)
			}
			switch subenc[0] {
			case zrleTileSolid:
				p := readCPixel(t, zr, pf)
				for i := range tile {
					tile[i] = p
				}
			case zrleTilePlainRLE:
				for i := 0; i < len(tile); {
					p := readCPixel(t, zr, pf)
					n := readRunLength(t, zr)
					for j := 0; j < n; j++ {
						tile[i] = p
						i++
					}
				}
			case zrleTileRaw:
				for i := range tile {
					tile[i] = readCPixel(t, zr, pf)
				}
			default:
				t.Fatalf("unexpected tile subencoding %d", subenc[0])
			}

			for y := 0; y < th; y++ {
				for x := 0; x < tw; x++ {
					gx := int(tx) - int(rect.X) + x
					gy := int(ty) - int(rect.Y) + y
					out[gy*int(rect.Width)+gx] = tile[y*tw+x]
				}
			}
		}
	}
	return out
}

func TestZRLEEncoder(t *testing.T) {
	tests := []struct {
		name string
		fn   func(x, y int) uint32
	}{
		{name: "solid", fn: func(x, y int) uint32 { return 0x445566 }},
		{name: "horizontal bands", fn: func(x, y int) uint32 { return uint32(y/8) << 8 }},
		{name: "noise", fn: noise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := makeSnapshot(t, 150, 90, PixelFormat32bit, tt.fn)
			rect := snap.Bounds() // 3x2 tiles, ragged right and bottom

			enc := NewZRLEEncoder()
			data, err := enc.Encode(snap, rect)
			if err != nil {
				t.Fatal(err)
			}

			if len(data) < 4 {
				t.Fatal("missing length prefix")
			}
			if int(binary.BigEndian.Uint32(data)) != len(data)-4 {
				t.Fatalf("length prefix %d, payload %d", binary.BigEndian.Uint32(data), len(data)-4)
			}
			zr, err := zlib.NewReader(bytes.NewReader(data[4:]))
			if err != nil {
				t.Fatalf("zlib stream header: %v", err)
			}
			got := decodeZRLETiles(t, zr, snap.Format, rect)
			comparePixels(t, got, wantPixels(snap, rect), int(rect.Width))
		})
	}
}

// Rectangles ending within one tile of coordinate 65535 must still
// terminate the tile walk; a uint16 origin counter wraps past the
// right edge instead of exiting the loop.
func TestTileWalkTerminatesAtCoordinateLimit(t *testing.T) {
	snap := makeSnapshot(t, 65535, 2, PixelFormat32bit, checker(0x102030, 0x405060))

	t.Run("hextile", func(t *testing.T) {
		rect := Rectangle{X: 65528, Width: 7, Height: 2}
		enc := &HextileEncoder{}
		data, err := enc.Encode(snap, rect)
		if err != nil {
			t.Fatal(err)
		}
		src := bytes.NewReader(data)
		got := decodeHextile(t, src, snap.Format, rect)
		comparePixels(t, got, wantPixels(snap, rect), int(rect.Width))
		if src.Len() != 0 {
			t.Errorf("decoder left %d bytes unconsumed", src.Len())
		}
	})

	t.Run("zrle", func(t *testing.T) {
		rect := Rectangle{X: 65500, Width: 35, Height: 2}
		enc := NewZRLEEncoder()
		data, err := enc.Encode(snap, rect)
		if err != nil {
			t.Fatal(err)
		}
		zr, err := zlib.NewReader(bytes.NewReader(data[4:]))
		if err != nil {
			t.Fatalf("zlib stream header: %v", err)
		}
		got := decodeZRLETiles(t, zr, snap.Format, rect)
		comparePixels(t, got, wantPixels(snap, rect), int(rect.Width))
	})
}

func TestCPixelLength(t *testing.T) {
	if !cpixelCompressible(PixelFormat32bit) {
		t.Fatal("canonical format should use compressed pixels")
	}
	if got := cpixelLen(PixelFormat16bit); got != 2 {
		t.Errorf("16bpp cpixel length = %d, want 2", got)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	for _, want := range []EncodingType{EncRaw, EncHextile, EncRRE, EncZlib, EncZRLE} {
		if !r.Supports(want) {
			t.Errorf("registry missing %s", want)
		}
	}
	if r.Supports(EncTight) {
		t.Error("registry claims unimplemented encoding")
	}

	// Instances are private state: two sessions must not share one.
	a, ok := r.Instance(EncZlib)
	if !ok {
		t.Fatal("Instance(EncZlib) not ok")
	}
	b, _ := r.Instance(EncZlib)
	if a == b {
		t.Error("Instance returned shared codec state")
	}
}

func TestRegistryDuplicateConstructorsIgnored(t *testing.T) {
	r := NewRegistry(
		func() Encoder { return &RawEncoder{} },
		func() Encoder { return &RawEncoder{} },
		func() Encoder { return &HextileEncoder{} },
	)
	types := r.Types()
	if len(types) != 2 {
		t.Fatalf("types = %v, want [raw hextile]", types)
	}
	if types[0] != EncRaw || types[1] != EncHextile {
		t.Errorf("types = %v, want [raw hextile]", types)
	}
}

func TestEncodingTypeString(t *testing.T) {
	if s := fmt.Sprint(EncHextile); s != "hextile" {
		t.Errorf("EncHextile = %q", s)
	}
	if s := fmt.Sprint(EncodingType(99)); s != "unknown" {
		t.Errorf("EncodingType(99) = %q", s)
	}
}
