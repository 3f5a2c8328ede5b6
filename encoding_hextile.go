package rfbserver

import (
	"bytes"
)

// Hextile subencoding mask bits, RFC 6143 §7.7.4.
const (
	HextileRaw                 = 1
	HextileBackgroundSpecified = 2
	HextileForegroundSpecified = 4
	HextileAnySubrects         = 8
	HextileSubrectsColoured    = 16
)

const hextileTileSize = 16

// HextileEncoder partitions a rectangle into 16x16 tiles and, per
// tile, picks the cheapest of a raw tile or a background/foreground
// plus subrectangle representation. A tile whose background or
// foreground color matches the previous tile's omits re-sending it;
// that carry-over state is scoped to one rectangle's tile scan and
// reset at rectangle start, never across rectangles or sessions.
type HextileEncoder struct {
	prevBG, prevFG uint32
	bgValid        bool
	fgValid        bool
}

// Type implements the Encoder interface.
func (*HextileEncoder) Type() EncodingType { return EncHextile }

// Encode implements the Encoder interface.
func (enc *HextileEncoder) Encode(snap *Snapshot, rect Rectangle) ([]byte, error) {
	enc.bgValid = false
	enc.fgValid = false

	buf := &bytes.Buffer{}
	// Tile origins stay in int: a uint16 counter wraps instead of
	// terminating when the rectangle ends near coordinate 65535.
	for ty := int(rect.Y); ty < int(rect.Y)+int(rect.Height); ty += hextileTileSize {
		th := min32(hextileTileSize, int(rect.Y)+int(rect.Height)-ty)
		for tx := int(rect.X); tx < int(rect.X)+int(rect.Width); tx += hextileTileSize {
			tw := min32(hextileTileSize, int(rect.X)+int(rect.Width)-tx)
			tile := Rectangle{X: uint16(tx), Y: uint16(ty), Width: uint16(tw), Height: uint16(th)}
			enc.encodeTile(buf, snap, tile)
		}
	}
	return buf.Bytes(), nil
}

// tileSubrect is one foreground run inside a tile, in tile-relative
// coordinates with 1-based extents capped at 16.
type tileSubrect struct {
	x, y, w, h int
	pixel      uint32
}

func (enc *HextileEncoder) encodeTile(buf *bytes.Buffer, snap *Snapshot, tile Rectangle) {
	pixels := tilePixels(snap, tile)
	bg, fg, colors := analyzeTile(pixels)

	bpp := snap.Format.BytesPerPixel()
	rawCost := tile.Area() * bpp

	switch {
	case colors == 1:
		if enc.bgValid && bg == enc.prevBG {
			buf.WriteByte(0)
			return
		}
		buf.WriteByte(HextileBackgroundSpecified)
		writePixel(buf, snap.Format, bg)
		enc.setBG(bg)

	case colors == 2:
		subrects := extractSubrects(pixels, int(tile.Width), int(tile.Height), bg, false)
		cost := subrectCost(enc, bg, fg, len(subrects), bpp, false)
		if len(subrects) > 255 || cost >= rawCost {
			enc.writeRawTile(buf, snap, tile, pixels)
			return
		}
		subenc := uint8(HextileAnySubrects)
		if !enc.bgValid || bg != enc.prevBG {
			subenc |= HextileBackgroundSpecified
		}
		if !enc.fgValid || fg != enc.prevFG {
			subenc |= HextileForegroundSpecified
		}
		buf.WriteByte(subenc)
		if subenc&HextileBackgroundSpecified != 0 {
			writePixel(buf, snap.Format, bg)
		}
		if subenc&HextileForegroundSpecified != 0 {
			writePixel(buf, snap.Format, fg)
		}
		buf.WriteByte(uint8(len(subrects)))
		for _, sr := range subrects {
			buf.WriteByte(uint8(sr.x<<4 | sr.y))
			buf.WriteByte(uint8((sr.w-1)<<4 | (sr.h - 1)))
		}
		enc.setBG(bg)
		enc.setFG(fg)

	default:
		subrects := extractSubrects(pixels, int(tile.Width), int(tile.Height), bg, true)
		cost := subrectCost(enc, bg, 0, len(subrects), bpp, true)
		if len(subrects) > 255 || cost >= rawCost {
			enc.writeRawTile(buf, snap, tile, pixels)
			return
		}
		subenc := uint8(HextileAnySubrects | HextileSubrectsColoured)
		if !enc.bgValid || bg != enc.prevBG {
			subenc |= HextileBackgroundSpecified
		}
		buf.WriteByte(subenc)
		if subenc&HextileBackgroundSpecified != 0 {
			writePixel(buf, snap.Format, bg)
		}
		buf.WriteByte(uint8(len(subrects)))
		for _, sr := range subrects {
			writePixel(buf, snap.Format, sr.pixel)
			buf.WriteByte(uint8(sr.x<<4 | sr.y))
			buf.WriteByte(uint8((sr.w-1)<<4 | (sr.h - 1)))
		}
		enc.setBG(bg)
		// Colored subrects leave the shared foreground untouched.
	}
}

// writeRawTile emits the raw-tile escape. The carried colors are
// invalidated so the next tile re-specifies them; decoders disagree on
// whether colors survive a raw tile, and re-sending is always safe.
func (enc *HextileEncoder) writeRawTile(buf *bytes.Buffer, snap *Snapshot, tile Rectangle, pixels []uint32) {
	buf.WriteByte(HextileRaw)
	for _, p := range pixels {
		writePixel(buf, snap.Format, p)
	}
	enc.bgValid = false
	enc.fgValid = false
}

func (enc *HextileEncoder) setBG(bg uint32) {
	enc.prevBG = bg
	enc.bgValid = true
}

func (enc *HextileEncoder) setFG(fg uint32) {
	enc.prevFG = fg
	enc.fgValid = true
}

// subrectCost estimates the encoded tile size for the subrect branch.
func subrectCost(enc *HextileEncoder, bg, fg uint32, nsub, bpp int, colored bool) int {
	cost := 2 // subencoding byte + subrect count
	if !enc.bgValid || bg != enc.prevBG {
		cost += bpp
	}
	if colored {
		cost += nsub * (bpp + 2)
	} else {
		if !enc.fgValid || fg != enc.prevFG {
			cost += bpp
		}
		cost += nsub * 2
	}
	return cost
}

// tilePixels assembles the tile's pixel values in scan-line order.
func tilePixels(snap *Snapshot, tile Rectangle) []uint32 {
	out := make([]uint32, 0, tile.Area())
	for y := 0; y < int(tile.Height); y++ {
		for x := 0; x < int(tile.Width); x++ {
			out = append(out, snap.PixelAt(int(tile.X)+x, int(tile.Y)+y))
		}
	}
	return out
}

// analyzeTile returns the dominant (background) color, the second
// color when exactly two are present, and the distinct color count.
func analyzeTile(pixels []uint32) (bg, fg uint32, colors int) {
	counts := make(map[uint32]int, 8)
	for _, p := range pixels {
		counts[p]++
	}
	best := -1
	for p, n := range counts {
		if n > best || (n == best && p < bg) {
			bg, best = p, n
		}
	}
	if len(counts) == 2 {
		for p := range counts {
			if p != bg {
				fg = p
			}
		}
	}
	return bg, fg, len(counts)
}

// extractSubrects covers every non-background pixel with maximal
// greedy rectangles. With colored=false the tile is known two-color
// and runs extend over the single foreground; with colored=true each
// rectangle is uniform in whatever color it covers.
func extractSubrects(pixels []uint32, w, h int, bg uint32, colored bool) []tileSubrect {
	claimed := make([]bool, len(pixels))
	var out []tileSubrect
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if claimed[idx] || pixels[idx] == bg {
				continue
			}
			c := pixels[idx]
			// Grow the run rightwards.
			rw := 1
			for x+rw < w {
				j := y*w + x + rw
				if claimed[j] || pixels[j] != c {
					break
				}
				rw++
			}
			// Then downwards while the whole row segment matches.
			rh := 1
			for y+rh < h {
				ok := true
				for i := 0; i < rw; i++ {
					j := (y+rh)*w + x + i
					if claimed[j] || pixels[j] != c {
						ok = false
						break
					}
				}
				if !ok {
					break
				}
				rh++
			}
			for dy := 0; dy < rh; dy++ {
				for dx := 0; dx < rw; dx++ {
					claimed[(y+dy)*w+x+dx] = true
				}
			}
			out = append(out, tileSubrect{x: x, y: y, w: rw, h: rh, pixel: c})
		}
	}
	return out
}

// writePixel appends one pixel in the format's native byte layout.
func writePixel(buf *bytes.Buffer, pf PixelFormat, pixel uint32) {
	var scratch [4]byte
	pf.PutPixel(scratch[:], pixel)
	buf.Write(scratch[:pf.BytesPerPixel()])
}
