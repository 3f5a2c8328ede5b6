package rfbserver

import (
	"context"
	"time"
)

// FramePusher consumes capture output. The capture collaborator calls
// PushFrame with a full-buffer snapshot and the rectangles it knows
// changed; the core never polls the display itself. *Server satisfies
// this interface.
type FramePusher interface {
	PushFrame(snap *Snapshot, changed []Rectangle)
}

// TestPattern is a synthetic capture source: a fixed gradient with a
// block bouncing across it. It stands in for a platform capture
// backend in the daemon's default configuration and in tests.
type TestPattern struct {
	Width, Height uint16
	Format        PixelFormat

	blockSize int
	tick      int
}

// NewTestPattern returns a source with the given geometry in the
// canonical 32-bit format.
func NewTestPattern(width, height uint16) *TestPattern {
	return &TestPattern{
		Width:     width,
		Height:    height,
		Format:    PixelFormat32bit,
		blockSize: 64,
	}
}

// Frame renders the current frame and the rectangle that changed since
// the previous one.
func (tp *TestPattern) Frame() (*Snapshot, []Rectangle) {
	prev := tp.blockRect(tp.tick)
	tp.tick++
	cur := tp.blockRect(tp.tick)

	bpp := tp.Format.BytesPerPixel()
	pix := make([]byte, int(tp.Width)*int(tp.Height)*bpp)
	for y := 0; y < int(tp.Height); y++ {
		for x := 0; x < int(tp.Width); x++ {
			pixel := tp.pixelAt(x, y, cur)
			tp.Format.PutPixel(pix[(y*int(tp.Width)+x)*bpp:], pixel)
		}
	}
	snap, _ := NewSnapshot(tp.Width, tp.Height, tp.Format, pix)
	changed := []Rectangle{prev.Union(cur)}
	if tp.tick == 1 {
		changed = []Rectangle{snap.Bounds()}
	}
	return snap, changed
}

// Run pushes frames at the given interval until the context is
// cancelled.
func (tp *TestPattern) Run(ctx context.Context, dst FramePusher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, changed := tp.Frame()
			dst.PushFrame(snap, changed)
		}
	}
}

func (tp *TestPattern) blockRect(tick int) Rectangle {
	travel := int(tp.Width) - tp.blockSize
	if travel <= 0 {
		return Rectangle{Width: tp.Width, Height: tp.Height}
	}
	pos := (tick * 8) % (2 * travel)
	if pos > travel {
		pos = 2*travel - pos
	}
	y := (int(tp.Height) - tp.blockSize) / 2
	return Rectangle{X: uint16(pos), Y: uint16(y), Width: uint16(tp.blockSize), Height: uint16(tp.blockSize)}
}

func (tp *TestPattern) pixelAt(x, y int, block Rectangle) uint32 {
	inBlock := x >= int(block.X) && x < int(block.X)+int(block.Width) &&
		y >= int(block.Y) && y < int(block.Y)+int(block.Height)
	if inBlock {
		return uint32(0xff) << tp.Format.RedShift
	}
	r := uint32(x*int(tp.Format.RedMax)/max32(int(tp.Width)-1, 1)) & uint32(tp.Format.RedMax)
	g := uint32(y*int(tp.Format.GreenMax)/max32(int(tp.Height)-1, 1)) & uint32(tp.Format.GreenMax)
	b := uint32(0x80) & uint32(tp.Format.BlueMax)
	return r<<tp.Format.RedShift | g<<tp.Format.GreenShift | b<<tp.Format.BlueShift
}
