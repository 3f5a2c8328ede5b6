package rfbserver

import (
	"fmt"
	"sync/atomic"
)

// Snapshot is one captured frame: dimensions, pixel format and the raw
// pixel bytes in scan-line order. A snapshot is immutable after
// construction; capture delivers a full-buffer replacement, never an
// in-place mutation, so sessions can hold a snapshot reference for the
// duration of one encode pass without locking.
type Snapshot struct {
	Width, Height uint16
	Format        PixelFormat
	Pix           []byte
}

// NewSnapshot validates the buffer-length invariant and wraps the
// pixel buffer. len(pix) must equal width × height × bytes-per-pixel.
func NewSnapshot(width, height uint16, pf PixelFormat, pix []byte) (*Snapshot, error) {
	want := int(width) * int(height) * pf.BytesPerPixel()
	if len(pix) != want {
		return nil, serverErrorf("snapshot", ErrInternal,
			"pixel buffer length %d does not match %dx%d at %d bytes-per-pixel (want %d)",
			len(pix), width, height, pf.BytesPerPixel(), want)
	}
	return &Snapshot{Width: width, Height: height, Format: pf, Pix: pix}, nil
}

// Bounds returns the full-frame rectangle.
func (s *Snapshot) Bounds() Rectangle {
	return Rectangle{Width: s.Width, Height: s.Height}
}

// stride is the byte length of one scan line.
func (s *Snapshot) stride() int {
	return int(s.Width) * s.Format.BytesPerPixel()
}

// PixelAt returns the assembled pixel value at x, y.
func (s *Snapshot) PixelAt(x, y int) uint32 {
	off := y*s.stride() + x*s.Format.BytesPerPixel()
	return s.Format.ReadPixel(s.Pix[off:])
}

// Extract copies the rectangle's pixels, scan line by scan line, into
// a contiguous buffer in the framebuffer's native layout. The caller
// guarantees the rectangle lies inside the snapshot bounds.
func (s *Snapshot) Extract(r Rectangle) []byte {
	bpp := s.Format.BytesPerPixel()
	rowLen := int(r.Width) * bpp
	out := make([]byte, rowLen*int(r.Height))
	for row := 0; row < int(r.Height); row++ {
		src := (int(r.Y)+row)*s.stride() + int(r.X)*bpp
		copy(out[row*rowLen:(row+1)*rowLen], s.Pix[src:src+rowLen])
	}
	return out
}

// Framebuffer holds the latest captured snapshot for the whole server
// process. The capture collaborator is the only writer; every session
// reads concurrently through Latest. Writes are full-pointer swaps.
type Framebuffer struct {
	current atomic.Pointer[Snapshot]
}

// NewFramebuffer seeds the framebuffer with an initial snapshot.
func NewFramebuffer(initial *Snapshot) *Framebuffer {
	fb := &Framebuffer{}
	fb.current.Store(initial)
	return fb
}

// Latest returns the most recent snapshot.
func (fb *Framebuffer) Latest() *Snapshot {
	return fb.current.Load()
}

// Swap installs a new snapshot and reports whether the screen geometry
// changed. RFB has no pre-extension resize message, so a geometry
// change is fatal to sessions negotiated at the old size.
func (fb *Framebuffer) Swap(next *Snapshot) (resized bool) {
	prev := fb.current.Swap(next)
	return prev != nil && (prev.Width != next.Width || prev.Height != next.Height)
}

// String implements the fmt.Stringer interface.
func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot %dx%d %s", s.Width, s.Height, s.Format)
}
