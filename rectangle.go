package rfbserver

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Rectangle is a framebuffer region in pixel coordinates. It doubles
// as the wire-format rectangle header, sans the encoding-type field.
type Rectangle struct {
	X, Y          uint16
	Width, Height uint16
}

// String implements the fmt.Stringer interface.
func (r Rectangle) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}

// Area returns the number of pixels the rectangle covers.
func (r Rectangle) Area() int {
	return int(r.Width) * int(r.Height)
}

// Empty reports whether the rectangle covers no pixels.
func (r Rectangle) Empty() bool {
	return r.Width == 0 || r.Height == 0
}

// Intersect returns the overlap of r and other. The second return is
// false when the rectangles do not overlap.
func (r Rectangle) Intersect(other Rectangle) (Rectangle, bool) {
	x1 := max16(r.X, other.X)
	y1 := max16(r.Y, other.Y)
	x2 := min32(int(r.X)+int(r.Width), int(other.X)+int(other.Width))
	y2 := min32(int(r.Y)+int(r.Height), int(other.Y)+int(other.Height))
	if int(x1) >= x2 || int(y1) >= y2 {
		return Rectangle{}, false
	}
	return Rectangle{X: x1, Y: y1, Width: uint16(x2 - int(x1)), Height: uint16(y2 - int(y1))}, true
}

// Union returns the smallest rectangle covering both r and other.
func (r Rectangle) Union(other Rectangle) Rectangle {
	if r.Empty() {
		return other
	}
	if other.Empty() {
		return r
	}
	x1 := min16(r.X, other.X)
	y1 := min16(r.Y, other.Y)
	x2 := max32(int(r.X)+int(r.Width), int(other.X)+int(other.Width))
	y2 := max32(int(r.Y)+int(r.Height), int(other.Y)+int(other.Height))
	return Rectangle{X: x1, Y: y1, Width: uint16(x2 - int(x1)), Height: uint16(y2 - int(y1))}
}

// Clip restricts r to a width×height framebuffer. Merged dirty
// rectangles must never encode pixels outside the true bounds.
func (r Rectangle) Clip(width, height uint16) (Rectangle, bool) {
	return r.Intersect(Rectangle{Width: width, Height: height})
}

// Contains reports whether other lies fully inside r.
func (r Rectangle) Contains(other Rectangle) bool {
	return other.X >= r.X && other.Y >= r.Y &&
		int(other.X)+int(other.Width) <= int(r.X)+int(r.Width) &&
		int(other.Y)+int(other.Height) <= int(r.Y)+int(r.Height)
}

// adjacent reports whether the rectangles overlap or share an edge,
// making a merge lossless enough to be worth the header savings.
func (r Rectangle) adjacent(other Rectangle) bool {
	ax2 := int(r.X) + int(r.Width)
	ay2 := int(r.Y) + int(r.Height)
	bx2 := int(other.X) + int(other.Width)
	by2 := int(other.Y) + int(other.Height)
	return int(r.X) <= bx2 && int(other.X) <= ax2 && int(r.Y) <= by2 && int(other.Y) <= ay2
}

// Write writes the 8-byte rectangle header to w.
func (r Rectangle) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, &r)
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int) int {
	if a > b {
		return a
	}
	return b
}
