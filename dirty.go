package rfbserver

import (
	"sync"
)

// DirtySet tracks the framebuffer regions known-changed since the last
// flush to one client. Capture-change notifications add rectangles
// from the server's execution context while the session's updater
// drains them, so the set is a small lock-protected mailbox with a
// wakeup channel. Rectangles are clipped to the session's negotiated
// geometry on entry; adjacent and overlapping entries are merged to
// cut per-rectangle header overhead.
type DirtySet struct {
	mu     sync.Mutex
	bounds Rectangle
	rects  []Rectangle
	wake   chan struct{}
}

// NewDirtySet returns an empty set clipped to width×height. A session
// starts with an empty set; the first non-incremental request forces
// the full-screen send.
func NewDirtySet(width, height uint16) *DirtySet {
	return &DirtySet{
		bounds: Rectangle{Width: width, Height: height},
		wake:   make(chan struct{}, 1),
	}
}

// Wake returns the channel signalled whenever the set becomes
// non-empty, unblocking a deferred incremental request.
func (d *DirtySet) Wake() <-chan struct{} {
	return d.wake
}

// Add marks rectangles dirty. Out-of-bounds parts are clipped away;
// empty results are dropped.
func (d *DirtySet) Add(rects ...Rectangle) {
	d.mu.Lock()
	added := false
	for _, r := range rects {
		clipped, ok := r.Intersect(d.bounds)
		if !ok {
			continue
		}
		d.insert(clipped)
		added = true
	}
	d.mu.Unlock()
	if added {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

// insert merges the rectangle with overlapping or edge-adjacent
// entries until no merge applies. Union can over-report slightly,
// which wastes bandwidth but is always safe; it never grows past the
// clip bounds of its inputs' union.
func (d *DirtySet) insert(r Rectangle) {
	for {
		merged := false
		for i, existing := range d.rects {
			if existing.adjacent(r) {
				r = existing.Union(r)
				d.rects = append(d.rects[:i], d.rects[i+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}
	d.rects = append(d.rects, r)
}

// TakeIntersecting removes and returns the dirty area overlapping
// region. Parts of dirty rectangles outside the region stay in the
// set; only what is actually sent is cleared.
func (d *DirtySet) TakeIntersecting(region Rectangle) []Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()

	var taken []Rectangle
	var remaining []Rectangle
	for _, r := range d.rects {
		hit, ok := r.Intersect(region)
		if !ok {
			remaining = append(remaining, r)
			continue
		}
		taken = append(taken, hit)
		remaining = append(remaining, subtract(r, hit)...)
	}
	d.rects = remaining
	return taken
}

// Len returns the number of pending dirty rectangles.
func (d *DirtySet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rects)
}

// subtract returns the parts of a not covered by b. b must be fully
// contained in a for the usual TakeIntersecting call, but the
// decomposition holds for any intersecting pair.
func subtract(a, b Rectangle) []Rectangle {
	inner, ok := a.Intersect(b)
	if !ok {
		return []Rectangle{a}
	}
	var out []Rectangle
	ax2 := int(a.X) + int(a.Width)
	ay2 := int(a.Y) + int(a.Height)
	ix2 := int(inner.X) + int(inner.Width)
	iy2 := int(inner.Y) + int(inner.Height)

	if inner.Y > a.Y { // band above
		out = append(out, Rectangle{X: a.X, Y: a.Y, Width: a.Width, Height: inner.Y - a.Y})
	}
	if iy2 < ay2 { // band below
		out = append(out, Rectangle{X: a.X, Y: uint16(iy2), Width: a.Width, Height: uint16(ay2 - iy2)})
	}
	if inner.X > a.X { // left of inner
		out = append(out, Rectangle{X: a.X, Y: inner.Y, Width: inner.X - a.X, Height: inner.Height})
	}
	if ix2 < ax2 { // right of inner
		out = append(out, Rectangle{X: uint16(ix2), Y: inner.Y, Width: uint16(ax2 - ix2), Height: inner.Height})
	}
	return out
}
