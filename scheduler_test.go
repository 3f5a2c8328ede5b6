package rfbserver

import (
	"testing"
)

func newTestScheduler(t *testing.T, width, height uint16) (*updateScheduler, *DirtySet, *Framebuffer) {
	t.Helper()
	snap := makeSnapshot(t, width, height, PixelFormat32bit, noise)
	fb := NewFramebuffer(snap)
	dirty := NewDirtySet(width, height)
	return newUpdateScheduler(DefaultRegistry(), fb, dirty), dirty, fb
}

func TestSchedulerNoPendingRequest(t *testing.T) {
	sched, dirty, _ := newTestScheduler(t, 64, 64)
	dirty.Add(Rectangle{Width: 10, Height: 10})

	msg, err := sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Fatal("update built with no request pending")
	}
	if dirty.Len() == 0 {
		t.Error("dirty state consumed without a request")
	}
}

// An incremental request with a clean region defers: no update, and the
// request stays armed until a change lands inside it.
func TestSchedulerIncrementalDefers(t *testing.T) {
	sched, dirty, _ := newTestScheduler(t, 64, 64)

	sched.HandleRequest(&FramebufferUpdateRequest{Incremental: 1, Width: 64, Height: 64})
	msg, err := sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Fatal("incremental request answered with nothing dirty")
	}

	dirty.Add(Rectangle{X: 4, Y: 4, Width: 8, Height: 8})
	msg, err = sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("deferred request not serviced after dirty change")
	}
	if len(msg.Rects) != 1 {
		t.Fatalf("rects = %d, want 1", len(msg.Rects))
	}
	want := Rectangle{X: 4, Y: 4, Width: 8, Height: 8}
	if msg.Rects[0].Rect != want {
		t.Errorf("rect = %s, want %s", msg.Rects[0].Rect, want)
	}

	// The request is one-shot.
	dirty.Add(Rectangle{Width: 2, Height: 2})
	msg, err = sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Error("consumed request serviced twice")
	}
}

func TestSchedulerNonIncrementalForcesFullRegion(t *testing.T) {
	sched, _, _ := newTestScheduler(t, 64, 64)

	sched.HandleRequest(&FramebufferUpdateRequest{Incremental: 0, Width: 64, Height: 64})
	msg, err := sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("non-incremental request produced no update")
	}
	if got, want := coveredArea(updateRects(msg)), 64*64; got != want {
		t.Errorf("covered area = %d, want %d", got, want)
	}
}

func TestSchedulerRequestOutsideFramebufferDropped(t *testing.T) {
	sched, dirty, _ := newTestScheduler(t, 64, 64)
	dirty.Add(Rectangle{Width: 10, Height: 10})

	sched.HandleRequest(&FramebufferUpdateRequest{Incremental: 1, X: 1000, Y: 1000, Width: 50, Height: 50})
	msg, err := sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Fatal("out-of-bounds request produced an update")
	}

	// The request was consumed, not deferred.
	dirty.Add(Rectangle{X: 20, Y: 20, Width: 4, Height: 4})
	msg, err = sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Error("dropped request serviced later")
	}
}

// Dirty area outside the requested region survives for later requests.
func TestSchedulerPartialRegion(t *testing.T) {
	sched, dirty, _ := newTestScheduler(t, 64, 64)
	dirty.Add(Rectangle{X: 0, Y: 0, Width: 64, Height: 64})

	sched.HandleRequest(&FramebufferUpdateRequest{Incremental: 1, Width: 32, Height: 64})
	msg, err := sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("no update for dirty sub-region")
	}
	if got, want := coveredArea(updateRects(msg)), 32*64; got != want {
		t.Errorf("sent area = %d, want %d", got, want)
	}

	sched.HandleRequest(&FramebufferUpdateRequest{Incremental: 1, Width: 64, Height: 64})
	msg, err = sched.BuildUpdate()
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("remainder lost")
	}
	if got, want := coveredArea(updateRects(msg)), 32*64; got != want {
		t.Errorf("remainder area = %d, want %d", got, want)
	}
}

func TestSchedulerEncoderSelection(t *testing.T) {
	tests := []struct {
		name  string
		prefs []EncodingType
		want  EncodingType
	}{
		{name: "no preferences", prefs: nil, want: EncRaw},
		{name: "first supported wins", prefs: []EncodingType{EncHextile, EncRaw}, want: EncHextile},
		{name: "unsupported skipped", prefs: []EncodingType{EncTight, EncZRLE, EncRaw}, want: EncZRLE},
		{name: "pseudo encodings skipped", prefs: []EncodingType{EncDesktopSizePseudo, EncColorPseudo}, want: EncRaw},
		{name: "nothing supported falls back", prefs: []EncodingType{EncTight, EncCopyRect}, want: EncRaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, _, _ := newTestScheduler(t, 32, 32)
			sched.SetPreferences(tt.prefs)

			sched.HandleRequest(&FramebufferUpdateRequest{Incremental: 0, Width: 32, Height: 32})
			msg, err := sched.BuildUpdate()
			if err != nil {
				t.Fatal(err)
			}
			if msg == nil || len(msg.Rects) == 0 {
				t.Fatal("no update produced")
			}
			if msg.Rects[0].Enc != tt.want {
				t.Errorf("encoding = %s, want %s", msg.Rects[0].Enc, tt.want)
			}
		})
	}
}

// Stream-stateful codecs must be one instance per scheduler, reused
// across updates.
func TestSchedulerCachesEncoderInstances(t *testing.T) {
	sched, _, _ := newTestScheduler(t, 32, 32)
	sched.SetPreferences([]EncodingType{EncZlib})

	a := sched.selectEncoder()
	b := sched.selectEncoder()
	if a != b {
		t.Error("scheduler handed out distinct codec instances for one session")
	}
	if a.Type() != EncZlib {
		t.Errorf("encoder type = %s, want zlib", a.Type())
	}
}

func updateRects(msg *FramebufferUpdate) []Rectangle {
	out := make([]Rectangle, len(msg.Rects))
	for i, r := range msg.Rects {
		out[i] = r.Rect
	}
	return out
}
