package rfbserver

import (
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestRecorderWritesAVI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session")

	rec, err := NewRecorder(path, 64, 48, 30, 75)
	if err != nil {
		t.Fatal(err)
	}

	snap := makeSnapshot(t, 64, 48, PixelFormat32bit, checker(0x102030, 0xc0ffee))
	rec.AddFrame(snap)
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	// Extension is appended when missing.
	info, err := os.Stat(path + ".avi")
	if err != nil {
		t.Fatalf("output file: %v", err)
	}
	if info.Size() == 0 {
		t.Error("output file is empty")
	}
}

func TestRecorderDropsOverRateFrames(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(filepath.Join(dir, "fast.avi"), 16, 16, 1, 75)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	snap := makeSnapshot(t, 16, 16, PixelFormat32bit, func(x, y int) uint32 { return 0x333333 })
	before := rec.last
	rec.AddFrame(snap)
	first := rec.last
	if first == before {
		t.Fatal("first frame not recorded")
	}
	// A frame that arrives within the same interval is dropped.
	rec.AddFrame(snap)
	if rec.last != first {
		t.Error("over-rate frame was not dropped")
	}
}

func TestSnapImage(t *testing.T) {
	snap := makeSnapshot(t, 8, 8, PixelFormat32bit, func(x, y int) uint32 { return 0x00ff8040 })
	img := snapImage(snap)

	r, g, b, a := img.At(3, 4).RGBA()
	if r>>8 != 0xff || g>>8 != 0x80 || b>>8 != 0x40 || a>>8 != 0xff {
		t.Errorf("RGBA = %x %x %x %x", r>>8, g>>8, b>>8, a>>8)
	}
	// Sanity: the image is JPEG encodable.
	if err := jpeg.Encode(discardWriter{}, img, nil); err != nil {
		t.Errorf("jpeg encode: %v", err)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
