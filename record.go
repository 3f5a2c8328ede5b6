package rfbserver

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/icza/mjpeg"
)

// Recorder writes the shared framebuffer to an MJPEG AVI file, one
// frame per capture push up to the configured framerate. Useful for
// auditing what a remote viewer was shown.
type Recorder struct {
	avWriter  mjpeg.AviWriter
	quality   int
	framerate int32
	interval  time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewRecorder opens the AVI file sized to the given geometry.
func NewRecorder(path string, width, height uint16, framerate int32, quality int) (*Recorder, error) {
	if !strings.HasSuffix(path, ".avi") {
		path += ".avi"
	}
	if framerate <= 0 {
		framerate = 5
	}
	aw, err := mjpeg.New(path, int32(width), int32(height), framerate)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		avWriter:  aw,
		quality:   quality,
		framerate: framerate,
		interval:  time.Second / time.Duration(framerate),
		logger:    slog.Default().With("component", "recorder"),
	}, nil
}

// AddFrame appends one snapshot, dropping frames that arrive faster
// than the recording framerate.
func (rec *Recorder) AddFrame(snap *Snapshot) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now()
	if now.Sub(rec.last) < rec.interval {
		return
	}
	rec.last = now

	buf := &bytes.Buffer{}
	jOpts := &jpeg.Options{Quality: rec.quality}
	if rec.quality <= 0 {
		jOpts = nil
	}
	if err := jpeg.Encode(buf, snapImage(snap), jOpts); err != nil {
		rec.logger.Error("jpeg encode failed", "error", err)
		return
	}
	if err := rec.avWriter.AddFrame(buf.Bytes()); err != nil {
		rec.logger.Error("avi frame write failed", "error", err)
	}
}

// Close finalizes the AVI index.
func (rec *Recorder) Close() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.avWriter.Close()
}

// snapImage converts a snapshot to an RGBA image, expanding each
// channel to 8 bits.
func snapImage(snap *Snapshot) *image.RGBA {
	pf := snap.Format
	img := image.NewRGBA(image.Rect(0, 0, int(snap.Width), int(snap.Height)))
	for y := 0; y < int(snap.Height); y++ {
		for x := 0; x < int(snap.Width); x++ {
			r, g, b := pf.RGB(snap.PixelAt(x, y))
			i := img.PixOffset(x, y)
			img.Pix[i+0] = scaleChannel(r, pf.RedMax)
			img.Pix[i+1] = scaleChannel(g, pf.GreenMax)
			img.Pix[i+2] = scaleChannel(b, pf.BlueMax)
			img.Pix[i+3] = 0xff
		}
	}
	return img
}

func scaleChannel(v, max uint16) uint8 {
	if max == 0 {
		return uint8(v)
	}
	return uint8(uint32(v) * 255 / uint32(max))
}
