package video

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

// writeClip records n solid frames of bgr colour to an MJPG file.
func writeClip(t *testing.T, n int, bgr gocv.Scalar) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := gocv.VideoWriterFile(path, "MJPG", 10, 32, 24, true)
	if err != nil {
		t.Skipf("no video writer available: %v", err)
	}
	img := gocv.NewMatWithSizeFromScalar(bgr, 24, 32, gocv.MatTypeCV8UC3)
	defer img.Close()
	for range n {
		if err := w.Write(img); err != nil {
			t.Fatalf("writing frame: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return path
}

// near allows for MJPG compression error.
func near(got, want byte) bool {
	d := int(got) - int(want)
	return d >= -12 && d <= 12
}

func TestFileFramesAreBGRA(t *testing.T) {
	path := writeClip(t, 3, gocv.NewScalar(40, 120, 200, 0))
	src, err := Open(context.Background(), config.CaptureConfig{Path: path, FPS: 30})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer src.Close()

	var got int
	for {
		f, err := src.TryAcquire(context.Background(), time.Second)
		if apperr.IsCode(err, apperr.CodeEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("TryAcquire() = %v", err)
		}
		if f.Format != frame.FormatBGRA || f.Width != 32 || f.Height != 24 {
			t.Fatalf("frame = %v %dx%d, want BGRA 32x24", f.Format, f.Width, f.Height)
		}
		o := 12*f.Stride + 16*frame.BytesPerPixel
		if px := f.Pix[o : o+4]; !near(px[0], 40) || !near(px[1], 120) || !near(px[2], 200) || px[3] != 0xff {
			t.Errorf("centre pixel = %v, want ~[40 120 200 255]", px)
		}
		f.Release()
		got++
	}
	if got != 3 {
		t.Errorf("frames = %d, want 3", got)
	}
}

func TestLoopingFileRewinds(t *testing.T) {
	path := writeClip(t, 2, gocv.NewScalar(0, 0, 255, 0))
	src, err := Open(context.Background(), config.CaptureConfig{Path: path, FPS: 30, Loop: true})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer src.Close()

	for i := range 5 {
		f, err := src.TryAcquire(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("TryAcquire() #%d = %v, want a frame", i+1, err)
		}
		f.Release()
	}
}
