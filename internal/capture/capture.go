// Package capture opens frame sources: image directories for replay, the
// desktop through platform screenshot tools, and (in capture/video) cameras
// and video files.
package capture

import (
	"context"
	"image"
	"image/draw"
	"time"

	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

// Opener opens one kind of source.
type Opener func(ctx context.Context, cfg config.CaptureConfig) (frame.Source, error)

// Registry maps capture kinds to openers.
type Registry map[string]Opener

// Default knows the sources that need no native libraries.
func Default() Registry {
	return Registry{
		"images": OpenImages,
		"screen": OpenScreen,
	}
}

// Open satisfies pipeline.SourceFactory.
func (r Registry) Open(ctx context.Context, cfg *config.Config) (frame.Source, error) {
	open, ok := r[cfg.Capture.Kind]
	if !ok {
		return nil, apperr.Newf(apperr.CodeConfig, "capture kind %q is not available in this build", cfg.Capture.Kind)
	}
	return open(ctx, cfg.Capture)
}

// Period is the frame interval for fps, never less than a millisecond.
func Period(fps float64) time.Duration {
	if fps <= 0 {
		return time.Second / 30
	}
	return max(time.Duration(float64(time.Second)/fps), time.Millisecond)
}

// ToFrame copies img into a pooled RGBA frame.
func ToFrame(img image.Image, pool *frame.Pool, ts time.Time) (*frame.Frame, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, apperr.New(apperr.CodeUnsupportedFormat, "empty image")
	}
	f := pool.Get(b.Dx(), b.Dy(), frame.FormatRGBA, ts)
	dst := &image.RGBA{Pix: f.Pix, Stride: f.Stride, Rect: image.Rect(0, 0, f.Width, f.Height)}
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return f, nil
}

// Rewinder decides when a looping file reader may rewind. A failed read
// rewinds once; failing again before any frame was delivered means the file
// has nothing playable and the stream must end.
type Rewinder struct {
	loop    bool
	rewound bool
}

// NewRewinder returns a Rewinder that never rewinds unless loop is set.
func NewRewinder(loop bool) *Rewinder { return &Rewinder{loop: loop} }

// Rewind reports whether the reader should seek to the start and read again.
func (r *Rewinder) Rewind() bool {
	if !r.loop || r.rewound {
		return false
	}
	r.rewound = true
	return true
}

// Delivered records a successful read.
func (r *Rewinder) Delivered() { r.rewound = false }

// wait sleeps until due, returning false when timeout or ctx expires first.
func wait(ctx context.Context, due time.Time, timeout time.Duration) (bool, error) {
	d := time.Until(due)
	if d <= 0 {
		return true, nil
	}
	if d > timeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return true, nil
	}
}
