// Package frame defines captured frames and the source abstraction that
// produces them.
package frame

import (
	"fmt"
	"image"
	"time"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
)

// PixelFormat is the byte order of a 4-byte pixel.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatBGRA
	FormatRGBA
)

func (p PixelFormat) String() string {
	switch p {
	case FormatBGRA:
		return "BGRA"
	case FormatRGBA:
		return "RGBA"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(p))
	}
}

// Offsets returns the byte offsets of the red, green and blue channels.
func (p PixelFormat) Offsets() (r, g, b int, ok bool) {
	switch p {
	case FormatBGRA:
		return 2, 1, 0, true
	case FormatRGBA:
		return 0, 1, 2, true
	default:
		return 0, 0, 0, false
	}
}

// BytesPerPixel is fixed for every supported layout.
const BytesPerPixel = 4

// Frame is an immutable captured image. Pixel data is row-major; Stride is the
// distance in bytes between the starts of consecutive rows.
type Frame struct {
	Pix       []byte
	Width     int
	Height    int
	Stride    int
	Format    PixelFormat
	Timestamp time.Time
	Seq       uint64

	release func()
}

// New validates dimensions and wraps pix without copying.
func New(pix []byte, width, height, stride int, format PixelFormat, ts time.Time) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, apperr.Newf(apperr.CodeInternal, "invalid frame size %dx%d", width, height)
	}
	if stride < width*BytesPerPixel {
		return nil, apperr.Newf(apperr.CodeInternal, "stride %d too small for width %d", stride, width)
	}
	if need := stride*(height-1) + width*BytesPerPixel; len(pix) < need {
		return nil, apperr.Newf(apperr.CodeInternal, "pixel buffer has %d bytes, need %d", len(pix), need)
	}
	return &Frame{Pix: pix, Width: width, Height: height, Stride: stride, Format: format, Timestamp: ts}, nil
}

// OnRelease registers fn to run when the frame is released.
func (f *Frame) OnRelease(fn func()) { f.release = fn }

// Release returns the frame's buffer to its owner. Safe on nil; only the first
// call has an effect.
func (f *Frame) Release() {
	if f == nil || f.release == nil {
		return
	}
	fn := f.release
	f.release = nil
	fn()
}

// Row returns the pixel bytes of row y without padding.
func (f *Frame) Row(y int) []byte {
	off := y * f.Stride
	return f.Pix[off : off+f.Width*BytesPerPixel]
}

// Center returns the centre of the frame in pixel coordinates.
func (f *Frame) Center() (x, y float64) {
	return float64(f.Width) / 2, float64(f.Height) / 2
}

// CropCenter returns a view of the centred w×h region sharing f's pixels.
// Releasing the view releases f. Non-positive or oversized dimensions are
// clamped to the frame.
func (f *Frame) CropCenter(w, h int) *Frame {
	if w <= 0 || w > f.Width {
		w = f.Width
	}
	if h <= 0 || h > f.Height {
		h = f.Height
	}
	if w == f.Width && h == f.Height {
		return f
	}
	x0 := (f.Width - w) / 2
	y0 := (f.Height - h) / 2
	off := y0*f.Stride + x0*BytesPerPixel
	view := &Frame{
		Pix:       f.Pix[off:],
		Width:     w,
		Height:    h,
		Stride:    f.Stride,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		Seq:       f.Seq,
	}
	view.release = f.Release
	return view
}

// Bounds reports the frame rectangle.
func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }
