// Package scene detects abrupt content changes between processed frames so
// the tracker can forget targets that belonged to the previous view.
package scene

import (
	"image"

	"github.com/corona10/goimagehash"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

// ThumbSize is the edge of the nearest-sampled thumbnail that gets hashed.
// Hashing the full frame would resize millions of pixels per frame.
const ThumbSize = 64

// Detector compares difference hashes of consecutive frames. It is used from
// the processing role only and is not safe for concurrent use.
type Detector struct {
	threshold int
	last      *goimagehash.ImageHash
	thumb     *image.RGBA
}

// NewDetector reports a cut when the Hamming distance between consecutive
// hashes is at least threshold (1..64).
func NewDetector(threshold int) *Detector {
	return &Detector{
		threshold: threshold,
		thumb:     image.NewRGBA(image.Rect(0, 0, ThumbSize, ThumbSize)),
	}
}

// Cut hashes f and reports whether it differs from the previous frame by a
// scene cut, along with the distance. The first frame is never a cut.
func (d *Detector) Cut(f *frame.Frame) (bool, int, error) {
	if err := Thumbnail(f, d.thumb); err != nil {
		return false, 0, err
	}
	hash, err := goimagehash.DifferenceHash(d.thumb)
	if err != nil {
		return false, 0, apperr.Wrap(err, apperr.CodeInternal, "hashing frame")
	}

	prev := d.last
	d.last = hash
	if prev == nil {
		return false, 0, nil
	}
	dist, err := prev.Distance(hash)
	if err != nil {
		return false, 0, apperr.Wrap(err, apperr.CodeInternal, "comparing frame hashes")
	}
	return dist >= d.threshold, dist, nil
}

// Reset forgets the previous hash.
func (d *Detector) Reset() { d.last = nil }

// Thumbnail nearest-samples f into dst, converting to RGBA.
func Thumbnail(f *frame.Frame, dst *image.RGBA) error {
	ro, gO, bo, ok := f.Format.Offsets()
	if !ok {
		return apperr.Newf(apperr.CodeUnsupportedFormat, "pixel format %s", f.Format)
	}
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		row := f.Row(y * f.Height / h)
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			px := row[(x*f.Width/w)*frame.BytesPerPixel:]
			o := out[x*4:]
			o[0], o[1], o[2], o[3] = px[ro], px[gO], px[bo], 0xff
		}
	}
	return nil
}
