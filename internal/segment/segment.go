// Package segment classifies frame pixels as foreground or background by
// colour. Two evaluation paths exist: a per-pixel scalar loop and a batch loop
// that rejects pixels eight at a time with word-parallel byte comparisons
// before confirming survivors with the scalar predicate. Both produce
// identical masks.
package segment

import (
	"encoding/binary"
	"log/slog"
	"math/bits"

	"golang.org/x/sys/cpu"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

// batchPixels is the number of pixels rejected per batch step.
const batchPixels = 8

// Options tune a Segmenter.
type Options struct {
	// ForceScalar disables the batch path even when the CPU supports it.
	ForceScalar bool
}

// BatchAvailable reports whether the CPU has the wide integer registers the
// batch path is tuned for.
func BatchAvailable() bool {
	return cpu.X86.HasSSE2 || cpu.ARM64.HasASIMD
}

// Segmenter evaluates a fixed criteria set. It is not safe for concurrent use
// since it reuses its mask buffer.
type Segmenter struct {
	criteria []Criterion
	batch    bool
	boxes    map[frame.PixelFormat][]wordBox
	mask     *Mask
}

// New compiles criteria. Disabled criteria are dropped; an invalid one is a
// Config error.
func New(criteria []Criterion, opts Options) (*Segmenter, error) {
	s := &Segmenter{
		batch: !opts.ForceScalar && BatchAvailable(),
		boxes: make(map[frame.PixelFormat][]wordBox, 2),
		mask:  &Mask{},
	}
	for _, c := range criteria {
		if !c.Enabled {
			continue
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		s.criteria = append(s.criteria, c)
	}
	for _, f := range []frame.PixelFormat{frame.FormatBGRA, frame.FormatRGBA} {
		r, g, b, _ := f.Offsets()
		boxes := make([]wordBox, len(s.criteria))
		for i := range s.criteria {
			boxes[i] = newWordBox(s.criteria[i].box(), r, g, b)
		}
		s.boxes[f] = boxes
	}
	slog.Debug("segmenter ready", "criteria", len(s.criteria), "batch", s.batch)
	return s, nil
}

// Batch reports whether the batch path is in use.
func (s *Segmenter) Batch() bool { return s.batch }

// Segment is the package-level convenience for one-off classification.
func Segment(f *frame.Frame, criteria []Criterion) (*Mask, error) {
	s, err := New(criteria, Options{})
	if err != nil {
		return nil, err
	}
	return s.Segment(f)
}

// Segment classifies f. The returned mask is owned by the Segmenter and is
// overwritten by the next call.
func (s *Segmenter) Segment(f *frame.Frame) (*Mask, error) {
	if err := s.SegmentInto(f, s.mask); err != nil {
		return nil, err
	}
	return s.mask, nil
}

// SegmentInto classifies f into m, resizing m to the frame.
func (s *Segmenter) SegmentInto(f *frame.Frame, m *Mask) error {
	return s.segment(f, m, s.batch)
}

func (s *Segmenter) segment(f *frame.Frame, m *Mask, batch bool) error {
	ro, gO, bo, ok := f.Format.Offsets()
	if !ok {
		return apperr.Newf(apperr.CodeUnsupportedFormat, "unsupported pixel format %s", f.Format)
	}
	m.Reset(f.Width, f.Height)
	m.Timestamp = f.Timestamp
	if len(s.criteria) == 0 {
		return nil
	}
	boxes := s.boxes[f.Format]
	for y := 0; y < f.Height; y++ {
		row := f.Row(y)
		x := 0
		if batch {
			x = s.batchRow(row, y, m, boxes, ro, gO, bo)
		}
		s.scalarRow(row, x, y, m, ro, gO, bo)
	}
	return nil
}

// scalarRow classifies pixels [from, width) of row y.
func (s *Segmenter) scalarRow(row []byte, from, y int, m *Mask, ro, gO, bo int) {
	for x := from; x < m.Width; x++ {
		p := row[x*frame.BytesPerPixel:]
		if s.match(p[ro], p[gO], p[bo]) {
			m.Set(x, y)
		}
	}
}

// batchRow classifies whole batches of row y and returns the first column it
// did not cover.
func (s *Segmenter) batchRow(row []byte, y int, m *Mask, boxes []wordBox, ro, gO, bo int) int {
	x := 0
	for ; x+batchPixels <= m.Width; x += batchPixels {
		chunk := row[x*frame.BytesPerPixel : (x+batchPixels)*frame.BytesPerPixel]
		var cand uint8
		for w := 0; w < batchPixels/2; w++ {
			word := binary.LittleEndian.Uint64(chunk[w*8:])
			for i := range boxes {
				hit := boxes[i].contains(word)
				if hit&lowPixel == lowPixel {
					cand |= 1 << (2 * w)
				}
				if hit&highPixel == highPixel {
					cand |= 2 << (2 * w)
				}
			}
		}
		for cand != 0 {
			i := bits.TrailingZeros8(cand)
			cand &= cand - 1
			p := chunk[i*frame.BytesPerPixel:]
			if s.match(p[ro], p[gO], p[bo]) {
				m.Set(x+i, y)
			}
		}
	}
	return x
}

func (s *Segmenter) match(r, g, b uint8) bool {
	for i := range s.criteria {
		if s.criteria[i].Match(r, g, b) {
			return true
		}
	}
	return false
}
