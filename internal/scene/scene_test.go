package scene

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

// gradient builds a BGRA frame whose brightness ramps left to right, or right
// to left when flipped.
func gradient(t *testing.T, w, h int, flipped bool) *frame.Frame {
	t.Helper()
	pix := make([]byte, w*h*frame.BytesPerPixel)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(x * 255 / (w - 1))
			if flipped {
				v = 255 - v
			}
			o := (y*w + x) * frame.BytesPerPixel
			pix[o], pix[o+1], pix[o+2], pix[o+3] = v, v, v, 0xff
		}
	}
	f, err := frame.New(pix, w, h, w*frame.BytesPerPixel, frame.FormatBGRA, time.Unix(0, 0))
	require.NoError(t, err)
	return f
}

func TestDetectorCut(t *testing.T) {
	d := NewDetector(10)

	cut, _, err := d.Cut(gradient(t, 320, 200, false))
	require.NoError(t, err)
	assert.False(t, cut, "first frame is never a cut")

	cut, dist, err := d.Cut(gradient(t, 320, 200, false))
	require.NoError(t, err)
	assert.False(t, cut)
	assert.Zero(t, dist)

	cut, dist, err = d.Cut(gradient(t, 320, 200, true))
	require.NoError(t, err)
	assert.True(t, cut, "reversed gradient flips every difference bit, distance %d", dist)
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(1)
	_, _, _ = d.Cut(gradient(t, 64, 64, false))
	d.Reset()
	cut, _, err := d.Cut(gradient(t, 64, 64, true))
	require.NoError(t, err)
	assert.False(t, cut)
}

func TestThumbnailSamplesChannels(t *testing.T) {
	pix := []byte{
		10, 20, 30, 255, 40, 50, 60, 255,
		70, 80, 90, 255, 100, 110, 120, 255,
	}
	f, err := frame.New(pix, 2, 2, 8, frame.FormatBGRA, time.Time{})
	require.NoError(t, err)

	dst := image.NewRGBA(image.Rect(0, 0, 2, 2))
	require.NoError(t, Thumbnail(f, dst))
	assert.Equal(t, []byte{30, 20, 10, 255}, dst.Pix[0:4], "BGRA is swizzled to RGBA")
	assert.Equal(t, []byte{120, 110, 100, 255}, dst.Pix[12:16])
}

func TestThumbnailUnsupportedFormat(t *testing.T) {
	f, err := frame.New(make([]byte, 16), 2, 2, 8, frame.FormatUnknown, time.Time{})
	require.NoError(t, err)
	err = Thumbnail(f, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.True(t, apperr.IsCode(err, apperr.CodeUnsupportedFormat))
}
