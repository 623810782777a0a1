package segment

import (
	"fmt"
	"math"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
)

// Kind selects how a Criterion tests a pixel.
type Kind int

const (
	// KindRange matches when every channel lies within [Min, Max].
	KindRange Kind = iota
	// KindHSV matches on hue, saturation and value ranges.
	KindHSV
	// KindDistance matches when the redmean similarity to Target exceeds Similarity.
	KindDistance
)

func (k Kind) String() string {
	switch k {
	case KindRange:
		return "rgb"
	case KindHSV:
		return "hsv"
	case KindDistance:
		return "distance"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "rgb", "range", "":
		return KindRange, nil
	case "hsv":
		return KindHSV, nil
	case "distance", "redmean":
		return KindDistance, nil
	default:
		return 0, fmt.Errorf("unknown criterion kind %q", s)
	}
}

// RGB is an 8-bit colour.
type RGB struct{ R, G, B uint8 }

// Criterion is one colour predicate. A pixel is foreground when any enabled
// criterion matches.
type Criterion struct {
	Name    string
	Kind    Kind
	Enabled bool

	// KindRange bounds, inclusive.
	Min, Max RGB

	// KindDistance reference colour and threshold in (0,1).
	Target     RGB
	Similarity float64

	// KindHSV bounds. Hue is in degrees [0,360); HueMin > HueMax selects the
	// range that wraps through 0. Saturation and value are in [0,1].
	HueMin, HueMax float64
	SatMin, SatMax float64
	ValMin, ValMax float64
}

// RangeAround builds a KindRange criterion of target ± tolerance per channel.
func RangeAround(name string, target RGB, tolerance uint8) Criterion {
	lo := func(v uint8) uint8 {
		if v < tolerance {
			return 0
		}
		return v - tolerance
	}
	hi := func(v uint8) uint8 {
		if int(v)+int(tolerance) > 255 {
			return 255
		}
		return v + tolerance
	}
	return Criterion{
		Name:    name,
		Kind:    KindRange,
		Enabled: true,
		Min:     RGB{lo(target.R), lo(target.G), lo(target.B)},
		Max:     RGB{hi(target.R), hi(target.G), hi(target.B)},
		Target:  target,
	}
}

// Validate reports a Config error when the criterion cannot be evaluated.
func (c Criterion) Validate() error {
	bad := func(format string, args ...any) error {
		return apperr.Newf(apperr.CodeConfig, format, args...).WithMetadata("criterion", c.Name)
	}
	switch c.Kind {
	case KindRange:
		if c.Min.R > c.Max.R || c.Min.G > c.Max.G || c.Min.B > c.Max.B {
			return bad("rgb range min %v exceeds max %v", c.Min, c.Max)
		}
	case KindHSV:
		if !inRange(c.HueMin, 0, 360) || !inRange(c.HueMax, 0, 360) {
			return bad("hue bounds must be within [0,360], got %v..%v", c.HueMin, c.HueMax)
		}
		if !inRange(c.SatMin, 0, 1) || !inRange(c.SatMax, 0, 1) || c.SatMin > c.SatMax {
			return bad("saturation bounds invalid: %v..%v", c.SatMin, c.SatMax)
		}
		if !inRange(c.ValMin, 0, 1) || !inRange(c.ValMax, 0, 1) || c.ValMin > c.ValMax {
			return bad("value bounds invalid: %v..%v", c.ValMin, c.ValMax)
		}
	case KindDistance:
		if !(c.Similarity > 0 && c.Similarity < 1) {
			return bad("similarity must be in (0,1), got %v", c.Similarity)
		}
	default:
		return bad("unknown criterion kind %d", int(c.Kind))
	}
	return nil
}

func inRange(v, lo, hi float64) bool { return v >= lo && v <= hi && !math.IsNaN(v) }

// Match is the exact per-pixel predicate.
func (c *Criterion) Match(r, g, b uint8) bool {
	switch c.Kind {
	case KindRange:
		return r >= c.Min.R && r <= c.Max.R &&
			g >= c.Min.G && g <= c.Max.G &&
			b >= c.Min.B && b <= c.Max.B
	case KindHSV:
		h, s, v := toHSV(r, g, b)
		if s < c.SatMin || s > c.SatMax || v < c.ValMin || v > c.ValMax {
			return false
		}
		if c.HueMin <= c.HueMax {
			return h >= c.HueMin && h <= c.HueMax
		}
		return h >= c.HueMin || h <= c.HueMax
	case KindDistance:
		return 1-redmean(r, g, b, c.Target) > c.Similarity
	}
	return false
}

// redmean is the weighted RGB distance normalised to [0,1].
func redmean(r, g, b uint8, t RGB) float64 {
	rmean := (int(r) + int(t.R)) / 2
	dr := int(r) - int(t.R)
	dg := int(g) - int(t.G)
	db := int(b) - int(t.B)
	sum := (((512 + rmean) * dr * dr) >> 8) + 4*dg*dg + (((767 - rmean) * db * db) >> 8)
	return math.Sqrt(float64(sum)) / 765
}

// toHSV returns hue in degrees and saturation and value in [0,1].
func toHSV(r, g, b uint8) (h, s, v float64) {
	maxc := max(r, g, b)
	minc := min(r, g, b)
	v = float64(maxc) / 255
	if maxc == 0 {
		return 0, 0, v
	}
	delta := float64(maxc) - float64(minc)
	s = delta / float64(maxc)
	if delta == 0 {
		return 0, s, v
	}
	switch maxc {
	case r:
		h = 60 * math.Mod((float64(g)-float64(b))/delta, 6)
	case g:
		h = 60 * ((float64(b)-float64(r))/delta + 2)
	default:
		h = 60 * ((float64(r)-float64(g))/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// box is a per-channel inclusive bound that contains every colour the
// criterion can match. The batch path uses it to reject pixels early.
type box struct{ lo, hi RGB }

func (c *Criterion) box() box {
	switch c.Kind {
	case KindRange:
		return box{c.Min, c.Max}
	case KindHSV:
		// Every channel is at most the value channel.
		hi := clampChannel(math.Ceil(c.ValMax * 255))
		return box{RGB{}, RGB{hi, hi, hi}}
	case KindDistance:
		// sum >= 2*dr*dr, 4*dg*dg and 2*db*db, and a match needs sqrt(sum) < limit.
		limit := (1 - c.Similarity) * 765
		rb := math.Ceil(limit/math.Sqrt2) + 1
		gb := math.Ceil(limit/2) + 1
		span := func(center uint8, d float64) (uint8, uint8) {
			return clampChannel(float64(center) - d), clampChannel(float64(center) + d)
		}
		rlo, rhi := span(c.Target.R, rb)
		glo, ghi := span(c.Target.G, gb)
		blo, bhi := span(c.Target.B, rb)
		return box{RGB{rlo, glo, blo}, RGB{rhi, ghi, bhi}}
	}
	return box{RGB{}, RGB{255, 255, 255}}
}

func clampChannel(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
