// Package aim turns the active target into a relative pointer command.
package aim

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/GriffinCanCode/huetrack/internal/track"
)

// Config holds the controller gains and limits.
type Config struct {
	GainX    float64
	GainY    float64
	MaxSpeed float64 // maximum command magnitude per frame
	Deadzone float64 // commands smaller than this are zeroed
	// ClickStabilityFrames is how many consecutive in-deadzone frames on the
	// same target raise the click intent. Zero disables clicking.
	ClickStabilityFrames int
	// VerticalBias shifts the aim point by this fraction of the target's
	// bounding-box height; negative aims higher.
	VerticalBias float64
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		GainX:                0.5,
		GainY:                0.5,
		MaxSpeed:             30,
		Deadzone:             1.5,
		ClickStabilityFrames: 3,
	}
}

// Command is the per-frame output: a pointer delta and the click intent.
type Command struct {
	DX    float64 `json:"dx"`
	DY    float64 `json:"dy"`
	Click bool    `json:"click"`
}

// Moving reports whether the command carries a non-zero delta.
func (c Command) Moving() bool { return c.DX != 0 || c.DY != 0 }

// Magnitude returns the length of the delta.
func (c Command) Magnitude() float64 { return r2.Norm(r2.Vec{X: c.DX, Y: c.DY}) }

// Stability counts consecutive in-deadzone frames on one target. The caller
// carries it between frames.
type Stability struct {
	TargetID uint64
	Frames   int
}

// AimPoint returns where on the target the controller aims.
func AimPoint(t *track.Target, bias float64) r2.Vec {
	p := t.Position
	if bias != 0 {
		p.Y += bias * float64(t.Cluster.Bounds.Dy())
	}
	return p
}

// Compute returns the command for target relative to reference together with
// the updated stability. A nil target yields a zero command and resets
// stability.
func Compute(target *track.Target, reference r2.Vec, cfg Config, st Stability) (Command, Stability) {
	if target == nil {
		return Command{}, Stability{}
	}
	if st.TargetID != target.ID {
		st = Stability{TargetID: target.ID}
	}

	offset := r2.Sub(AimPoint(target, cfg.VerticalBias), reference)
	v := r2.Vec{X: offset.X * cfg.GainX, Y: offset.Y * cfg.GainY}
	if mag := r2.Norm(v); cfg.MaxSpeed > 0 && mag > cfg.MaxSpeed {
		v = r2.Vec{X: v.X / mag * cfg.MaxSpeed, Y: v.Y / mag * cfg.MaxSpeed}
	}

	if r2.Norm(v) < cfg.Deadzone {
		st.Frames++
		return Command{Click: cfg.ClickStabilityFrames > 0 && st.Frames >= cfg.ClickStabilityFrames}, st
	}
	st.Frames = 0
	return Command{DX: v.X, DY: v.Y}, st
}
