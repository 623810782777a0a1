// Package config loads and validates the tracker configuration. Values come
// from defaults, an optional config file (YAML, JSON or TOML) and HUETRACK_*
// environment variables, in increasing priority.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/segment"
)

// EnvPrefix namespaces environment overrides, e.g. HUETRACK_AIM_MAX_SPEED.
const EnvPrefix = "HUETRACK"

type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Capture   CaptureConfig     `mapstructure:"capture"`
	Pipeline  PipelineConfig    `mapstructure:"pipeline"`
	Segment   SegmentConfig     `mapstructure:"segment"`
	Criteria  []CriterionConfig `mapstructure:"criteria"`
	Cluster   ClusterConfig     `mapstructure:"cluster"`
	Tracking  TrackingConfig    `mapstructure:"tracking"`
	Aim       AimConfig         `mapstructure:"aim"`
	Input     InputConfig       `mapstructure:"input"`
	Telemetry TelemetryConfig   `mapstructure:"telemetry"`
	Journal   JournalConfig     `mapstructure:"journal"`
}

type CaptureConfig struct {
	Kind          string  `mapstructure:"kind"` // video, images or screen
	Device        string  `mapstructure:"device"`
	Path          string  `mapstructure:"path"`
	FPS           float64 `mapstructure:"fps"`
	Loop          bool    `mapstructure:"loop"`
	CropWidth     int     `mapstructure:"crop_width"`
	CropHeight    int     `mapstructure:"crop_height"`
	SkipUnchanged bool    `mapstructure:"skip_unchanged"`
}

type PipelineConfig struct {
	AcquireTimeout   time.Duration `mapstructure:"acquire_timeout"`
	ReinitAttempts   int           `mapstructure:"reinit_attempts"`
	ReinitBaseDelay  time.Duration `mapstructure:"reinit_base_delay"`
	ReinitMaxDelay   time.Duration `mapstructure:"reinit_max_delay"`
	SceneCutDistance int           `mapstructure:"scene_cut_distance"` // 0 disables
}

type SegmentConfig struct {
	ForceScalar bool `mapstructure:"force_scalar"`
}

// CriterionConfig is the file form of segment.Criterion. Colours are [r,g,b].
type CriterionConfig struct {
	Name       string  `mapstructure:"name"`
	Kind       string  `mapstructure:"kind"`
	Enabled    *bool   `mapstructure:"enabled"`
	Min        []int   `mapstructure:"min"`
	Max        []int   `mapstructure:"max"`
	Target     []int   `mapstructure:"target"`
	Tolerance  int     `mapstructure:"tolerance"`
	Similarity float64 `mapstructure:"similarity"`
	HueMin     float64 `mapstructure:"hue_min"`
	HueMax     float64 `mapstructure:"hue_max"`
	SatMin     float64 `mapstructure:"sat_min"`
	SatMax     float64 `mapstructure:"sat_max"`
	ValMin     float64 `mapstructure:"val_min"`
	ValMax     float64 `mapstructure:"val_max"`
}

type ClusterConfig struct {
	MergeDistance float64 `mapstructure:"merge_distance"`
	MinPixels     int     `mapstructure:"min_pixels"`
}

type TrackingConfig struct {
	AssociationDistance float64 `mapstructure:"association_distance"`
	SmoothingFactor     float64 `mapstructure:"smoothing_factor"`
	MaxUnmatchedFrames  int     `mapstructure:"max_unmatched_frames"`
	SizeWeight          float64 `mapstructure:"size_weight"`
	HysteresisMargin    float64 `mapstructure:"hysteresis_margin"`
}

type AimConfig struct {
	GainX                float64 `mapstructure:"gain_x"`
	GainY                float64 `mapstructure:"gain_y"`
	MaxSpeed             float64 `mapstructure:"max_speed"`
	Deadzone             float64 `mapstructure:"deadzone"`
	ClickStabilityFrames int     `mapstructure:"click_stability_frames"`
	VerticalBias         float64 `mapstructure:"vertical_bias"`
	Reference            *Point  `mapstructure:"reference"` // nil aims at the frame centre
}

type Point struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
}

type InputConfig struct {
	Kind          string        `mapstructure:"kind"` // log or none
	Enabled       bool          `mapstructure:"enabled"`
	ClickCooldown time.Duration `mapstructure:"click_cooldown"`
	// Consecutive sink failures before output is suspended for BreakerReset.
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset"`
}

type TelemetryConfig struct {
	HTTPAddr    string  `mapstructure:"http_addr"`
	GRPCAddr    string  `mapstructure:"grpc_addr"`
	HistorySize int     `mapstructure:"history_size"`
	StreamRate  float64 `mapstructure:"stream_rate"` // reports per second pushed to websocket clients
}

type JournalConfig struct {
	Path       string        `mapstructure:"path"` // empty disables
	Frames     bool          `mapstructure:"frames"`
	BatchSize  int           `mapstructure:"batch_size"`
	FlushDelay time.Duration `mapstructure:"flush_delay"`
}

// DefaultCriterion matches the cerise highlight colour used when no criteria
// are configured.
var DefaultCriterion = map[string]any{
	"name":       "cerise",
	"kind":       "distance",
	"target":     []int{196, 58, 172},
	"similarity": 0.83,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("capture.kind", "video")
	v.SetDefault("capture.device", "0")
	v.SetDefault("capture.fps", 60.0)
	v.SetDefault("capture.loop", false)
	v.SetDefault("capture.crop_width", 0)
	v.SetDefault("capture.crop_height", 0)
	v.SetDefault("capture.skip_unchanged", false)

	v.SetDefault("pipeline.acquire_timeout", 100*time.Millisecond)
	v.SetDefault("pipeline.reinit_attempts", 5)
	v.SetDefault("pipeline.reinit_base_delay", 200*time.Millisecond)
	v.SetDefault("pipeline.reinit_max_delay", 5*time.Second)
	v.SetDefault("pipeline.scene_cut_distance", 0)

	v.SetDefault("segment.force_scalar", false)
	v.SetDefault("criteria", []map[string]any{DefaultCriterion})

	v.SetDefault("cluster.merge_distance", 4.0)
	v.SetDefault("cluster.min_pixels", 20)

	v.SetDefault("tracking.association_distance", 48.0)
	v.SetDefault("tracking.smoothing_factor", 0.6)
	v.SetDefault("tracking.max_unmatched_frames", 5)
	v.SetDefault("tracking.size_weight", 0.0)
	v.SetDefault("tracking.hysteresis_margin", 12.0)

	v.SetDefault("aim.gain_x", 0.5)
	v.SetDefault("aim.gain_y", 0.5)
	v.SetDefault("aim.max_speed", 30.0)
	v.SetDefault("aim.deadzone", 1.5)
	v.SetDefault("aim.click_stability_frames", 3)
	v.SetDefault("aim.vertical_bias", 0.0)

	v.SetDefault("input.kind", "log")
	v.SetDefault("input.enabled", true)
	v.SetDefault("input.click_cooldown", time.Duration(0))
	v.SetDefault("input.breaker_threshold", 5)
	v.SetDefault("input.breaker_reset", 2*time.Second)

	v.SetDefault("telemetry.http_addr", "")
	v.SetDefault("telemetry.grpc_addr", "")
	v.SetDefault("telemetry.history_size", 600)
	v.SetDefault("telemetry.stream_rate", 30.0)

	v.SetDefault("journal.path", "")
	v.SetDefault("journal.frames", false)
	v.SetDefault("journal.batch_size", 256)
	v.SetDefault("journal.flush_delay", 2*time.Second)
}

// Load reads configuration from path. An empty path uses defaults and the
// environment only. Every failure is a Config error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeConfig, "error reading config file").WithMetadata("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfig, "error decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field and returns the first problem as a Config error.
func (c *Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{oneOf(c.LogLevel, "debug", "info", "warn", "error"), fmt.Sprintf("log_level %q unknown", c.LogLevel)},
		{oneOf(c.LogFormat, "text", "json"), fmt.Sprintf("log_format %q unknown", c.LogFormat)},
		{oneOf(c.Capture.Kind, "video", "images", "screen"), fmt.Sprintf("capture.kind %q unknown", c.Capture.Kind)},
		{c.Capture.FPS > 0, "capture.fps must be positive"},
		{c.Capture.CropWidth >= 0 && c.Capture.CropHeight >= 0, "capture crop must not be negative"},
		{c.Capture.Kind != "images" || c.Capture.Path != "", "capture.path is required for images"},
		{c.Pipeline.AcquireTimeout > 0, "pipeline.acquire_timeout must be positive"},
		{c.Pipeline.ReinitAttempts >= 1, "pipeline.reinit_attempts must be at least 1"},
		{c.Pipeline.ReinitBaseDelay > 0 && c.Pipeline.ReinitMaxDelay >= c.Pipeline.ReinitBaseDelay, "pipeline reinit delays invalid"},
		{c.Pipeline.SceneCutDistance >= 0 && c.Pipeline.SceneCutDistance <= 64, "pipeline.scene_cut_distance must be within [0,64]"},
		{c.Cluster.MinPixels >= 1, "cluster.min_pixels must be at least 1"},
		{c.Tracking.AssociationDistance > 0, "tracking.association_distance must be positive"},
		{c.Tracking.SmoothingFactor > 0 && c.Tracking.SmoothingFactor <= 1, "tracking.smoothing_factor must be in (0,1]"},
		{c.Tracking.MaxUnmatchedFrames >= 0, "tracking.max_unmatched_frames must not be negative"},
		{c.Tracking.HysteresisMargin >= 0, "tracking.hysteresis_margin must not be negative"},
		{c.Aim.GainX > 0 && c.Aim.GainY > 0, "aim gains must be positive"},
		{c.Aim.MaxSpeed > 0, "aim.max_speed must be positive"},
		{c.Aim.Deadzone >= 0 && c.Aim.Deadzone <= c.Aim.MaxSpeed, "aim.deadzone must be within [0, max_speed]"},
		{c.Aim.ClickStabilityFrames >= 0, "aim.click_stability_frames must not be negative"},
		{oneOf(c.Input.Kind, "log", "none"), fmt.Sprintf("input.kind %q unknown", c.Input.Kind)},
		{c.Input.ClickCooldown >= 0, "input.click_cooldown must not be negative"},
		{c.Input.BreakerThreshold > 0 && c.Input.BreakerReset > 0, "input breaker settings must be positive"},
		{c.Telemetry.HistorySize > 0, "telemetry.history_size must be positive"},
		{c.Telemetry.StreamRate > 0, "telemetry.stream_rate must be positive"},
		{c.Journal.BatchSize > 0 && c.Journal.FlushDelay > 0, "journal batching must be positive"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return apperr.New(apperr.CodeConfig, chk.msg)
		}
	}

	criteria, err := c.SegmentCriteria()
	if err != nil {
		return err
	}
	enabled := 0
	for _, cr := range criteria {
		if cr.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return apperr.New(apperr.CodeConfig, "at least one enabled criterion is required")
	}
	return nil
}

// SegmentCriteria converts the configured criteria, validating each.
func (c *Config) SegmentCriteria() ([]segment.Criterion, error) {
	out := make([]segment.Criterion, 0, len(c.Criteria))
	for i, cc := range c.Criteria {
		cr, err := cc.toCriterion()
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfig, "criteria[%d]", i)
		}
		if err := cr.Validate(); err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfig, "criteria[%d]", i)
		}
		out = append(out, cr)
	}
	return out, nil
}

func (cc CriterionConfig) toCriterion() (segment.Criterion, error) {
	kind, err := segment.ParseKind(cc.Kind)
	if err != nil {
		return segment.Criterion{}, err
	}
	enabled := cc.Enabled == nil || *cc.Enabled
	cr := segment.Criterion{
		Name:       cc.Name,
		Kind:       kind,
		Enabled:    enabled,
		Similarity: cc.Similarity,
		HueMin:     cc.HueMin,
		HueMax:     cc.HueMax,
		SatMin:     cc.SatMin,
		SatMax:     cc.SatMax,
		ValMin:     cc.ValMin,
		ValMax:     cc.ValMax,
	}
	if len(cc.Target) > 0 {
		if cr.Target, err = parseRGB(cc.Target); err != nil {
			return cr, fmt.Errorf("target: %w", err)
		}
	}

	switch {
	case kind == segment.KindRange && len(cc.Min) == 0 && len(cc.Max) == 0:
		if len(cc.Target) == 0 {
			return cr, fmt.Errorf("rgb criterion needs min/max or target")
		}
		if cc.Tolerance < 0 || cc.Tolerance > 255 {
			return cr, fmt.Errorf("tolerance %d out of range", cc.Tolerance)
		}
		rc := segment.RangeAround(cc.Name, cr.Target, uint8(cc.Tolerance))
		rc.Enabled = enabled
		return rc, nil
	case kind == segment.KindRange:
		if cr.Min, err = parseRGB(cc.Min); err != nil {
			return cr, fmt.Errorf("min: %w", err)
		}
		if cr.Max, err = parseRGB(cc.Max); err != nil {
			return cr, fmt.Errorf("max: %w", err)
		}
	case kind == segment.KindDistance && len(cc.Target) == 0:
		return cr, fmt.Errorf("distance criterion needs target")
	}
	return cr, nil
}

func parseRGB(v []int) (segment.RGB, error) {
	if len(v) != 3 {
		return segment.RGB{}, fmt.Errorf("colour needs 3 components, got %d", len(v))
	}
	for _, c := range v {
		if c < 0 || c > 255 {
			return segment.RGB{}, fmt.Errorf("colour component %d out of range", c)
		}
	}
	return segment.RGB{R: uint8(v[0]), G: uint8(v[1]), B: uint8(v[2])}, nil
}

func oneOf(s string, opts ...string) bool { return slices.Contains(opts, s) }
