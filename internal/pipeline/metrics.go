package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/GriffinCanCode/huetrack/internal/pipeline"

// Stats are per-session counters.
type Stats struct {
	Acquired      uint64 `json:"acquired"`
	Processed     uint64 `json:"processed"`
	Superseded    uint64 `json:"superseded"`
	Unsupported   uint64 `json:"unsupported"`
	InputFailures uint64 `json:"input_failures"`
	Timeouts      uint64 `json:"timeouts"`
	Reinits       uint64 `json:"reinits"`
	SceneCuts     uint64 `json:"scene_cuts"`
}

type counters struct {
	acquired, processed, superseded, unsupported atomic.Uint64
	inputFailures, timeouts, reinits, sceneCuts  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Acquired:      c.acquired.Load(),
		Processed:     c.processed.Load(),
		Superseded:    c.superseded.Load(),
		Unsupported:   c.unsupported.Load(),
		InputFailures: c.inputFailures.Load(),
		Timeouts:      c.timeouts.Load(),
		Reinits:       c.reinits.Load(),
		SceneCuts:     c.sceneCuts.Load(),
	}
}

// instruments mirror the counters into the global OTel meter provider, which
// is a no-op unless the binary installs one.
type instruments struct {
	frames  metric.Int64Counter
	dropped metric.Int64Counter
	errors  metric.Int64Counter
	reinits metric.Int64Counter
	latency metric.Float64Histogram
}

func newInstruments(m metric.Meter) (*instruments, error) {
	if m == nil {
		m = otel.Meter(instrumentationName)
	}
	var (
		in  instruments
		err error
	)
	if in.frames, err = m.Int64Counter("pipeline.frames.processed",
		metric.WithDescription("Frames run through the detection chain")); err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}
	if in.dropped, err = m.Int64Counter("pipeline.frames.superseded",
		metric.WithDescription("Frames overwritten in the handoff slot before processing")); err != nil {
		return nil, fmt.Errorf("creating superseded counter: %w", err)
	}
	if in.errors, err = m.Int64Counter("pipeline.errors",
		metric.WithDescription("Per-frame errors by code")); err != nil {
		return nil, fmt.Errorf("creating error counter: %w", err)
	}
	if in.reinits, err = m.Int64Counter("pipeline.capture.reinits",
		metric.WithDescription("Capture reinitialisation attempts")); err != nil {
		return nil, fmt.Errorf("creating reinit counter: %w", err)
	}
	if in.latency, err = m.Float64Histogram("pipeline.frame.latency",
		metric.WithDescription("Capture-to-command latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}
	return &in, nil
}

func (in *instruments) recordError(ctx context.Context, code string) {
	in.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}
