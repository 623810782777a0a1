// Package input delivers aim commands to the pointer. The pipeline only
// sees the Sink interface; real injection backends live outside this module.
package input

import (
	"context"
	"log/slog"
	"sync"

	"github.com/GriffinCanCode/huetrack/internal/trace"
)

// Sink receives pointer commands. Calls are made from the processing role
// only, one at a time.
type Sink interface {
	MoveRelative(dx, dy int) error
	SetClick(pressed bool) error
}

// NopSink discards every command.
type NopSink struct{}

func (NopSink) MoveRelative(int, int) error { return nil }
func (NopSink) SetClick(bool) error         { return nil }

// LogSink records commands in the log instead of moving the pointer, which
// makes dry runs observable.
type LogSink struct {
	log *slog.Logger

	mu    sync.Mutex
	moves int
	sumX  int
	sumY  int
}

// NewLogSink logs to the default logger with the given trace context.
func NewLogSink(ctx context.Context) *LogSink {
	return &LogSink{log: trace.Logger(ctx).With("component", "input")}
}

func (s *LogSink) MoveRelative(dx, dy int) error {
	s.mu.Lock()
	s.moves++
	s.sumX += dx
	s.sumY += dy
	s.mu.Unlock()
	s.log.Debug("move", "dx", dx, "dy", dy)
	return nil
}

func (s *LogSink) SetClick(pressed bool) error {
	s.log.Info("click", "pressed", pressed)
	return nil
}

// Totals returns the number of moves and the accumulated displacement.
func (s *LogSink) Totals() (moves, dx, dy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves, s.sumX, s.sumY
}
