package input

import (
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/resilience"
)

// Guarded stops calling a sink that keeps failing. While the breaker is open
// every call fails fast with an InputFailure error; the backend is probed
// again after the reset timeout.
type Guarded struct {
	next    Sink
	breaker *resilience.Breaker
}

// NewGuarded wraps next with a breaker built from cfg.
func NewGuarded(next Sink, cfg resilience.BreakerConfig) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "input"
	}
	return &Guarded{next: next, breaker: resilience.NewBreaker(cfg)}
}

func (g *Guarded) MoveRelative(dx, dy int) error {
	return g.call(func() error { return g.next.MoveRelative(dx, dy) })
}

func (g *Guarded) SetClick(pressed bool) error {
	return g.call(func() error { return g.next.SetClick(pressed) })
}

// State reports the breaker state.
func (g *Guarded) State() resilience.State { return g.breaker.State() }

func (g *Guarded) call(fn func() error) error {
	err := g.breaker.Execute(fn)
	if err == nil || apperr.IsCode(err, apperr.CodeInputFailure) {
		return err
	}
	return apperr.Wrap(err, apperr.CodeInputFailure, "input sink")
}
