package input

import (
	"log/slog"
	"sync"
	"time"
)

// Gate wraps a Sink with an operator switch and an optional minimum interval
// between click presses. A disabled gate drops moves and releases any held
// click.
type Gate struct {
	next     Sink
	mu       sync.Mutex
	enabled  bool
	cooldown time.Duration
	pressed  bool
	lastUp   time.Time
	now      func() time.Time
}

// NewGate creates a gate in front of next.
func NewGate(next Sink, enabled bool, cooldown time.Duration) *Gate {
	return &Gate{next: next, enabled: enabled, cooldown: cooldown, now: time.Now}
}

// MoveRelative forwards the move when the gate is open.
func (g *Gate) MoveRelative(dx, dy int) error {
	if !g.IsEnabled() {
		return nil
	}
	return g.next.MoveRelative(dx, dy)
}

// SetClick forwards press and release edges. Presses while closed, while
// already held, or inside the cooldown after the previous release are
// swallowed.
func (g *Gate) SetClick(pressed bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pressed {
		if !g.enabled || g.pressed {
			return nil
		}
		if g.cooldown > 0 && !g.lastUp.IsZero() && g.now().Sub(g.lastUp) < g.cooldown {
			slog.Debug("click press suppressed by cooldown")
			return nil
		}
	} else if !g.pressed {
		return nil
	}

	if err := g.next.SetClick(pressed); err != nil {
		return err
	}
	g.pressed = pressed
	if !pressed {
		g.lastUp = g.now()
	}
	return nil
}

// SetEnabled opens or closes the gate. Closing releases a held click.
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	g.enabled = enabled
	release := !enabled && g.pressed
	g.mu.Unlock()

	if release {
		if err := g.SetClick(false); err != nil {
			slog.Warn("release on disable failed", "error", err)
		}
	}
	slog.Info("output gate changed", "enabled", enabled)
}

// IsEnabled reports whether commands are forwarded.
func (g *Gate) IsEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Pressed reports whether the gate believes the click is held.
func (g *Gate) Pressed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pressed
}
