package input

import (
	"errors"
	"testing"
	"time"
)

type recordingSink struct {
	moves   [][2]int
	clicks  []bool
	failing bool
}

func (r *recordingSink) MoveRelative(dx, dy int) error {
	if r.failing {
		return errors.New("device unavailable")
	}
	r.moves = append(r.moves, [2]int{dx, dy})
	return nil
}

func (r *recordingSink) SetClick(pressed bool) error {
	if r.failing {
		return errors.New("device unavailable")
	}
	r.clicks = append(r.clicks, pressed)
	return nil
}

func TestGateForwardsWhenEnabled(t *testing.T) {
	rec := &recordingSink{}
	g := NewGate(rec, true, 0)

	_ = g.MoveRelative(3, -4)
	_ = g.SetClick(true)
	_ = g.SetClick(true)
	_ = g.SetClick(false)

	if len(rec.moves) != 1 || rec.moves[0] != [2]int{3, -4} {
		t.Errorf("moves = %v", rec.moves)
	}
	if len(rec.clicks) != 2 || !rec.clicks[0] || rec.clicks[1] {
		t.Errorf("clicks = %v, want [true false]", rec.clicks)
	}
}

func TestGateDisabledDropsAndReleases(t *testing.T) {
	rec := &recordingSink{}
	g := NewGate(rec, true, 0)
	_ = g.SetClick(true)

	g.SetEnabled(false)
	if g.Pressed() {
		t.Error("disabling should release the click")
	}
	_ = g.MoveRelative(1, 1)
	_ = g.SetClick(true)

	if len(rec.moves) != 0 {
		t.Errorf("moves forwarded while disabled: %v", rec.moves)
	}
	if len(rec.clicks) != 2 || rec.clicks[1] {
		t.Errorf("clicks = %v, want [true false]", rec.clicks)
	}
}

func TestGateCooldown(t *testing.T) {
	rec := &recordingSink{}
	g := NewGate(rec, true, 100*time.Millisecond)
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }

	_ = g.SetClick(true)
	_ = g.SetClick(false)

	now = now.Add(50 * time.Millisecond)
	_ = g.SetClick(true)
	if g.Pressed() {
		t.Error("press inside cooldown should be suppressed")
	}

	now = now.Add(60 * time.Millisecond)
	_ = g.SetClick(true)
	if !g.Pressed() {
		t.Error("press after cooldown should pass")
	}
}

func TestGateErrorKeepsState(t *testing.T) {
	rec := &recordingSink{failing: true}
	g := NewGate(rec, true, 0)

	if err := g.SetClick(true); err == nil {
		t.Fatal("expected sink error")
	}
	if g.Pressed() {
		t.Error("failed press must not be recorded as held")
	}
}

func TestLogSinkTotals(t *testing.T) {
	s := NewLogSink(t.Context())
	_ = s.MoveRelative(2, 3)
	_ = s.MoveRelative(-1, 1)

	moves, dx, dy := s.Totals()
	if moves != 2 || dx != 1 || dy != 4 {
		t.Errorf("Totals() = %d,%d,%d, want 2,1,4", moves, dx, dy)
	}
}
