package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is a breaker position.
type State uint8

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 2 * time.Second
	DefaultHalfOpenSuccesses = 1
)

// BreakerConfig configures a Breaker. Zero fields take the defaults above.
type BreakerConfig struct {
	// Name labels log lines.
	Name string
	// Threshold is the run of consecutive failures that opens the breaker.
	Threshold int
	// ResetTimeout is how long the breaker stays open before letting a
	// probe call through.
	ResetTimeout time.Duration
	// HalfOpenSuccesses is the run of successful probes that closes it.
	HalfOpenSuccesses int
}

// Breaker fails calls fast after repeated failures and lets a probe through
// once ResetTimeout has passed since the last one.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time
	onChange func(from, to State)
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// OnStateChange registers fn to run, under the breaker lock, on every
// state change.
func (b *Breaker) OnStateChange(fn func(from, to State)) *Breaker {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow returns ErrOpen while the breaker is open and the reset timeout has
// not passed. Past the timeout it moves to half-open and admits the call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return nil
	}
	if b.now().Sub(b.openedAt) <= b.cfg.ResetTimeout {
		return ErrOpen
	}
	b.setState(HalfOpen)
	return nil
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.probes++
		if b.probes >= b.cfg.HalfOpenSuccesses {
			b.setState(Closed)
		}
	}
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.Threshold {
			b.setState(Open)
		}
	case HalfOpen:
		b.setState(Open)
	case Open:
		b.openedAt = b.now()
	}
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(Closed)
}

// Execute runs fn when Allow admits it and records the result.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.Failure()
	} else {
		b.Success()
	}
	return err
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probes = 0
	switch to {
	case Open:
		b.openedAt = b.now()
		slog.Warn("circuit breaker open", "name", b.cfg.Name, "failures", b.failures, "retry_after", b.cfg.ResetTimeout)
	case Closed:
		b.failures = 0
		slog.Info("circuit breaker closed", "name", b.cfg.Name)
	default:
		slog.Debug("circuit breaker probing", "name", b.cfg.Name)
	}
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
