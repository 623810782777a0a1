// Package resilience guards capture recovery and the input sink: Backoff
// paces device reopen attempts against a budget, Retry wraps it around a
// single operation and Breaker stops calling a sink that keeps failing.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
)

const (
	DefaultMaxRetries   = 4
	DefaultBaseDelay    = 200 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultJitterFactor = 0.2

	// maxShift bounds the exponent so the doubling cannot overflow.
	maxShift = 6
)

// ErrExhausted is returned by Backoff.Wait once the budget is spent.
var ErrExhausted = errors.New("retry budget exhausted")

// RetryConfig controls Backoff and Retry. MaxRetries counts attempts after
// the first; zero allows exactly one attempt and a negative value takes
// DefaultMaxRetries. Zero delays take the defaults.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	// IsRetryable decides whether Retry tries again. Defaults to
	// apperr.IsRetryable.
	IsRetryable func(error) bool
	// OnRetry runs before each backoff sleep with the 1-based retry number.
	OnRetry func(retry int, delay time.Duration, err error)
}

// Backoff counts attempts against a budget that outlives any one call site.
// The first attempt after New or Reset goes ahead at once; every later one
// sleeps first. A Backoff is not safe for concurrent use.
type Backoff struct {
	cfg      RetryConfig
	attempts int
}

// NewBackoff returns a Backoff with a full budget.
func NewBackoff(cfg RetryConfig) *Backoff {
	return &Backoff{cfg: cfg.withDefaults()}
}

// Wait claims the next attempt. cause is the failure that made another
// attempt necessary and is only reported to OnRetry and the log. Wait
// returns ErrExhausted when no attempts remain and ctx.Err() when ctx ends
// during the sleep.
func (b *Backoff) Wait(ctx context.Context, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.attempts > b.cfg.MaxRetries {
		return ErrExhausted
	}
	if b.attempts > 0 {
		delay := backoffDelay(b.cfg, b.attempts-1)
		slog.Debug("backing off", "retry", b.attempts, "of", b.cfg.MaxRetries, "delay", delay, "error", cause)
		if b.cfg.OnRetry != nil {
			b.cfg.OnRetry(b.attempts, delay, cause)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	b.attempts++
	return nil
}

// Attempts is the number of attempts claimed since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

// Reset restores the full budget.
func (b *Backoff) Reset() { b.attempts = 0 }

// Retry calls fn until it succeeds, fails with an error IsRetryable rejects,
// or runs out of retries. The last error from fn is returned; a cancelled
// ctx returns ctx.Err().
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	b := NewBackoff(cfg)
	var last error
	for {
		if err := b.Wait(ctx, last); err != nil {
			if errors.Is(err, ErrExhausted) {
				return last
			}
			return err
		}
		last = fn(ctx)
		if last == nil || !b.cfg.IsRetryable(last) {
			return last
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay is BaseDelay doubled n times, capped at MaxDelay, spread by
// up to JitterFactor/2 in either direction.
func backoffDelay(cfg RetryConfig, n int) time.Duration {
	d := min(cfg.BaseDelay<<min(n, maxShift), cfg.MaxDelay)
	if cfg.JitterFactor == 0 {
		return d
	}
	spread := (rand.Float64() - 0.5) * cfg.JitterFactor
	return d + time.Duration(float64(d)*spread)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	c.JitterFactor = max(c.JitterFactor, 0)
	if c.IsRetryable == nil {
		c.IsRetryable = apperr.IsRetryable
	}
	return c
}
