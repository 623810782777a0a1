package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
)

var errLost = apperr.New(apperr.CodeDeviceLost, "capture device lost")

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestRetrySucceedsFirst(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{}, func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Retry() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errLost
		}
		return nil
	})

	if err != nil {
		t.Errorf("Retry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsRetries(t *testing.T) {
	calls := 0
	var hooked []int
	cfg := fastRetry(2)
	cfg.OnRetry = func(attempt int, _ time.Duration, _ error) { hooked = append(hooked, attempt) }

	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return errLost
	})

	if !errors.Is(err, errLost) {
		t.Errorf("Retry() = %v, want %v", err, errLost)
	}
	if calls != 3 { // initial + 2 retries
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(hooked) != 2 || hooked[0] != 1 || hooked[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", hooked)
	}
}

func TestRetryZeroMeansSingleAttempt(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), fastRetry(0), func(context.Context) error {
		calls++
		return errLost
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryNonRetryableError(t *testing.T) {
	calls := 0
	cfgErr := apperr.New(apperr.CodeConfig, "bad device index")

	err := Retry(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return cfgErr
	})

	if !errors.Is(err, cfgErr) {
		t.Errorf("Retry() = %v, want %v", err, cfgErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryCustomPredicate(t *testing.T) {
	calls := 0
	plain := errors.New("plain")
	cfg := fastRetry(2)
	cfg.IsRetryable = func(error) bool { return true }

	_ = Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return plain
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func(context.Context) error { return errLost })

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() = %v, want context.Canceled", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0}

	for attempt, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
		if got := backoffDelay(cfg, attempt); got != want {
			t.Errorf("attempt %d delay = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, JitterFactor: 0}

	if d := backoffDelay(cfg, 5); d != 300*time.Millisecond {
		t.Errorf("attempt 5 delay = %v, want 300ms (capped)", d)
	}
}

func TestBackoffBudgetSpansCallers(t *testing.T) {
	var hooked []int
	cfg := fastRetry(2)
	cfg.OnRetry = func(retry int, _ time.Duration, _ error) { hooked = append(hooked, retry) }
	b := NewBackoff(cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx, errLost); err != nil {
			t.Fatalf("Wait() #%d = %v, want nil", i+1, err)
		}
	}
	if err := b.Wait(ctx, errLost); !errors.Is(err, ErrExhausted) {
		t.Errorf("Wait() after budget = %v, want ErrExhausted", err)
	}
	if b.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", b.Attempts())
	}
	if len(hooked) != 2 || hooked[0] != 1 || hooked[1] != 2 {
		t.Errorf("OnRetry retries = %v, want [1 2]", hooked)
	}
}

func TestBackoffSleepsAfterFirstAttempt(t *testing.T) {
	b := NewBackoff(RetryConfig{MaxRetries: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second})
	ctx := context.Background()

	start := time.Now()
	if err := b.Wait(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d >= 20*time.Millisecond {
		t.Errorf("first Wait slept %v, want no delay", d)
	}

	start = time.Now()
	if err := b.Wait(ctx, errLost); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 20*time.Millisecond {
		t.Errorf("second Wait slept %v, want at least 20ms", d)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(fastRetry(0))
	ctx := context.Background()
	if err := b.Wait(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(ctx, errLost); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Wait() = %v, want ErrExhausted", err)
	}

	b.Reset()
	if err := b.Wait(ctx, nil); err != nil {
		t.Errorf("Wait() after Reset = %v, want nil", err)
	}
}

func TestBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewBackoff(fastRetry(1)).Wait(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}
