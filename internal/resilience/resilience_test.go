package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		RandomFactor:    0,
	}
}

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := WithRetry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastRetryConfig(3))

	if err != nil {
		t.Fatalf("WithRetry returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := WithRetry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("permanent")
	}, fastRetryConfig(3))

	if !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("error = %v, want ErrExhaustedRetries", err)
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3", calls)
	}
}

func TestWithRetryStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	}, fastRetryConfig(5))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
}

func TestWithRetryFirstWaitUsesInitialInterval(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{
		MaxAttempts:     2,
		InitialInterval: 40 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      10.0,
		RandomFactor:    0,
	}

	start := time.Now()
	err := WithRetry(context.Background(), func(context.Context) error {
		return errors.New("transient")
	}, cfg)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("error = %v, want ErrExhaustedRetries", err)
	}
	if elapsed < cfg.InitialInterval {
		t.Errorf("first retry waited %v, want at least %v", elapsed, cfg.InitialInterval)
	}
	// With the multiplier applied before the first sleep this would be
	// 400ms; leave headroom for a slow scheduler.
	if elapsed > 300*time.Millisecond {
		t.Errorf("first retry waited %v, want roughly the initial interval", elapsed)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		Timeout:     time.Second,
	})

	failing := func(context.Context) error { return errors.New("boom") }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), failing); err == nil {
			t.Fatal("expected failure")
		}
	}

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
}
