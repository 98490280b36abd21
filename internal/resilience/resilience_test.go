package resilience_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/desertmesh/meshtraffic/internal/resilience"
)

func fastRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		RandomFactor:    0.1,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := resilience.WithRetry(context.Background(), discardLogger(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastRetryConfig())

	if err != nil {
		t.Fatalf("WithRetry failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("operation ran %d times, want 3", attempts)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	attempts := 0
	err := resilience.WithRetry(context.Background(), discardLogger(), func(context.Context) error {
		attempts++
		return permanent
	}, fastRetryConfig())

	if !errors.Is(err, permanent) {
		t.Fatalf("WithRetry error = %v, want wrapped operation error", err)
	}
	if attempts != 3 {
		t.Errorf("operation ran %d times, want 3", attempts)
	}
}

// The first delay between attempts must be InitialInterval itself, not the
// interval already advanced by the multiplier.
func TestWithRetryFirstDelayIsInitialInterval(t *testing.T) {
	t.Parallel()

	cfg := resilience.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: 30 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      100, // a multiplied first delay would run for seconds
		RandomFactor:    0.1,
	}

	start := time.Now()
	err := resilience.WithRetry(context.Background(), discardLogger(), func(context.Context) error {
		return errors.New("failing")
	}, cfg)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("WithRetry should exhaust attempts")
	}
	if elapsed < 20*time.Millisecond {
		t.Errorf("retry waited %v, want at least roughly InitialInterval", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("retry waited %v; the first delay should be the initial interval, not a multiplied one", elapsed)
	}
}

func TestWithRetryStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := resilience.WithRetry(ctx, discardLogger(), func(context.Context) error {
		attempts++
		cancel()
		return errors.New("failing")
	}, fastRetryConfig())

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WithRetry error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("operation ran %d times after cancellation, want 1", attempts)
	}
}

func TestWithRetryDoesNotHammerOpenBreaker(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := resilience.WithRetry(context.Background(), discardLogger(), func(context.Context) error {
		attempts++
		return gobreaker.ErrOpenState
	}, fastRetryConfig())

	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("WithRetry error = %v, want ErrOpenState", err)
	}
	if attempts != 1 {
		t.Errorf("operation ran %d times against an open breaker, want 1", attempts)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		Timeout:     time.Second,
	}, discardLogger())

	failing := func(context.Context) error { return errors.New("down") }

	ctx := context.Background()
	for range 2 {
		if err := breaker.Execute(ctx, failing); err == nil {
			t.Fatal("Execute should propagate the operation error")
		}
	}

	err := breaker.Execute(ctx, failing)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Execute after threshold = %v, want ErrOpenState", err)
	}
}

func TestBreakerAppliesTimeout(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:    "test",
		Timeout: 10 * time.Millisecond,
	}, discardLogger())

	err := breaker.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("Execute should fail when the operation exceeds the timeout")
	}
}
