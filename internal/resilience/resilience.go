// Package resilience provides retry and circuit-breaking wrappers for
// calls to external services.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// RetryConfig controls the exponential backoff behavior of WithRetry.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RandomFactor    float64
}

// DefaultRetryConfig returns 3 attempts, 250ms initial delay, 5s max delay,
// 2.0x multiplier, 10% jitter. Tuned for short HTTP calls where a reply is
// still worth producing after a transient failure.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		RandomFactor:    0.1,
	}
}

// WithRetry runs operation with jittered exponential backoff. It gives up
// immediately on context cancellation or an open circuit breaker.
func WithRetry(ctx context.Context, log *slog.Logger, operation func(context.Context) error, cfg RetryConfig) error {
	var lastErr error
	interval := cfg.InitialInterval
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("retry abandoned: %w", ctx.Err())
		}
		if err == gobreaker.ErrOpenState {
			return err
		}

		if attempt < cfg.MaxAttempts {
			jitter := 1.0 + (cfg.RandomFactor * (2*rnd.Float64() - 1))
			sleep := time.Duration(float64(interval) * jitter)
			if sleep > cfg.MaxInterval {
				sleep = cfg.MaxInterval
			}

			log.DebugContext(ctx, "Operation failed, retrying",
				"attempt", attempt, "max_attempts", cfg.MaxAttempts,
				"next_interval", sleep, "error", err)

			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry abandoned: %w", ctx.Err())
			case <-timer.C:
			}

			// Grow the base interval after sleeping so the first delay is
			// InitialInterval itself.
			interval = time.Duration(float64(interval) * cfg.Multiplier)
			if interval > cfg.MaxInterval {
				interval = cfg.MaxInterval
			}
		}
	}

	return fmt.Errorf("retry attempts exhausted after %d tries: %w", cfg.MaxAttempts, lastErr)
}

// Breaker wraps a gobreaker circuit breaker with a per-call timeout.
type Breaker struct {
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// BreakerConfig configures a Breaker. Zero values fall back to 5 consecutive
// failures before opening, a 15s per-call timeout, 1 probe request when
// half-open, and 60s before a recovery attempt.
type BreakerConfig struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenLimit int
	ResetInterval time.Duration
}

// NewBreaker creates a circuit breaker for one named dependency.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HalfOpenLimit <= 0 {
		cfg.HalfOpenLimit = 1
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenLimit),
		Interval:    cfg.ResetInterval,
		Timeout:     cfg.ResetInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("Circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Breaker{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		cb:      gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs operation through the circuit breaker, applying the
// configured timeout when the context carries no deadline of its own.
func (b *Breaker) Execute(ctx context.Context, operation func(context.Context) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		if opErr := operation(ctx); opErr != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("%s timed out: %w", b.name, opErr)
			}
			return nil, opErr
		}
		return nil, nil
	})
	return err
}
