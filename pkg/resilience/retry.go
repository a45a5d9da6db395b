package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, percentage of delay to randomize
}

// DefaultRetryConfig returns the defaults used for transport publishes
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retryer implements retry with exponential backoff. Publishing to the
// transport is retried through a Retryer before being surfaced as a
// delivery failure.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a retryer with the given configuration
func NewRetryer(config RetryConfig) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Execute runs fn until it succeeds, attempts are exhausted, or the
// context is canceled. The last error is returned on failure.
func (r *Retryer) Execute(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ErrContextCanceled
		default:
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}

		if attempt < r.config.MaxAttempts {
			select {
			case <-ctx.Done():
				return ErrContextCanceled
			case <-time.After(r.delay(attempt)):
			}
		}
	}

	return lastErr
}

func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if r.config.Jitter > 0 {
		jitterRange := d * r.config.Jitter
		d += (rand.Float64()*2 - 1) * jitterRange
	}
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	return time.Duration(d)
}

// Retry is a convenience wrapper for one-off retry operations
func Retry(ctx context.Context, maxAttempts int, fn func(context.Context) error) error {
	config := DefaultRetryConfig()
	config.MaxAttempts = maxAttempts
	return NewRetryer(config).Execute(ctx, fn)
}
