package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spigell/embedmatch/internal/utils"
)

// DefaultMaxDelay caps the backoff when Config.MaxDelay is not set.
const DefaultMaxDelay = 5 * time.Second

// Config holds the configuration for retry logic.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps every wait. Zero or negative selects DefaultMaxDelay.
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultConfig returns the retry configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        DefaultMaxDelay,
		BackoffMultiple: 2.0,
	}
}

// Delay computes the wait before retry number attempt (zero based) using
// exponential backoff capped at MaxDelay. The result is never negative.
func (c Config) Delay(attempt int) time.Duration {
	multiple := c.BackoffMultiple
	if multiple < 1 {
		multiple = 1
	}
	limit := c.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}

	// Computed in float64 so large attempts saturate instead of wrapping around.
	delay := float64(c.BaseDelay) * math.Pow(multiple, float64(max(attempt, 0)))
	switch {
	case math.IsNaN(delay) || delay >= float64(limit):
		return limit
	case delay <= 0:
		return 0
	default:
		return time.Duration(delay)
	}
}

// Policy combines a Config with the error classification and hooks.
type Policy struct {
	Config
	// Retryable decides whether an error is worth another attempt.
	Retryable func(err error) bool
	// Wait sleeps between attempts; defaults to utils.WaitFor.
	Wait func(ctx context.Context, d time.Duration) error
	// OnRetry is called before every retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, or retries are exhausted.
// It returns the number of attempts made.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	wait := p.Wait
	if wait == nil {
		wait = utils.WaitFor
	}

	var lastErr error
	for attempt := 0; attempt <= max(p.MaxRetries, 0); attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}
			if err := wait(ctx, delay); err != nil {
				return zero, attempt, err
			}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt + 1, nil
		}
		lastErr = err

		if p.Retryable == nil || !p.Retryable(err) {
			return zero, attempt + 1, err
		}
		if ctx.Err() != nil {
			return zero, attempt + 1, err
		}
	}

	return zero, max(p.MaxRetries, 0) + 1, fmt.Errorf("retries exhausted after %d attempts: %w", max(p.MaxRetries, 0)+1, lastErr)
}
