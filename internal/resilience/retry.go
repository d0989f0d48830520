// Package resilience provides the bounded-backoff retry helper spec.md §7
// requires for CONCURRENT_MODIFICATION / RACE_CONDITION recovery on
// assignment and turn operations.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, adds randomness
}

// DefaultRetryConfig matches spec.md §4.4/§7's 50ms, 150ms, 300ms schedule:
// four attempts (three retries), a 3x multiplier off a 50ms base, capped
// at 300ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  4,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   3.0,
		Jitter:       0,
	}
}

// Retryable classifies which errors are worth retrying; Retry stops
// immediately on any other error.
type Retryable func(error) bool

// Retry executes fn with exponential backoff, retrying only errors for
// which retryable returns true.
func Retry(ctx context.Context, cfg RetryConfig, retryable Retryable, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(addJitter(delay, cfg.Jitter)):
			}
			delay = nextDelay(delay, cfg)
		}
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
