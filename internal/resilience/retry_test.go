package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 3}
	attempts := 0
	err := Retry(context.Background(), cfg, func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("concurrent modification")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func(error) bool { return false }, func() error {
		attempts++
		return errors.New("validation failed")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 3}
	attempts := 0
	err := Retry(context.Background(), cfg, func(error) bool { return true }, func() error {
		attempts++
		return errors.New("still racing")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond, Multiplier: 3}
	attempts := 0
	err := Retry(ctx, cfg, func(error) bool { return true }, func() error {
		attempts++
		return errors.New("racing")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestNextDelayMatchesSpecSchedule(t *testing.T) {
	cfg := DefaultRetryConfig()
	d1 := cfg.InitialDelay
	d2 := nextDelay(d1, cfg)
	d3 := nextDelay(d2, cfg)
	assert.Equal(t, 50*time.Millisecond, d1)
	assert.Equal(t, 150*time.Millisecond, d2)
	assert.Equal(t, 300*time.Millisecond, d3)
}
