package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraystore/arraystore/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	attempts := 0
	err := New(fastConfig()).Do(func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	attempts := 0
	err := New(fastConfig()).Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeNetworkError, "connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := New(fastConfig()).Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeValueRange, "value out of range")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValueRange))
}

func TestDoStopsOnOpaqueError(t *testing.T) {
	attempts := 0
	opaque := stderr.New("not a store error")
	err := New(fastConfig()).Do(func() error {
		attempts++
		return opaque
	})
	assert.ErrorIs(t, err, opaque)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := New(fastConfig()).Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeConnectionTimeout, "timed out")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConnectionTimeout))
}

func TestDoWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(fastConfig()).DoWithContext(ctx, func(ctx context.Context) error {
		return errors.NewError(errors.ErrCodeNetworkError, "unreachable")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOnRetryCallback(t *testing.T) {
	cfg := fastConfig()
	var seen []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	}

	_ = New(cfg).Do(func() error {
		return errors.NewError(errors.ErrCodeNetworkError, "flaky")
	})
	// Called before each retry, not after the final failure.
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDelayBackoff(t *testing.T) {
	r := New(Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     35 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	})

	assert.Equal(t, 10*time.Millisecond, r.delayFor(1))
	assert.Equal(t, 20*time.Millisecond, r.delayFor(2))
	assert.Equal(t, 35*time.Millisecond, r.delayFor(3)) // capped
}

func TestNewAppliesDefaults(t *testing.T) {
	r := New(Config{})
	assert.Equal(t, 5, r.config.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, r.config.InitialDelay)
	assert.Equal(t, 30*time.Second, r.config.MaxDelay)
	assert.Equal(t, 2.0, r.config.Multiplier)
}
