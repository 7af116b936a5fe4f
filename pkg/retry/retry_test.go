// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastBackoff is a millisecond-scale strategy for tests.
func fastBackoff(attempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
		MaxAttempts:  attempts,
	}
}

func TestExponentialBackoff_Default(t *testing.T) {
	backoff := NewExponentialBackoff()

	assert.Equal(t, 100*time.Millisecond, backoff.InitialDelay)
	assert.Equal(t, 30*time.Second, backoff.MaxDelay)
	assert.Equal(t, 2.0, backoff.Multiplier)
	assert.Equal(t, 5, backoff.MaxAttempts)
}

func TestExponentialBackoff_NextDelay(t *testing.T) {
	backoff := &ExponentialBackoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0, // deterministic
		MaxAttempts:  4,
	}

	d0, ok := backoff.NextDelay(0)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d0)

	d1, ok := backoff.NextDelay(1)
	require.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, d1)

	// Capped at MaxDelay.
	d3, ok := backoff.NextDelay(3)
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, d3)

	// Exhausted.
	_, ok = backoff.NextDelay(4)
	assert.False(t, ok)
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.5,
		MaxAttempts:  100,
	}

	for attempt := 0; attempt < 5; attempt++ {
		d, ok := backoff.NextDelay(attempt)
		require.True(t, ok)
		base := time.Duration(float64(100*time.Millisecond) * float64(int(1)<<attempt))
		assert.GreaterOrEqual(t, d, base/2)
		assert.LessOrEqual(t, d, base+base/2)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastBackoff(10), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("permanent")
	attempts := 0
	err := Retry(context.Background(), fastBackoff(2), func() error {
		attempts++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, attempts) // initial try plus two retries
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := &ExponentialBackoff{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1, MaxAttempts: 5}
	err := Retry(ctx, slow, func() error {
		return errors.New("always")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastBackoff(5), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
