package ratelimit_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahirsattar/payvault/internal/ratelimit"
)

func TestExponential(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, ratelimit.Exponential(base, 0))
	assert.Equal(t, 200*time.Millisecond, ratelimit.Exponential(base, 1))
	assert.Equal(t, 400*time.Millisecond, ratelimit.Exponential(base, 2))
	assert.Equal(t, 800*time.Millisecond, ratelimit.Exponential(base, 3))

	// Negative attempts behave like the first.
	assert.Equal(t, 100*time.Millisecond, ratelimit.Exponential(base, -3))

	// Large exponents saturate instead of overflowing.
	assert.Equal(t, time.Duration(math.MaxInt64), ratelimit.Exponential(time.Hour, 62))
	assert.Equal(t, time.Duration(math.MaxInt64), ratelimit.Exponential(time.Hour, 10_000))

	assert.Equal(t, time.Duration(0), ratelimit.Exponential(0, 5))
}

func TestFullJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ratelimit.FullJitter(0))
	assert.Equal(t, time.Duration(0), ratelimit.FullJitter(-time.Second))

	for i := 0; i < 1000; i++ {
		d := ratelimit.FullJitter(time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}

func TestExponentialWithJitter_CappedByMaxDelay(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 300 * time.Millisecond

	// At attempt 5 the raw delay is 3.2s; jitter must stay under the cap.
	for i := 0; i < 1000; i++ {
		d := ratelimit.ExponentialWithJitter(base, maxDelay, 5)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, maxDelay)
	}
}

func TestSleepWithContext(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, ratelimit.SleepWithContext(ctx, 0))
	require.NoError(t, ratelimit.SleepWithContext(ctx, -time.Second))
	require.NoError(t, ratelimit.SleepWithContext(ctx, time.Millisecond))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	err := ratelimit.SleepWithContext(cancelled, time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
