package ratelimit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// maxShift bounds the exponent so the shift below cannot overflow int64.
const maxShift = 62

// Exponential returns base * 2^attempt, capped at math.MaxInt64. Negative
// attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return base * time.Duration(multiplier)
}

// FullJitter returns a uniformly random duration in [0, delay). This is the
// AWS "Full Jitter" strategy: retrying clients spread out instead of
// stampeding the window together.
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	return time.Duration(rand.Int63n(int64(delay)))
}

// ExponentialWithJitter returns a random duration in
// [0, min(maxDelay, base * 2^attempt)).
func ExponentialWithJitter(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := Exponential(base, attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	return FullJitter(delay)
}

// SleepWithContext sleeps for duration unless ctx is cancelled first. Zero or
// negative durations return immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	}
}
