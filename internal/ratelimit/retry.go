package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/models"
)

// Retry wrapper defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// RetryLimiter wraps a Limiter with exponential-backoff-with-jitter retries.
// Only quota denials are retried; key state and infrastructure errors
// propagate immediately. The wrapper imposes no deadline of its own; callers
// bound the whole loop with their context.
type RetryLimiter struct {
	limiter    *Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

// NewRetryLimiter wraps limiter with the default retry policy.
func NewRetryLimiter(limiter *Limiter, logger *zap.Logger) *RetryLimiter {
	return NewRetryLimiterWithPolicy(limiter, DefaultMaxRetries, DefaultBaseDelay, DefaultMaxDelay, logger)
}

// NewRetryLimiterWithPolicy wraps limiter with an explicit retry policy.
func NewRetryLimiterWithPolicy(limiter *Limiter, maxRetries int, baseDelay, maxDelay time.Duration, logger *zap.Logger) *RetryLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	if maxRetries < 0 {
		maxRetries = 0
	}

	return &RetryLimiter{
		limiter:    limiter,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     logger,
	}
}

// CheckWithRetry runs the rate limit check, sleeping
// uniform(0, min(maxDelay, baseDelay*2^attempt)) between attempts on denial.
// After maxRetries retries the last denial is returned as-is, carrying that
// attempt's limit, window, and reset time.
func (r *RetryLimiter) CheckWithRetry(ctx context.Context, apiKeyID uuid.UUID) ([]models.RateLimitResult, error) {
	for attempt := 0; ; attempt++ {
		results, err := r.limiter.Check(ctx, apiKeyID)
		if err == nil {
			return results, nil
		}

		var denied *RateLimitError
		if !errors.As(err, &denied) {
			return nil, err
		}

		if attempt >= r.maxRetries {
			return nil, err
		}

		delay := ExponentialWithJitter(r.baseDelay, r.maxDelay, attempt)

		r.logger.Debug("rate limited, backing off",
			zap.String("api_key_id", apiKeyID.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Time("reset_at", denied.ResetAt))

		if err := SleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// CheckWaitingForReset is the stricter variant: when backoff retries are
// exhausted it sleeps until the denied window's literal reset time and tries
// once more. It can block for a full window length, so it is only suitable
// for non-interactive callers.
func (r *RetryLimiter) CheckWaitingForReset(ctx context.Context, apiKeyID uuid.UUID) ([]models.RateLimitResult, error) {
	results, err := r.CheckWithRetry(ctx, apiKeyID)
	if err == nil {
		return results, nil
	}

	var denied *RateLimitError
	if !errors.As(err, &denied) {
		return nil, err
	}

	wait := time.Until(denied.ResetAt)
	if wait > 0 {
		r.logger.Debug("waiting for window reset",
			zap.String("api_key_id", apiKeyID.String()),
			zap.String("window", string(denied.Window)),
			zap.Duration("wait", wait))

		if err := SleepWithContext(ctx, wait); err != nil {
			return nil, err
		}
	}

	return r.limiter.Check(ctx, apiKeyID)
}
