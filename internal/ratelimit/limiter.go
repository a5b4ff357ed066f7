// Package ratelimit enforces per-API-key quotas over aligned fixed windows
// (minute and hour), with an exponential-backoff retry wrapper for callers
// that prefer waiting over failing.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/models"
)

// DefaultRetention is how long elapsed counter rows are kept before Cleanup
// removes them.
const DefaultRetention = 2 * time.Hour

// RateLimitError is the quota denial. It carries everything a caller needs
// to back off without parsing messages.
type RateLimitError struct {
	Limit   int
	Window  models.WindowType
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d per %s exceeded, resets at %s",
		e.Limit, e.Window, e.ResetAt.Format(time.RFC3339))
}

// KeyStateError reports an API key that may not make requests at all
// (inactive, revoked, or expired). It is a validation failure, distinct from
// a quota denial, and is never retried.
type KeyStateError struct {
	APIKeyID uuid.UUID
	Reason   string
}

func (e *KeyStateError) Error() string {
	return fmt.Sprintf("api key %s: %s", e.APIKeyID, e.Reason)
}

// WindowStart floors now to the start of the current window.
func WindowStart(now time.Time, window models.WindowType) time.Time {
	return now.UTC().Truncate(window.Duration())
}

// Limiter checks and advances per-key counters in an injected store. The
// check and the increment are collapsed into one conditional upsert at the
// store, so the configured limit is a hard cap even under concurrency.
type Limiter struct {
	counters interfaces.CounterStore
	keys     interfaces.KeyStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewLimiter builds a Limiter over the given stores.
func NewLimiter(counters interfaces.CounterStore, keys interfaces.KeyStore, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Limiter{
		counters: counters,
		keys:     keys,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the limiter's time source. Test hook.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check enforces every window configured on the key, minute before hour, and
// records the request. The first denial aborts the whole check as a
// *RateLimitError; a key that is not active fails as *KeyStateError before
// any quota math. An empty result means the key has no limits configured.
func (l *Limiter) Check(ctx context.Context, apiKeyID uuid.UUID) ([]models.RateLimitResult, error) {
	key, err := l.resolveActiveKey(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	results := make([]models.RateLimitResult, 0, 2)

	for _, win := range configuredWindows(key) {
		result, err := l.checkWindow(ctx, apiKeyID, win.window, win.limit, now)
		if err != nil {
			return nil, err
		}

		results = append(results, result)
	}

	return results, nil
}

// Status runs the same window math read-only, without advancing any counter.
func (l *Limiter) Status(ctx context.Context, apiKeyID uuid.UUID) ([]models.RateLimitResult, error) {
	key, err := l.resolveActiveKey(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	results := make([]models.RateLimitResult, 0, 2)

	for _, win := range configuredWindows(key) {
		start := WindowStart(now, win.window)

		count, err := l.counters.Count(ctx, apiKeyID, win.window, start)
		if err != nil {
			return nil, fmt.Errorf("read %s counter: %w", win.window, err)
		}

		remaining := int64(win.limit) - count
		if remaining < 0 {
			remaining = 0
		}

		results = append(results, models.RateLimitResult{
			Window:    win.window,
			Limit:     win.limit,
			Remaining: remaining,
			ResetAt:   start.Add(win.window.Duration()),
		})
	}

	return results, nil
}

// Cleanup deletes counter rows whose window started before the retention
// horizon. Only fully elapsed windows are removed, so it is safe alongside
// live traffic.
func (l *Limiter) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	cutoff := l.now().UTC().Add(-retention)

	deleted, err := l.counters.Purge(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge counters: %w", err)
	}

	if deleted > 0 {
		l.logger.Info("purged rate limit counters",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}

	return deleted, nil
}

func (l *Limiter) checkWindow(ctx context.Context, apiKeyID uuid.UUID, window models.WindowType, limit int, now time.Time) (models.RateLimitResult, error) {
	start := WindowStart(now, window)
	resetAt := start.Add(window.Duration())

	count, err := l.counters.Count(ctx, apiKeyID, window, start)
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("read %s counter: %w", window, err)
	}

	// Denials never advance the counter; hammering a closed window must not
	// push the reset further away.
	if count >= int64(limit) {
		return models.RateLimitResult{}, &RateLimitError{Limit: limit, Window: window, ResetAt: resetAt}
	}

	newCount, err := l.counters.Increment(ctx, apiKeyID, window, start)
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("increment %s counter: %w", window, err)
	}

	// The upsert may have raced other admits past the read above; the
	// returned count is authoritative.
	if newCount > int64(limit) {
		return models.RateLimitResult{}, &RateLimitError{Limit: limit, Window: window, ResetAt: resetAt}
	}

	return models.RateLimitResult{
		Window:    window,
		Limit:     limit,
		Remaining: int64(limit) - newCount,
		ResetAt:   resetAt,
	}, nil
}

func (l *Limiter) resolveActiveKey(ctx context.Context, apiKeyID uuid.UUID) (*models.APIKey, error) {
	key, err := l.keys.GetAPIKey(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}

	if key.Status != models.APIKeyActive {
		return nil, &KeyStateError{APIKeyID: apiKeyID, Reason: "not active (status: " + key.Status + ")"}
	}

	if key.RevokedAt != nil {
		return nil, &KeyStateError{APIKeyID: apiKeyID, Reason: "revoked"}
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(l.now()) {
		return nil, &KeyStateError{APIKeyID: apiKeyID, Reason: "expired"}
	}

	return key, nil
}

type windowLimit struct {
	window models.WindowType
	limit  int
}

func configuredWindows(key *models.APIKey) []windowLimit {
	windows := make([]windowLimit, 0, 2)

	if key.RateLimitPerMinute != nil {
		windows = append(windows, windowLimit{models.WindowMinute, *key.RateLimitPerMinute})
	}

	if key.RateLimitPerHour != nil {
		windows = append(windows, windowLimit{models.WindowHour, *key.RateLimitPerHour})
	}

	return windows
}
