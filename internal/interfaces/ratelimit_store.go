package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tahirsattar/payvault/internal/models"
)

// CounterStore persists rate limit window counters. Increment must be a
// single atomic upsert so two concurrent callers racing on a fresh window
// still produce exactly one row with the correct count.
type CounterStore interface {
	// Count returns the request count for the window, 0 when no row exists.
	Count(ctx context.Context, apiKeyID uuid.UUID, window models.WindowType, windowStart time.Time) (int64, error)

	// Increment upserts the counter row (insert with count 1, or increment
	// the existing row) and returns the post-increment count.
	Increment(ctx context.Context, apiKeyID uuid.UUID, window models.WindowType, windowStart time.Time) (int64, error)

	// Purge deletes counter rows whose window_start is strictly older than
	// cutoff and returns how many were removed.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// KeyStore resolves API keys for the rate limiter and auth middleware.
type KeyStore interface {
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}
