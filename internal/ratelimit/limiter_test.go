package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/models"
	"github.com/tahirsattar/payvault/internal/ratelimit"
	"github.com/tahirsattar/payvault/internal/storage/memory"
)

func intPtr(v int) *int { return &v }

func newTestLimiter(t *testing.T, key models.APIKey) (*ratelimit.Limiter, *memory.RateLimitStore, *time.Time) {
	t.Helper()

	store := memory.NewRateLimitStore()
	store.PutAPIKey(key)

	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)

	limiter := ratelimit.NewLimiter(store, store, zap.NewNop()).
		WithClock(func() time.Time { return now })

	return limiter, store, &now
}

func TestCheck_RemainingCountsDown(t *testing.T) {
	keyID := uuid.New()
	limiter, store, now := newTestLimiter(t, models.APIKey{
		ID:                 keyID,
		Status:             models.APIKeyActive,
		RateLimitPerMinute: intPtr(5),
	})

	ctx := context.Background()

	for want := int64(4); want >= 0; want-- {
		results, err := limiter.Check(ctx, keyID)
		require.NoError(t, err)
		require.Len(t, results, 1)

		assert.Equal(t, models.WindowMinute, results[0].Window)
		assert.Equal(t, 5, results[0].Limit)
		assert.Equal(t, want, results[0].Remaining)
	}

	_, err := limiter.Check(ctx, keyID)

	var denied *ratelimit.RateLimitError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, 5, denied.Limit)
	assert.Equal(t, models.WindowMinute, denied.Window)
	assert.Equal(t, ratelimit.WindowStart(*now, models.WindowMinute).Add(time.Minute), denied.ResetAt)

	// Denials must not advance the counter and push the reset away.
	count, err := store.Count(ctx, keyID, models.WindowMinute, ratelimit.WindowStart(*now, models.WindowMinute))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestCheck_WindowRollsOver(t *testing.T) {
	keyID := uuid.New()
	limiter, _, now := newTestLimiter(t, models.APIKey{
		ID:                 keyID,
		Status:             models.APIKeyActive,
		RateLimitPerMinute: intPtr(1),
	})

	ctx := context.Background()

	_, err := limiter.Check(ctx, keyID)
	require.NoError(t, err)

	_, err = limiter.Check(ctx, keyID)

	var denied *ratelimit.RateLimitError
	require.ErrorAs(t, err, &denied)

	// The next aligned minute is a fresh counter.
	*now = now.Add(time.Minute)

	results, err := limiter.Check(ctx, keyID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), results[0].Remaining)
}

func TestCheck_MinuteAndHourWindows(t *testing.T) {
	keyID := uuid.New()
	limiter, _, now := newTestLimiter(t, models.APIKey{
		ID:                 keyID,
		Status:             models.APIKeyActive,
		RateLimitPerMinute: intPtr(3),
		RateLimitPerHour:   intPtr(4),
	})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		results, err := limiter.Check(ctx, keyID)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, models.WindowMinute, results[0].Window)
		assert.Equal(t, models.WindowHour, results[1].Window)
	}

	// Fourth request in the same minute trips the minute window first.
	_, err := limiter.Check(ctx, keyID)

	var denied *ratelimit.RateLimitError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, models.WindowMinute, denied.Window)

	// A minute later the minute window is fresh, but the hour window has
	// absorbed 3 of its 4 requests.
	*now = now.Add(time.Minute)

	_, err = limiter.Check(ctx, keyID)
	require.NoError(t, err)

	_, err = limiter.Check(ctx, keyID)
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, models.WindowHour, denied.Window)
}

func TestCheck_NoConfiguredLimits(t *testing.T) {
	keyID := uuid.New()
	limiter, _, _ := newTestLimiter(t, models.APIKey{
		ID:     keyID,
		Status: models.APIKeyActive,
	})

	results, err := limiter.Check(context.Background(), keyID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStatus_DoesNotConsumeQuota(t *testing.T) {
	keyID := uuid.New()
	limiter, _, _ := newTestLimiter(t, models.APIKey{
		ID:                 keyID,
		Status:             models.APIKeyActive,
		RateLimitPerMinute: intPtr(2),
	})

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		results, err := limiter.Status(ctx, keyID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), results[0].Remaining)
	}

	// Full quota still available after all those reads.
	results, err := limiter.Check(ctx, keyID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[0].Remaining)
}

func TestCheck_KeyStates(t *testing.T) {
	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		key  models.APIKey
	}{
		{name: "suspended", key: models.APIKey{ID: uuid.New(), Status: "suspended"}},
		{name: "revoked", key: models.APIKey{ID: uuid.New(), Status: models.APIKeyActive, RevokedAt: &past}},
		{name: "expired", key: models.APIKey{ID: uuid.New(), Status: models.APIKeyActive, ExpiresAt: &past}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, _, _ := newTestLimiter(t, tt.key)

			_, err := limiter.Check(context.Background(), tt.key.ID)

			var state *ratelimit.KeyStateError
			require.ErrorAs(t, err, &state)
			assert.Equal(t, tt.key.ID, state.APIKeyID)
		})
	}
}

func TestCheck_UnknownKey(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, models.APIKey{ID: uuid.New(), Status: models.APIKeyActive})

	_, err := limiter.Check(context.Background(), uuid.New())
	assert.ErrorIs(t, err, memory.ErrAPIKeyNotFound)
}

func TestCleanup_PurgesOnlyElapsedWindows(t *testing.T) {
	keyID := uuid.New()
	limiter, store, now := newTestLimiter(t, models.APIKey{
		ID:                 keyID,
		Status:             models.APIKeyActive,
		RateLimitPerMinute: intPtr(10),
	})

	ctx := context.Background()

	// One counter three hours ago, one fresh.
	*now = now.Add(-3 * time.Hour)
	_, err := limiter.Check(ctx, keyID)
	require.NoError(t, err)

	staleStart := ratelimit.WindowStart(*now, models.WindowMinute)

	*now = now.Add(3 * time.Hour)
	_, err = limiter.Check(ctx, keyID)
	require.NoError(t, err)

	deleted, err := limiter.Cleanup(ctx, ratelimit.DefaultRetention)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	stale, err := store.Count(ctx, keyID, models.WindowMinute, staleStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stale)

	fresh, err := store.Count(ctx, keyID, models.WindowMinute, ratelimit.WindowStart(*now, models.WindowMinute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh)
}

func TestWindowStart_Alignment(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 30, 45, 123, time.UTC)

	assert.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		ratelimit.WindowStart(at, models.WindowMinute))
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ratelimit.WindowStart(at, models.WindowHour))
}
