package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/models"
	"github.com/tahirsattar/payvault/internal/ratelimit"
)

// scriptedCounters serves a fixed sequence of counts, tracking how many
// checks ran. Increment mirrors the count so admitted requests stay admitted.
type scriptedCounters struct {
	mu     sync.Mutex
	counts []int64
	calls  int
}

func (s *scriptedCounters) Count(context.Context, uuid.UUID, models.WindowType, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.counts[len(s.counts)-1]
	if s.calls < len(s.counts) {
		count = s.counts[s.calls]
	}

	s.calls++

	return count, nil
}

func (s *scriptedCounters) Increment(context.Context, uuid.UUID, models.WindowType, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls - 1
	if idx >= len(s.counts) {
		idx = len(s.counts) - 1
	}

	return s.counts[idx] + 1, nil
}

func (s *scriptedCounters) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *scriptedCounters) checks() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

type staticKeys struct {
	key *models.APIKey
	err error
}

func (s *staticKeys) GetAPIKey(context.Context, uuid.UUID) (*models.APIKey, error) {
	return s.key, s.err
}

func (s *staticKeys) GetAPIKeyByHash(context.Context, string) (*models.APIKey, error) {
	return s.key, s.err
}

func newScriptedRetryLimiter(counts []int64, maxRetries int) (*ratelimit.RetryLimiter, *scriptedCounters, uuid.UUID) {
	keyID := uuid.New()
	limit := 1

	counters := &scriptedCounters{counts: counts}
	keys := &staticKeys{key: &models.APIKey{
		ID:                 keyID,
		Status:             models.APIKeyActive,
		RateLimitPerMinute: &limit,
	}}

	limiter := ratelimit.NewLimiter(counters, keys, zap.NewNop())
	retrier := ratelimit.NewRetryLimiterWithPolicy(limiter, maxRetries, time.Millisecond, 5*time.Millisecond, zap.NewNop())

	return retrier, counters, keyID
}

func TestCheckWithRetry_SucceedsImmediately(t *testing.T) {
	retrier, counters, keyID := newScriptedRetryLimiter([]int64{0}, 3)

	results, err := retrier.CheckWithRetry(context.Background(), keyID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, counters.checks())
}

func TestCheckWithRetry_RecoversAfterBackoff(t *testing.T) {
	// Denied twice, then the window has room.
	retrier, counters, keyID := newScriptedRetryLimiter([]int64{1, 1, 0}, 3)

	results, err := retrier.CheckWithRetry(context.Background(), keyID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, counters.checks())
}

func TestCheckWithRetry_ReturnsLastDenial(t *testing.T) {
	retrier, counters, keyID := newScriptedRetryLimiter([]int64{1, 1, 1, 1}, 3)

	_, err := retrier.CheckWithRetry(context.Background(), keyID)

	var denied *ratelimit.RateLimitError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, 1, denied.Limit)
	assert.Equal(t, models.WindowMinute, denied.Window)

	// Initial attempt plus maxRetries, then give up.
	assert.Equal(t, 4, counters.checks())
}

func TestCheckWithRetry_DoesNotRetryOtherErrors(t *testing.T) {
	keyID := uuid.New()
	wantErr := errors.New("store unavailable")

	limiter := ratelimit.NewLimiter(&scriptedCounters{counts: []int64{0}}, &staticKeys{err: wantErr}, zap.NewNop())
	retrier := ratelimit.NewRetryLimiter(limiter, zap.NewNop())

	_, err := retrier.CheckWithRetry(context.Background(), keyID)
	assert.ErrorIs(t, err, wantErr)
}

func TestCheckWithRetry_ZeroRetriesFailsFast(t *testing.T) {
	retrier, counters, keyID := newScriptedRetryLimiter([]int64{1}, 0)

	_, err := retrier.CheckWithRetry(context.Background(), keyID)

	var denied *ratelimit.RateLimitError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, 1, counters.checks())
}

func TestCheckWaitingForReset_TriesAgainAfterWindow(t *testing.T) {
	// Every backoff attempt is denied; the post-reset attempt lands in a
	// window with room. The limiter clock sits two minutes in the past, so
	// the denial's ResetAt has already elapsed on the wall clock and the
	// reset wait returns immediately.
	keyID := uuid.New()

	limiter := ratelimit.NewLimiter(
		&scriptedCounters{counts: []int64{1, 1, 0}},
		&staticKeys{key: &models.APIKey{
			ID:                 keyID,
			Status:             models.APIKeyActive,
			RateLimitPerMinute: intPtr(1),
		}},
		zap.NewNop(),
	).WithClock(func() time.Time { return time.Now().Add(-2 * time.Minute) })

	retrier := ratelimit.NewRetryLimiterWithPolicy(limiter, 1, time.Millisecond, 5*time.Millisecond, zap.NewNop())

	results, err := retrier.CheckWaitingForReset(context.Background(), keyID)
	require.NoError(t, err)
	require.Len(t, results, 1)
}
