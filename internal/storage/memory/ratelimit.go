package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/models"
)

// RateLimitStore is the in-memory counter and API key store.
type RateLimitStore struct {
	mu       sync.Mutex
	counters map[counterKey]*models.RateLimitCounter
	keys     map[uuid.UUID]*models.APIKey
	byHash   map[string]uuid.UUID
}

type counterKey struct {
	apiKeyID    uuid.UUID
	window      models.WindowType
	windowStart int64
}

// NewRateLimitStore returns an empty RateLimitStore.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{
		counters: make(map[counterKey]*models.RateLimitCounter),
		keys:     make(map[uuid.UUID]*models.APIKey),
		byHash:   make(map[string]uuid.UUID),
	}
}

// PutAPIKey registers or replaces an API key.
func (s *RateLimitStore) PutAPIKey(key models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	s.keys[key.ID] = &key
	if key.KeyHash != "" {
		s.byHash[key.KeyHash] = key.ID
	}
}

// InsertAPIKey stores a freshly issued key record.
func (s *RateLimitStore) InsertAPIKey(_ context.Context, key *models.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	s.PutAPIKey(*key)

	return nil
}

func (s *RateLimitStore) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}

	copied := *key

	return &copied, nil
}

func (s *RateLimitStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[keyHash]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}

	copied := *s.keys[id]

	return &copied, nil
}

func (s *RateLimitStore) Count(ctx context.Context, apiKeyID uuid.UUID, window models.WindowType, windowStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[counterKey{apiKeyID, window, windowStart.UnixNano()}]
	if !ok {
		return 0, nil
	}

	return counter.RequestCount, nil
}

func (s *RateLimitStore) Increment(ctx context.Context, apiKeyID uuid.UUID, window models.WindowType, windowStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{apiKeyID, window, windowStart.UnixNano()}

	counter, ok := s.counters[key]
	if !ok {
		counter = &models.RateLimitCounter{
			ID:          uuid.New(),
			APIKeyID:    apiKeyID,
			WindowType:  window,
			WindowStart: windowStart,
			CreatedAt:   time.Now().UTC(),
		}
		s.counters[key] = counter
	}

	counter.RequestCount++

	return counter.RequestCount, nil
}

func (s *RateLimitStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64

	for key, counter := range s.counters {
		if counter.WindowStart.Before(cutoff) {
			delete(s.counters, key)
			deleted++
		}
	}

	return deleted, nil
}

var (
	_ interfaces.CounterStore = (*RateLimitStore)(nil)
	_ interfaces.KeyStore     = (*RateLimitStore)(nil)
)
