package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/models"
)

// ErrAPIKeyNotFound reports a key id or hash with no matching row.
var ErrAPIKeyNotFound = errors.New("api key not found")

// Count returns the request count for one window, 0 when no row exists yet.
func (s *Store) Count(ctx context.Context, apiKeyID uuid.UUID, window models.WindowType, windowStart time.Time) (int64, error) {
	var count int64

	err := s.db.QueryRowContext(ctx, `
		SELECT request_count FROM rate_limit_counters
		WHERE api_key_id = $1 AND window_type = $2 AND window_start = $3`,
		apiKeyID, window, windowStart).Scan(&count)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("count window: %w", err)
	}

	return count, nil
}

// Increment upserts the counter row in one statement. Concurrent callers
// racing on a fresh window serialize on the composite unique index, so the
// returned count is exact.
func (s *Store) Increment(ctx context.Context, apiKeyID uuid.UUID, window models.WindowType, windowStart time.Time) (int64, error) {
	var count int64

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_counters (id, api_key_id, window_type, window_start, request_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (api_key_id, window_type, window_start)
		DO UPDATE SET request_count = rate_limit_counters.request_count + 1
		RETURNING request_count`,
		uuid.New(), apiKeyID, window, windowStart).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment window: %w", err)
	}

	return count, nil
}

// Purge deletes counters whose window started before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge counters: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge counters: %w", err)
	}

	return removed, nil
}

const apiKeyColumns = `id, account_id, key_hash, key_prefix, name, status,
	rate_limit_per_minute, rate_limit_per_hour, last_used_at, expires_at,
	created_at, revoked_at`

// GetAPIKey fetches a key record by id.
func (s *Store) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)

	return scanAPIKey(row)
}

// GetAPIKeyByHash resolves a presented key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)

	return scanAPIKey(row)
}

// InsertAPIKey stores a freshly issued key record.
func (s *Store) InsertAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, key_prefix, name, status,
			rate_limit_per_minute, rate_limit_per_hour, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.AccountID, key.KeyHash, key.KeyPrefix, nullString(key.Name),
		key.Status, key.RateLimitPerMinute, key.RateLimitPerHour, nullTime(key.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	return nil
}

// TouchAPIKey records that the key was just used.
func (s *Store) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}

	return nil
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var (
		key        models.APIKey
		name       sql.NullString
		perMinute  sql.NullInt64
		perHour    sql.NullInt64
		lastUsedAt sql.NullTime
		expiresAt  sql.NullTime
		revokedAt  sql.NullTime
	)

	err := row.Scan(&key.ID, &key.AccountID, &key.KeyHash, &key.KeyPrefix, &name,
		&key.Status, &perMinute, &perHour, &lastUsedAt, &expiresAt,
		&key.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}

	key.Name = name.String

	if perMinute.Valid {
		limit := int(perMinute.Int64)
		key.RateLimitPerMinute = &limit
	}

	if perHour.Valid {
		limit := int(perHour.Int64)
		key.RateLimitPerHour = &limit
	}

	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}

	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}

	if revokedAt.Valid {
		key.RevokedAt = &revokedAt.Time
	}

	return &key, nil
}

var (
	_ interfaces.CounterStore = (*Store)(nil)
	_ interfaces.KeyStore     = (*Store)(nil)
)
