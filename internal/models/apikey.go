package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKeyActive is the only status under which a key may pass rate limiting.
const APIKeyActive = "active"

// APIKey is the authentication record for a caller. Only the SHA-256 hash of
// the issued key is ever stored. A nil rate limit means that window is
// unlimited for this key.
type APIKey struct {
	ID                 uuid.UUID  `json:"id"`
	AccountID          uuid.UUID  `json:"account_id"`
	KeyHash            string     `json:"-"`
	KeyPrefix          string     `json:"key_prefix"`
	Name               string     `json:"name,omitempty"`
	Status             string     `json:"status"`
	RateLimitPerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerHour   *int       `json:"rate_limit_per_hour,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
}
