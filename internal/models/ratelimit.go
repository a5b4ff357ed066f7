package models

import (
	"time"

	"github.com/google/uuid"
)

// WindowType is the granularity of a rate limit window.
type WindowType string

const (
	WindowMinute WindowType = "minute"
	WindowHour   WindowType = "hour"
)

// Duration returns the wall-clock length of one window.
func (w WindowType) Duration() time.Duration {
	if w == WindowHour {
		return time.Hour
	}

	return time.Minute
}

// RateLimitCounter is one request counter row, keyed by
// (api_key_id, window_type, window_start). WindowStart is always floor-aligned
// to the granularity; the count only increases within a window.
type RateLimitCounter struct {
	ID           uuid.UUID  `json:"id"`
	APIKeyID     uuid.UUID  `json:"api_key_id"`
	WindowType   WindowType `json:"window_type"`
	WindowStart  time.Time  `json:"window_start"`
	RequestCount int64      `json:"request_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RateLimitResult is the outcome of one window check.
type RateLimitResult struct {
	Window    WindowType `json:"window"`
	Limit     int        `json:"limit"`
	Remaining int64      `json:"remaining"`
	ResetAt   time.Time  `json:"reset_at"`
}
