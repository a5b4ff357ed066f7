package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/tahirsattar/payvault/internal/models/events"
)

// Notifier delivers a ledger event to the webhook endpoints registered for an
// account. Delivery is fire-and-forget: the ledger calls it post-commit in a
// separate goroutine and ignores the outcome.
type Notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, event events.LedgerEvent) error
}

// WebhookDirectory resolves the active webhook endpoint URLs for an account.
type WebhookDirectory interface {
	ActiveEndpoints(ctx context.Context, accountID uuid.UUID) ([]string, error)
}
