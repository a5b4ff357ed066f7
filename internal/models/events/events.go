package events

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event types emitted after a leg commits.
const (
	EventDebited  = "debited"
	EventCredited = "credited"
)

// LedgerEvent is the fire-and-forget payload sent to an account's webhook
// endpoint after one of its legs commits.
type LedgerEvent struct {
	Event         string    `json:"event"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description,omitempty"`
	ParentTxKey   string    `json:"parent_tx_key"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// TransactionCompleted is published to the event stream once the whole unit
// of work for a logical transaction has committed.
type TransactionCompleted struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	ParentTxKey   string     `json:"parent_tx_key"`
	FromAccountID *uuid.UUID `json:"from_account_id,omitempty"`
	ToAccountID   *uuid.UUID `json:"to_account_id,omitempty"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	OccurredAt    time.Time  `json:"occurred_at"`
}
