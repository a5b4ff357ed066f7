package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a ledger entry by the account roles it touches.
type TransactionType string

const (
	TypeCredit   TransactionType = "credit"
	TypeDebit    TransactionType = "debit"
	TypeTransfer TransactionType = "transfer"
)

// TransactionStatus is the lifecycle state of a ledger entry.
// Entries are created once and only ever transition pending -> completed/failed.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusReversed  TransactionStatus = "reversed"
)

// Transaction is a single ledger entry. A standalone credit or debit is one
// entry; a transfer is three entries (transfer parent, debit leg, credit leg)
// sharing one ParentTxKey.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	Type           TransactionType   `json:"transaction_type"`
	FromAccountID  *uuid.UUID        `json:"from_account_id,omitempty"`
	ToAccountID    *uuid.UUID        `json:"to_account_id,omitempty"`
	Amount         int64             `json:"amount"` // USD storage units, always positive
	Currency       string            `json:"currency"`
	Status         TransactionStatus `json:"status"`
	IdempotencyKey string            `json:"idempotency_key"`
	ParentTxKey    string            `json:"parent_tx_key"`
	Description    string            `json:"description,omitempty"`
	ErrorCode      string            `json:"error_code,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}
