package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus values accepted by the ledger.
const (
	AccountActive    = "active"
	AccountSuspended = "suspended"
	AccountClosed    = "closed"
)

// Account is a merchant balance. Balance is held in USD storage units so
// entries in different currencies stay comparable; Currency is the display
// currency the account was opened with. A committed balance is never negative.
type Account struct {
	ID           uuid.UUID `json:"id"`
	BusinessName string    `json:"business_name"`
	Email        string    `json:"email"`
	Balance      int64     `json:"balance"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
