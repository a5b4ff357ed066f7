package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTransactionNotFound is returned by the read operations when no entry
// matches the given id or key.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrNotParticipant is returned when a caller asks for a transfer narrative
// it is neither the sender nor the receiver of.
var ErrNotParticipant = errors.New("account is not a participant in this transfer")

// ValidationError reports the first violated shape rule of a ledger entry.
// It is never retried and is surfaced to the caller verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}

	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DuplicateTransactionError reports an idempotency key that has already been
// processed. The original entry is deliberately not attached; callers that
// want it must re-fetch by key.
type DuplicateTransactionError struct {
	Key string
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("transaction with idempotency_key %q already exists", e.Key)
}

// AccountNotFoundError reports a from/to account id that does not exist.
type AccountNotFoundError struct {
	AccountID uuid.UUID
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.AccountID)
}

// AccountStateError reports an entry touching an account whose status does
// not allow balance mutations.
type AccountStateError struct {
	AccountID uuid.UUID
	Status    string
}

func (e *AccountStateError) Error() string {
	return fmt.Sprintf("account %s is %s", e.AccountID, e.Status)
}

// InsufficientBalanceError reports a debit that would drive the account
// balance negative. Required and Available are USD storage units.
type InsufficientBalanceError struct {
	AccountID uuid.UUID
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: required %d, available %d",
		e.AccountID, e.Required, e.Available)
}

// MissingParentLegError reports a debit or credit leg inserted before the
// sibling entry that must precede it in the transfer -> debit -> credit order.
type MissingParentLegError struct {
	ParentTxKey string
	WantSibling string
}

func (e *MissingParentLegError) Error() string {
	return fmt.Sprintf("no %s entry found with parent_tx_key %q", e.WantSibling, e.ParentTxKey)
}
