package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/tahirsattar/payvault/internal/models"
)

// LedgerStore is the persistence boundary of the transfer engine. Mutation
// happens exclusively inside WithinTx so that every logical transaction's
// legs commit or roll back as one unit; the reads run outside any unit of
// work.
type LedgerStore interface {
	// WithinTx runs fn inside one atomic unit of work. If fn returns an
	// error the unit of work is rolled back and the error is returned
	// unchanged; otherwise it commits.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	// ListLegs returns every entry sharing parentTxKey ordered by creation
	// time, reconstructing a transfer's full narrative.
	ListLegs(ctx context.Context, parentTxKey string) ([]models.Transaction, error)
}

// LedgerTx is the mutation surface available inside one unit of work. The
// implementation owns mutual exclusion: InsertTransaction must fail on a
// duplicate idempotency key even when the pre-insert lookup raced, and
// DebitBalance must never let a committed balance go negative.
type LedgerTx interface {
	// InsertTransaction persists one ledger entry. A unique-key conflict on
	// the idempotency key surfaces as *ledger.DuplicateTransactionError.
	InsertTransaction(ctx context.Context, txn *models.Transaction) error

	// IdempotencyKeyExists reports whether any entry carries the key.
	IdempotencyKeyExists(ctx context.Context, key string) (bool, error)

	// SiblingExists reports whether an entry of the given type already
	// exists under parentTxKey, enforcing the transfer -> debit -> credit
	// creation order.
	SiblingExists(ctx context.Context, txType models.TransactionType, parentTxKey string) (bool, error)

	// GetAccount reads an account within the unit of work.
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)

	// DebitBalance atomically decrements the balance if and only if the
	// account holds at least amount, returning the new balance. A shortfall
	// surfaces as *ledger.InsufficientBalanceError without mutating anything.
	DebitBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error)

	// CreditBalance atomically increments the balance, returning the new
	// balance.
	CreditBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error)
}
