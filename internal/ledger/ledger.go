// Package ledger is the transfer engine: it turns caller intents into linked,
// idempotent, atomic ledger entries and keeps account balances consistent
// under concurrency.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/models"
	"github.com/tahirsattar/payvault/internal/models/events"
	"github.com/tahirsattar/payvault/internal/money"
)

// TopicTransactionCompleted is the event stream topic for committed
// transactions.
const TopicTransactionCompleted = "transaction_completed"

// DefaultCurrency applies when a caller omits the currency code.
const DefaultCurrency = "USD"

// Ledger orchestrates ledger entry creation against an injected store. It
// holds no state of its own; mutual exclusion is delegated to the store's
// transactional guarantees.
type Ledger struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	notifier  interfaces.Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures optional collaborators on a Ledger.
type Option func(*Ledger)

// WithPublisher attaches an event stream publisher for committed transactions.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithNotifier attaches the webhook collaborator notified after each leg
// commits.
func WithNotifier(n interfaces.Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New builds a Ledger on the given store.
func New(store interfaces.LedgerStore, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// CreateTransactionInput is a caller's money movement intent. Amount is in
// the given currency; the engine normalizes it to USD storage units before
// touching any balance.
type CreateTransactionInput struct {
	Type          models.TransactionType
	FromAccountID *uuid.UUID
	ToAccountID   *uuid.UUID
	Amount        decimal.Decimal
	Currency      string

	IdempotencyKey string

	// ParentTxKey optionally attaches a standalone debit or credit entry to
	// an existing transfer group. The sibling-order invariant still holds: a
	// debit needs the group's transfer parent, a credit needs a debit
	// sibling. Transfers always generate their own group key.
	ParentTxKey string

	Description string
}

// CreateTransaction validates the intent, runs the idempotency guard, and
// writes the entry set atomically:
//
//   - Credit/Debit: one entry; parent_tx_key equals the idempotency key, or
//     the caller's ParentTxKey when attaching the leg to an existing group.
//   - Transfer: a pending transfer parent, then a debit leg, then a credit
//     leg, all sharing one generated txgroup key. No partial set of legs is
//     ever observable.
//
// The returned entry is the transfer parent, or the single entry for
// standalone operations. Webhook notifications and the stream event are
// dispatched after commit without gating it.
func (l *Ledger) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*models.Transaction, error) {
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}

	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	if in.ParentTxKey != "" && in.Type == models.TypeTransfer {
		return nil, &ValidationError{Field: "parent_tx_key", Reason: "transfer transactions generate their own parent_tx_key"}
	}

	units, err := money.ToUSDStorageUnits(in.Amount, in.Currency)
	if err != nil {
		return nil, &ValidationError{Field: "currency", Reason: err.Error()}
	}

	if err := ValidateEntry(in.Type, in.FromAccountID, in.ToAccountID, units); err != nil {
		return nil, err
	}

	if err := money.ValidateAmount(units); err != nil {
		return nil, &ValidationError{Field: "amount", Reason: err.Error()}
	}

	var (
		result    *models.Transaction
		committed []models.Transaction
	)

	err = l.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		// The lookup is an optimization; the unique index on
		// idempotency_key is what actually decides a race.
		exists, err := tx.IdempotencyKeyExists(ctx, in.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("idempotency lookup: %w", err)
		}

		if exists {
			return &DuplicateTransactionError{Key: in.IdempotencyKey}
		}

		if err := l.checkAccounts(ctx, tx, in); err != nil {
			return err
		}

		result, committed, err = l.writeEntries(ctx, tx, in, units)

		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("transaction committed",
		zap.String("transaction_id", result.ID.String()),
		zap.String("type", string(in.Type)),
		zap.String("parent_tx_key", result.ParentTxKey),
		zap.Int64("amount", units))

	go l.dispatchPostCommit(result, committed)

	return result, nil
}

// checkAccounts verifies every referenced account exists and is active;
// suspended and closed accounts accept no balance mutations.
func (l *Ledger) checkAccounts(ctx context.Context, tx interfaces.LedgerTx, in CreateTransactionInput) error {
	for _, id := range []*uuid.UUID{in.FromAccountID, in.ToAccountID} {
		if id == nil {
			continue
		}

		account, err := tx.GetAccount(ctx, *id)
		if err != nil {
			return err
		}

		if account.Status != models.AccountActive {
			return &AccountStateError{AccountID: *id, Status: account.Status}
		}
	}

	return nil
}

// writeEntries inserts the entry set for the intent and mutates balances. It
// runs entirely inside the caller's unit of work.
func (l *Ledger) writeEntries(ctx context.Context, tx interfaces.LedgerTx, in CreateTransactionInput, units int64) (*models.Transaction, []models.Transaction, error) {
	if in.Type != models.TypeTransfer {
		// A standalone entry is its own group unless the caller attaches it
		// to an existing one.
		parentKey := in.IdempotencyKey
		if in.ParentTxKey != "" {
			parentKey = in.ParentTxKey
		}

		leg, err := l.writeLeg(ctx, tx, in, units, in.Type, in.IdempotencyKey, parentKey)
		if err != nil {
			return nil, nil, err
		}

		return leg, []models.Transaction{*leg}, nil
	}

	// All three rows of a transfer share one generated group key; the legs
	// derive their idempotency keys from the caller's so a retried transfer
	// conflicts on every row.
	groupKey := "txgroup_" + uuid.NewString()

	parent := &models.Transaction{
		ID:             uuid.New(),
		Type:           models.TypeTransfer,
		FromAccountID:  in.FromAccountID,
		ToAccountID:    in.ToAccountID,
		Amount:         units,
		Currency:       in.Currency,
		Status:         models.StatusPending,
		IdempotencyKey: in.IdempotencyKey,
		ParentTxKey:    groupKey,
		Description:    in.Description,
		CreatedAt:      l.now().UTC(),
	}

	if err := tx.InsertTransaction(ctx, parent); err != nil {
		return nil, nil, err
	}

	debit, err := l.writeLeg(ctx, tx, in, units, models.TypeDebit, in.IdempotencyKey+"_debit", groupKey)
	if err != nil {
		return nil, nil, err
	}

	credit, err := l.writeLeg(ctx, tx, in, units, models.TypeCredit, in.IdempotencyKey+"_credit", groupKey)
	if err != nil {
		return nil, nil, err
	}

	return parent, []models.Transaction{*parent, *debit, *credit}, nil
}

// writeLeg mutates the affected balance and inserts one debit or credit
// entry. Debit legs insert pending; credit legs, whose balance effect cannot
// fail, insert completed.
func (l *Ledger) writeLeg(ctx context.Context, tx interfaces.LedgerTx, in CreateTransactionInput, units int64, legType models.TransactionType, idempotencyKey, parentKey string) (*models.Transaction, error) {
	now := l.now().UTC()

	leg := &models.Transaction{
		ID:             uuid.New(),
		Type:           legType,
		Amount:         units,
		Currency:       in.Currency,
		Status:         models.StatusPending,
		IdempotencyKey: idempotencyKey,
		ParentTxKey:    parentKey,
		Description:    in.Description,
		CreatedAt:      now,
	}

	partOfTransfer := parentKey != idempotencyKey

	switch legType {
	case models.TypeDebit:
		leg.FromAccountID = in.FromAccountID

		if partOfTransfer {
			ok, err := tx.SiblingExists(ctx, models.TypeTransfer, parentKey)
			if err != nil {
				return nil, err
			}

			if !ok {
				return nil, &MissingParentLegError{ParentTxKey: parentKey, WantSibling: string(models.TypeTransfer)}
			}
		}

		if _, err := tx.DebitBalance(ctx, *in.FromAccountID, units); err != nil {
			return nil, err
		}

	case models.TypeCredit:
		leg.ToAccountID = in.ToAccountID

		if partOfTransfer {
			ok, err := tx.SiblingExists(ctx, models.TypeDebit, parentKey)
			if err != nil {
				return nil, err
			}

			if !ok {
				return nil, &MissingParentLegError{ParentTxKey: parentKey, WantSibling: string(models.TypeDebit)}
			}
		}

		if _, err := tx.CreditBalance(ctx, *in.ToAccountID, units); err != nil {
			return nil, err
		}

		leg.Status = models.StatusCompleted
		leg.CompletedAt = &now
	}

	if err := tx.InsertTransaction(ctx, leg); err != nil {
		return nil, err
	}

	return leg, nil
}

// dispatchPostCommit fans out webhook notifications for each committed leg
// and publishes the stream event. Failures are logged and dropped; delivery
// is the collaborators' concern.
func (l *Ledger) dispatchPostCommit(result *models.Transaction, legs []models.Transaction) {
	ctx := context.Background()
	now := l.now().UTC()

	for _, leg := range legs {
		if l.notifier == nil {
			break
		}

		var (
			accountID uuid.UUID
			eventType string
		)

		switch {
		case leg.Type == models.TypeDebit && leg.FromAccountID != nil:
			accountID, eventType = *leg.FromAccountID, events.EventDebited
		case leg.Type == models.TypeCredit && leg.ToAccountID != nil:
			accountID, eventType = *leg.ToAccountID, events.EventCredited
		default:
			continue
		}

		event := events.LedgerEvent{
			Event:         eventType,
			TransactionID: leg.ID,
			Amount:        leg.Amount,
			Currency:      leg.Currency,
			Description:   leg.Description,
			ParentTxKey:   leg.ParentTxKey,
			OccurredAt:    now,
		}

		if err := l.notifier.Notify(ctx, accountID, event); err != nil {
			l.logger.Warn("webhook notification failed",
				zap.String("account_id", accountID.String()),
				zap.String("transaction_id", leg.ID.String()),
				zap.Error(err))
		}
	}

	if l.publisher == nil {
		return
	}

	event := events.TransactionCompleted{
		TransactionID: result.ID,
		ParentTxKey:   result.ParentTxKey,
		FromAccountID: result.FromAccountID,
		ToAccountID:   result.ToAccountID,
		Amount:        result.Amount,
		Currency:      result.Currency,
		OccurredAt:    now,
	}

	if err := l.publisher.Publish(ctx, TopicTransactionCompleted, event); err != nil {
		l.logger.Warn("event publish failed",
			zap.String("transaction_id", result.ID.String()),
			zap.Error(err))
	}
}

// GetTransaction fetches one entry by id.
func (l *Ledger) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// GetTransactionByIdempotencyKey fetches one entry by its caller-supplied key.
func (l *Ledger) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	return l.store.GetTransactionByIdempotencyKey(ctx, key)
}

// ListTransferLegs returns every entry of one logical transfer ordered by
// creation time. Only the sending or receiving account may read the
// narrative.
func (l *Ledger) ListTransferLegs(ctx context.Context, parentTxKey string, callerAccountID uuid.UUID) ([]models.Transaction, error) {
	legs, err := l.store.ListLegs(ctx, parentTxKey)
	if err != nil {
		return nil, err
	}

	if len(legs) == 0 {
		return nil, ErrTransactionNotFound
	}

	for _, leg := range legs {
		if (leg.FromAccountID != nil && *leg.FromAccountID == callerAccountID) ||
			(leg.ToAccountID != nil && *leg.ToAccountID == callerAccountID) {
			return legs, nil
		}
	}

	return nil, ErrNotParticipant
}
