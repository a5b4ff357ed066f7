package ledger_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/ledger"
	"github.com/tahirsattar/payvault/internal/models"
	"github.com/tahirsattar/payvault/internal/storage/memory"
)

func newTestLedger(t *testing.T) (*ledger.Ledger, *memory.Store) {
	t.Helper()

	store := memory.NewStore()

	return ledger.New(store, zap.NewNop()), store
}

func newFundedAccount(t *testing.T, store *memory.Store, balance int64) uuid.UUID {
	t.Helper()

	account, err := store.CreateAccount(context.Background(), models.Account{
		BusinessName: "acme",
		Email:        uuid.NewString() + "@example.com",
		Balance:      balance,
		Currency:     "USD",
		Status:       models.AccountActive,
	})
	require.NoError(t, err)

	return account.ID
}

func TestCreateTransaction_Transfer(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	from := newFundedAccount(t, store, 1_000_000) // 100 USD
	to := newFundedAccount(t, store, 0)

	parent, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeTransfer,
		FromAccountID:  &from,
		ToAccountID:    &to,
		Amount:         decimal.NewFromInt(25),
		Currency:       "USD",
		IdempotencyKey: "order-42",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TypeTransfer, parent.Type)
	assert.Equal(t, models.StatusPending, parent.Status)
	assert.Equal(t, int64(250_000), parent.Amount)
	assert.True(t, strings.HasPrefix(parent.ParentTxKey, "txgroup_"))

	sender, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(750_000), sender.Balance)

	receiver, err := store.GetAccount(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(250_000), receiver.Balance)

	legs, err := engine.ListTransferLegs(ctx, parent.ParentTxKey, from)
	require.NoError(t, err)
	require.Len(t, legs, 3)

	assert.Equal(t, models.TypeTransfer, legs[0].Type)
	assert.Equal(t, models.TypeDebit, legs[1].Type)
	assert.Equal(t, models.TypeCredit, legs[2].Type)

	assert.Equal(t, "order-42_debit", legs[1].IdempotencyKey)
	assert.Equal(t, "order-42_credit", legs[2].IdempotencyKey)

	assert.Equal(t, models.StatusPending, legs[1].Status)
	assert.Equal(t, models.StatusCompleted, legs[2].Status)
	assert.NotNil(t, legs[2].CompletedAt)
}

func TestCreateTransaction_CurrencyConversion(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	to := newFundedAccount(t, store, 0)

	txn, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:        models.TypeCredit,
		ToAccountID: &to,
		Amount:      decimal.NewFromInt(100),
		Currency:    "EUR",
	})
	require.NoError(t, err)

	// 100 EUR at 1.08 is 108 USD, stored at scale 4.
	assert.Equal(t, int64(1_080_000), txn.Amount)

	account, err := store.GetAccount(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(1_080_000), account.Balance)
}

func TestCreateTransaction_GeneratesIdempotencyKey(t *testing.T) {
	engine, store := newTestLedger(t)

	to := newFundedAccount(t, store, 0)

	txn, err := engine.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		Type:        models.TypeCredit,
		ToAccountID: &to,
		Amount:      decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, txn.IdempotencyKey)
	assert.Equal(t, txn.IdempotencyKey, txn.ParentTxKey)
	assert.Equal(t, "USD", txn.Currency)
}

func TestCreateTransaction_DuplicateKey(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	to := newFundedAccount(t, store, 0)

	in := ledger.CreateTransactionInput{
		Type:           models.TypeCredit,
		ToAccountID:    &to,
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "dep-1",
	}

	_, err := engine.CreateTransaction(ctx, in)
	require.NoError(t, err)

	_, err = engine.CreateTransaction(ctx, in)

	var duplicate *ledger.DuplicateTransactionError
	require.ErrorAs(t, err, &duplicate)
	assert.Equal(t, "dep-1", duplicate.Key)

	// The retry must not have credited a second time.
	account, err := store.GetAccount(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), account.Balance)
}

func TestCreateTransaction_DuplicateKeyConcurrent(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	from := newFundedAccount(t, store, 10_000_000)
	to := newFundedAccount(t, store, 0)

	const workers = 16

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		dupes int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
				Type:           models.TypeTransfer,
				FromAccountID:  &from,
				ToAccountID:    &to,
				Amount:         decimal.NewFromInt(5),
				IdempotencyKey: "race-1",
			})

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				wins++
				return
			}

			var duplicate *ledger.DuplicateTransactionError
			if assert.ErrorAs(t, err, &duplicate) {
				dupes++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, dupes)

	// Exactly one transfer's worth of money moved.
	sender, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(9_950_000), sender.Balance)

	receiver, err := store.GetAccount(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), receiver.Balance)
}

func TestCreateTransaction_InsufficientBalance(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	from := newFundedAccount(t, store, 50_000) // 5 USD
	to := newFundedAccount(t, store, 0)

	_, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeTransfer,
		FromAccountID:  &from,
		ToAccountID:    &to,
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "over-1",
	})

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(100_000), insufficient.Required)
	assert.Equal(t, int64(50_000), insufficient.Available)

	// The failed transfer must leave no trace: no rows, no balance change.
	_, err = engine.GetTransactionByIdempotencyKey(ctx, "over-1")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	sender, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), sender.Balance)

	receiver, err := store.GetAccount(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(0), receiver.Balance)
}

func TestCreateTransaction_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	// Funds for exactly 3 of the 10 attempted debits.
	from := newFundedAccount(t, store, 300_000)

	const workers = 10

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
				Type:           models.TypeDebit,
				FromAccountID:  &from,
				Amount:         decimal.NewFromInt(10),
				IdempotencyKey: uuid.NewString(),
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 3, wins)

	account, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)
}

func TestCreateTransaction_AttachLegToExistingGroup(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	from := newFundedAccount(t, store, 1_000_000)
	to := newFundedAccount(t, store, 0)

	parent, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeTransfer,
		FromAccountID:  &from,
		ToAccountID:    &to,
		Amount:         decimal.NewFromInt(25),
		IdempotencyKey: "order-7",
	})
	require.NoError(t, err)

	// An adjustment debit may join the group once its transfer parent exists.
	leg, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeDebit,
		FromAccountID:  &from,
		Amount:         decimal.NewFromInt(2),
		IdempotencyKey: "order-7-fee",
		ParentTxKey:    parent.ParentTxKey,
	})
	require.NoError(t, err)
	assert.Equal(t, parent.ParentTxKey, leg.ParentTxKey)

	legs, err := engine.ListTransferLegs(ctx, parent.ParentTxKey, from)
	require.NoError(t, err)
	assert.Len(t, legs, 4)

	sender, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(730_000), sender.Balance)
}

func TestCreateTransaction_OutOfOrderLegsRejected(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	from := newFundedAccount(t, store, 1_000_000)
	to := newFundedAccount(t, store, 0)

	var missing *ledger.MissingParentLegError

	// A debit leg cannot open a group: its transfer parent must exist first.
	_, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeDebit,
		FromAccountID:  &from,
		Amount:         decimal.NewFromInt(5),
		IdempotencyKey: "orphan-debit",
		ParentTxKey:    "txgroup_" + uuid.NewString(),
	})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, string(models.TypeTransfer), missing.WantSibling)

	// A credit leg needs a debit sibling already in the group.
	_, err = engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeCredit,
		ToAccountID:    &to,
		Amount:         decimal.NewFromInt(5),
		IdempotencyKey: "orphan-credit",
		ParentTxKey:    "txgroup_" + uuid.NewString(),
	})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, string(models.TypeDebit), missing.WantSibling)

	// The rejected legs left no rows and touched no balance.
	for _, key := range []string{"orphan-debit", "orphan-credit"} {
		_, err := engine.GetTransactionByIdempotencyKey(ctx, key)
		assert.ErrorIs(t, err, ledger.ErrTransactionNotFound, key)
	}

	sender, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), sender.Balance)
}

func TestCreateTransaction_TransferRejectsCallerParentKey(t *testing.T) {
	engine, store := newTestLedger(t)

	from := newFundedAccount(t, store, 1_000_000)
	to := newFundedAccount(t, store, 0)

	_, err := engine.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		Type:          models.TypeTransfer,
		FromAccountID: &from,
		ToAccountID:   &to,
		Amount:        decimal.NewFromInt(1),
		ParentTxKey:   "txgroup_" + uuid.NewString(),
	})

	var validation *ledger.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "parent_tx_key", validation.Field)
}

func TestCreateTransaction_InactiveAccount(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	from := newFundedAccount(t, store, 1_000_000)

	suspended, err := store.CreateAccount(ctx, models.Account{
		BusinessName: "dormant",
		Email:        uuid.NewString() + "@example.com",
		Currency:     "USD",
		Status:       models.AccountSuspended,
	})
	require.NoError(t, err)

	_, err = engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeTransfer,
		FromAccountID:  &from,
		ToAccountID:    &suspended.ID,
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "frozen-1",
	})

	var state *ledger.AccountStateError
	require.ErrorAs(t, err, &state)
	assert.Equal(t, suspended.ID, state.AccountID)
	assert.Equal(t, models.AccountSuspended, state.Status)

	// Nothing moved.
	_, err = engine.GetTransactionByIdempotencyKey(ctx, "frozen-1")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	sender, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), sender.Balance)
}

// creditFailStore makes every credit balance mutation fail, forcing the
// final leg of a transfer to error after the parent and debit rows are in.
type creditFailStore struct {
	*memory.Store
}

func (s *creditFailStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	return s.Store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		return fn(&creditFailTx{LedgerTx: tx})
	})
}

type creditFailTx struct {
	interfaces.LedgerTx
}

func (t *creditFailTx) CreditBalance(context.Context, uuid.UUID, int64) (int64, error) {
	return 0, errors.New("storage failure on credit")
}

func TestCreateTransaction_ThirdLegFailureRollsBackEverything(t *testing.T) {
	store := memory.NewStore()
	engine := ledger.New(&creditFailStore{Store: store}, zap.NewNop())
	ctx := context.Background()

	from := newFundedAccount(t, store, 1_000_000)
	to := newFundedAccount(t, store, 0)

	_, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeTransfer,
		FromAccountID:  &from,
		ToAccountID:    &to,
		Amount:         decimal.NewFromInt(25),
		IdempotencyKey: "doomed-1",
	})
	require.Error(t, err)

	// The parent and debit rows written before the failing credit leg must
	// not survive the rollback.
	for _, key := range []string{"doomed-1", "doomed-1_debit", "doomed-1_credit"} {
		_, err := store.GetTransactionByIdempotencyKey(ctx, key)
		assert.ErrorIs(t, err, ledger.ErrTransactionNotFound, key)
	}

	sender, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), sender.Balance)
}

func TestCreateTransaction_UnknownAccount(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	from := newFundedAccount(t, store, 100_000)
	ghost := uuid.New()

	_, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:           models.TypeTransfer,
		FromAccountID:  &from,
		ToAccountID:    &ghost,
		Amount:         decimal.NewFromInt(1),
		IdempotencyKey: "ghost-1",
	})

	var notFound *ledger.AccountNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, ghost, notFound.AccountID)

	// Nothing committed, sender untouched.
	_, err = engine.GetTransactionByIdempotencyKey(ctx, "ghost-1")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	sender, err := store.GetAccount(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), sender.Balance)
}

func TestCreateTransaction_UnsupportedCurrency(t *testing.T) {
	engine, store := newTestLedger(t)

	to := newFundedAccount(t, store, 0)

	_, err := engine.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		Type:        models.TypeCredit,
		ToAccountID: &to,
		Amount:      decimal.NewFromInt(10),
		Currency:    "XAU",
	})

	var validation *ledger.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "currency", validation.Field)
}

func TestListTransferLegs_Authorization(t *testing.T) {
	engine, store := newTestLedger(t)
	ctx := context.Background()

	from := newFundedAccount(t, store, 100_000)
	to := newFundedAccount(t, store, 0)
	outsider := newFundedAccount(t, store, 0)

	parent, err := engine.CreateTransaction(ctx, ledger.CreateTransactionInput{
		Type:          models.TypeTransfer,
		FromAccountID: &from,
		ToAccountID:   &to,
		Amount:        decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	for _, participant := range []uuid.UUID{from, to} {
		legs, err := engine.ListTransferLegs(ctx, parent.ParentTxKey, participant)
		require.NoError(t, err)
		assert.Len(t, legs, 3)
	}

	_, err = engine.ListTransferLegs(ctx, parent.ParentTxKey, outsider)
	assert.ErrorIs(t, err, ledger.ErrNotParticipant)

	_, err = engine.ListTransferLegs(ctx, "txgroup_missing", from)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}
