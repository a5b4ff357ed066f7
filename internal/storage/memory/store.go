// Package memory is the in-memory twin of the postgres store. It backs the
// unit tests and the default dev server with the same transactional
// semantics: a unit of work either commits every mutation or none.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/ledger"
	"github.com/tahirsattar/payvault/internal/models"
)

// Store holds all ledger state behind one mutex. A unit of work holds the
// lock for its whole duration, which gives the same observable guarantees as
// the database's transactions: no partial leg sets, no lost balance updates.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	txns     map[uuid.UUID]*models.Transaction
	byKey    map[string]uuid.UUID
	order    []uuid.UUID
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*models.Account),
		txns:     make(map[uuid.UUID]*models.Transaction),
		byKey:    make(map[string]uuid.UUID),
	}
}

// CreateAccount registers an account with an opening balance in USD storage
// units.
func (s *Store) CreateAccount(ctx context.Context, account models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	if account.Status == "" {
		account.Status = models.AccountActive
	}

	s.accounts[account.ID] = &account

	copied := account

	return &copied, nil
}

// GetAccount reads an account outside any unit of work.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getAccountLocked(id)
}

func (s *Store) getAccountLocked(id uuid.UUID) (*models.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, &ledger.AccountNotFoundError{AccountID: id}
	}

	copied := *account

	return &copied, nil
}

// WithinTx runs fn under the store lock against a snapshot-backed view. On
// error every mutation made by fn is discarded.
func (s *Store) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()

	if err := fn(&memTx{store: s}); err != nil {
		s.restoreLocked(snapshot)
		return err
	}

	return nil
}

type storeSnapshot struct {
	accounts map[uuid.UUID]*models.Account
	txns     map[uuid.UUID]*models.Transaction
	byKey    map[string]uuid.UUID
	order    []uuid.UUID
}

func (s *Store) snapshotLocked() storeSnapshot {
	snap := storeSnapshot{
		accounts: make(map[uuid.UUID]*models.Account, len(s.accounts)),
		txns:     make(map[uuid.UUID]*models.Transaction, len(s.txns)),
		byKey:    make(map[string]uuid.UUID, len(s.byKey)),
		order:    append([]uuid.UUID(nil), s.order...),
	}

	for id, account := range s.accounts {
		copied := *account
		snap.accounts[id] = &copied
	}

	for id, txn := range s.txns {
		copied := *txn
		snap.txns[id] = &copied
	}

	for key, id := range s.byKey {
		snap.byKey[key] = id
	}

	return snap
}

func (s *Store) restoreLocked(snap storeSnapshot) {
	s.accounts = snap.accounts
	s.txns = snap.txns
	s.byKey = snap.byKey
	s.order = snap.order
}

// GetTransaction fetches one entry by id.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}

	copied := *txn

	return &copied, nil
}

// GetTransactionByIdempotencyKey fetches one entry by key.
func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}

	copied := *s.txns[id]

	return &copied, nil
}

// ListLegs returns all entries sharing parentTxKey in creation order.
func (s *Store) ListLegs(ctx context.Context, parentTxKey string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var legs []models.Transaction

	for _, id := range s.order {
		if txn := s.txns[id]; txn.ParentTxKey == parentTxKey {
			legs = append(legs, *txn)
		}
	}

	sort.SliceStable(legs, func(i, j int) bool {
		return legs[i].CreatedAt.Before(legs[j].CreatedAt)
	})

	return legs, nil
}

// memTx mutates the store directly; WithinTx restores the snapshot when the
// unit of work fails.
type memTx struct {
	store *Store
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, exists := t.store.byKey[txn.IdempotencyKey]; exists {
		return &ledger.DuplicateTransactionError{Key: txn.IdempotencyKey}
	}

	copied := *txn
	t.store.txns[txn.ID] = &copied
	t.store.byKey[txn.IdempotencyKey] = txn.ID
	t.store.order = append(t.store.order, txn.ID)

	return nil
}

func (t *memTx) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	_, exists := t.store.byKey[key]
	return exists, nil
}

func (t *memTx) SiblingExists(ctx context.Context, txType models.TransactionType, parentTxKey string) (bool, error) {
	for _, txn := range t.store.txns {
		if txn.Type == txType && txn.ParentTxKey == parentTxKey {
			return true, nil
		}
	}

	return false, nil
}

func (t *memTx) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return t.store.getAccountLocked(id)
}

func (t *memTx) DebitBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	account, ok := t.store.accounts[id]
	if !ok {
		return 0, &ledger.AccountNotFoundError{AccountID: id}
	}

	if account.Balance < amount {
		return 0, &ledger.InsufficientBalanceError{
			AccountID: id,
			Required:  amount,
			Available: account.Balance,
		}
	}

	account.Balance -= amount
	account.UpdatedAt = time.Now().UTC()

	return account.Balance, nil
}

func (t *memTx) CreditBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	account, ok := t.store.accounts[id]
	if !ok {
		return 0, &ledger.AccountNotFoundError{AccountID: id}
	}

	account.Balance += amount
	account.UpdatedAt = time.Now().UTC()

	return account.Balance, nil
}

var (
	_ interfaces.LedgerStore = (*Store)(nil)
	_ interfaces.LedgerTx    = (*memTx)(nil)
)
