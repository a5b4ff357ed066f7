// Package postgres is the production store. Mutual exclusion between
// concurrent units of work is delegated entirely to the database: the unique
// index on idempotency_key decides duplicate races, and the debit is one
// conditional UPDATE that can never drive a committed balance negative.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/ledger"
	"github.com/tahirsattar/payvault/internal/models"
)

const uniqueViolation = "23505"

// Pool sizing defaults, applied by Open.
const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
)

// Store implements the ledger, counter, and key store interfaces over one
// bounded *sql.DB pool.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to postgres with bounded pool settings and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying pool for migrations and health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn inside one database transaction. Connections are held
// only for the duration of the unit of work.
func (s *Store) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: dbTx}); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}

		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

const transactionColumns = `id, transaction_type, from_account_id, to_account_id, amount, currency,
	status, idempotency_key, parent_tx_key, description, error_code, error_message,
	created_at, completed_at`

// GetTransaction fetches one entry by id.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)

	return scanTransaction(row)
}

// GetTransactionByIdempotencyKey fetches one entry by its caller key.
func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key)

	return scanTransaction(row)
}

// ListLegs returns all entries sharing parentTxKey ordered by creation time.
func (s *Store) ListLegs(ctx context.Context, parentTxKey string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE parent_tx_key = $1 ORDER BY created_at ASC`, parentTxKey)
	if err != nil {
		return nil, fmt.Errorf("list legs: %w", err)
	}
	defer rows.Close()

	var legs []models.Transaction

	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}

		legs = append(legs, *txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list legs: %w", err)
	}

	return legs, nil
}

// CreateAccount registers an account with an opening balance in USD storage
// units.
func (s *Store) CreateAccount(ctx context.Context, account models.Account) (*models.Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	if account.Status == "" {
		account.Status = models.AccountActive
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, business_name, email, balance, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, business_name, email, balance, currency, status, created_at, updated_at`,
		account.ID, account.BusinessName, account.Email, account.Balance, account.Currency, account.Status)

	return scanAccount(row)
}

// GetAccount reads an account outside any unit of work.
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, business_name, email, balance, currency, status, created_at, updated_at
		FROM accounts WHERE id = $1`, id)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.AccountNotFoundError{AccountID: id}
	}

	return account, err
}

// pgTx is the mutation surface of one database transaction.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, transaction_type, from_account_id, to_account_id,
			amount, currency, status, idempotency_key, parent_tx_key, description,
			created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		txn.ID, txn.Type, nullUUID(txn.FromAccountID), nullUUID(txn.ToAccountID),
		txn.Amount, txn.Currency, txn.Status, txn.IdempotencyKey, txn.ParentTxKey,
		nullString(txn.Description), txn.CreatedAt, nullTime(txn.CompletedAt))

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &ledger.DuplicateTransactionError{Key: txn.IdempotencyKey}
	}

	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (t *pgTx) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool

	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE idempotency_key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}

	return exists, nil
}

func (t *pgTx) SiblingExists(ctx context.Context, txType models.TransactionType, parentTxKey string) (bool, error) {
	var exists bool

	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions WHERE transaction_type = $1 AND parent_tx_key = $2
		)`, txType, parentTxKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sibling lookup: %w", err)
	}

	return exists, nil
}

func (t *pgTx) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, business_name, email, balance, currency, status, created_at, updated_at
		FROM accounts WHERE id = $1`, id)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.AccountNotFoundError{AccountID: id}
	}

	return account, err
}

// DebitBalance is one conditional UPDATE: the decrement only happens when
// the balance covers the amount, closing the read-then-write race between
// concurrent debits on the same account.
func (t *pgTx) DebitBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	var balance int64

	err := t.tx.QueryRowContext(ctx, `
		UPDATE accounts SET balance = balance - $1, updated_at = now()
		WHERE id = $2 AND balance >= $1
		RETURNING balance`, amount, id).Scan(&balance)

	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing account from a shortfall, locking the row so
		// the reported available balance is the one the update saw.
		var available int64

		err := t.tx.QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &ledger.AccountNotFoundError{AccountID: id}
		}

		if err != nil {
			return 0, fmt.Errorf("debit balance: %w", err)
		}

		return 0, &ledger.InsufficientBalanceError{AccountID: id, Required: amount, Available: available}
	}

	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}

	return balance, nil
}

func (t *pgTx) CreditBalance(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	var balance int64

	err := t.tx.QueryRowContext(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance`, amount, id).Scan(&balance)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, &ledger.AccountNotFoundError{AccountID: id}
	}

	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}

	return balance, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		txn          models.Transaction
		from, to     uuid.NullUUID
		description  sql.NullString
		errorCode    sql.NullString
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)

	err := row.Scan(&txn.ID, &txn.Type, &from, &to, &txn.Amount, &txn.Currency,
		&txn.Status, &txn.IdempotencyKey, &txn.ParentTxKey, &description,
		&errorCode, &errorMessage, &txn.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if from.Valid {
		txn.FromAccountID = &from.UUID
	}

	if to.Valid {
		txn.ToAccountID = &to.UUID
	}

	txn.Description = description.String
	txn.ErrorCode = errorCode.String
	txn.ErrorMessage = errorMessage.String

	if completedAt.Valid {
		txn.CompletedAt = &completedAt.Time
	}

	return &txn, nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account

	err := row.Scan(&account.ID, &account.BusinessName, &account.Email,
		&account.Balance, &account.Currency, &account.Status,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &account, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}

	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

var (
	_ interfaces.LedgerStore = (*Store)(nil)
	_ interfaces.LedgerTx    = (*pgTx)(nil)
)
