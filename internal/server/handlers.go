package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/ledger"
	"github.com/tahirsattar/payvault/internal/models"
	"github.com/tahirsattar/payvault/internal/money"
	"github.com/tahirsattar/payvault/internal/ratelimit"
	"github.com/tahirsattar/payvault/internal/security"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

type createAccountRequest struct {
	BusinessName   string          `json:"business_name"`
	Email          string          `json:"email"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

func (s *Server) handleCreateAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.BusinessName == "" || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "business_name and email are required"})
	}

	if req.Currency == "" {
		req.Currency = ledger.DefaultCurrency
	}

	var balance int64

	if !req.OpeningBalance.IsZero() {
		units, err := money.ToUSDStorageUnits(req.OpeningBalance, req.Currency)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		balance = units
	}

	account, err := s.accounts.CreateAccount(c.Context(), models.Account{
		BusinessName: req.BusinessName,
		Email:        req.Email,
		Balance:      balance,
		Currency:     req.Currency,
		Status:       models.AccountActive,
	})
	if err != nil {
		s.logger.Error("account creation failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.Status(fiber.StatusCreated).JSON(account)
}

type issueKeyRequest struct {
	Name               string `json:"name"`
	RateLimitPerMinute *int   `json:"rate_limit_per_minute"`
	RateLimitPerHour   *int   `json:"rate_limit_per_hour"`
	ExpiresInDays      *int   `json:"expires_in_days"`
}

// handleIssueKey mints an API key for an account. The plaintext key appears
// in this response and nowhere else.
func (s *Server) handleIssueKey(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid account id"})
	}

	if _, err := s.accounts.GetAccount(c.Context(), accountID); err != nil {
		return s.writeDomainError(c, err)
	}

	var req issueKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	plaintext, hash, err := security.GenerateKey()
	if err != nil {
		s.logger.Error("key generation failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	key := &models.APIKey{
		ID:                 uuid.New(),
		AccountID:          accountID,
		KeyHash:            hash,
		KeyPrefix:          security.DisplayPrefix(plaintext),
		Name:               req.Name,
		Status:             models.APIKeyActive,
		RateLimitPerMinute: req.RateLimitPerMinute,
		RateLimitPerHour:   req.RateLimitPerHour,
	}

	if req.ExpiresInDays != nil {
		expires := time.Now().UTC().AddDate(0, 0, *req.ExpiresInDays)
		key.ExpiresAt = &expires
	}

	if err := s.keys.InsertAPIKey(c.Context(), key); err != nil {
		s.logger.Error("key insert failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"api_key": plaintext,
		"key":     key,
	})
}

type createTransactionRequest struct {
	Type          models.TransactionType `json:"type"`
	FromAccountID *uuid.UUID             `json:"from_account_id"`
	ToAccountID   *uuid.UUID             `json:"to_account_id"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	ParentTxKey   string                 `json:"parent_tx_key"`
	Description   string                 `json:"description"`
}

func (s *Server) handleCreateTransaction(c *fiber.Ctx) error {
	var req createTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	callerID := c.Locals(localAccountID).(uuid.UUID)

	// The authenticated account must be the one the money moves out of, or,
	// for a pure credit, the one it moves into.
	switch req.Type {
	case models.TypeDebit, models.TypeTransfer:
		if req.FromAccountID == nil || *req.FromAccountID != callerID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "from_account_id must be the authenticated account"})
		}
	case models.TypeCredit:
		if req.ToAccountID == nil || *req.ToAccountID != callerID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "to_account_id must be the authenticated account"})
		}
	}

	txn, err := s.ledger.CreateTransaction(c.Context(), ledger.CreateTransactionInput{
		Type:           req.Type,
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: c.Get("Idempotency-Key"),
		ParentTxKey:    req.ParentTxKey,
		Description:    req.Description,
	})
	if err != nil {
		return s.writeDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(txn)
}

func (s *Server) handleGetTransaction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid transaction id"})
	}

	txn, err := s.ledger.GetTransaction(c.Context(), id)
	if err != nil {
		return s.writeDomainError(c, err)
	}

	callerID := c.Locals(localAccountID).(uuid.UUID)
	if !isParticipant(txn, callerID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant in this transaction"})
	}

	return c.JSON(txn)
}

func (s *Server) handleListLegs(c *fiber.Ctx) error {
	callerID := c.Locals(localAccountID).(uuid.UUID)

	legs, err := s.ledger.ListTransferLegs(c.Context(), c.Params("parentTxKey"), callerID)
	if err != nil {
		return s.writeDomainError(c, err)
	}

	return c.JSON(fiber.Map{"legs": legs})
}

func (s *Server) handleGetOwnAccount(c *fiber.Ctx) error {
	callerID := c.Locals(localAccountID).(uuid.UUID)

	account, err := s.accounts.GetAccount(c.Context(), callerID)
	if err != nil {
		return s.writeDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"account": account,
		"balance": money.FromStorageUnits(account.Balance),
	})
}

func (s *Server) handleRateLimitStatus(c *fiber.Ctx) error {
	key := c.Locals(localAPIKey).(*models.APIKey)

	results, err := s.limiter.Status(c.Context(), key.ID)
	if err != nil {
		return s.writeDomainError(c, err)
	}

	return c.JSON(fiber.Map{"windows": results})
}

// writeDomainError maps domain errors onto HTTP statuses. Unknown errors are
// logged and answered as opaque 500s.
func (s *Server) writeDomainError(c *fiber.Ctx, err error) error {
	var (
		validation   *ledger.ValidationError
		duplicate    *ledger.DuplicateTransactionError
		notFound     *ledger.AccountNotFoundError
		insufficient *ledger.InsufficientBalanceError
		missingLeg   *ledger.MissingParentLegError
		accState     *ledger.AccountStateError
		keyState     *ratelimit.KeyStateError
	)

	switch {
	case errors.As(err, &validation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validation.Error()})
	case errors.As(err, &duplicate):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":           "duplicate idempotency key",
			"idempotency_key": duplicate.Key,
		})
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": notFound.Error()})
	case errors.As(err, &insufficient):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":     "insufficient balance",
			"required":  insufficient.Required,
			"available": insufficient.Available,
		})
	case errors.As(err, &missingLeg):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": missingLeg.Error()})
	case errors.As(err, &accState):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": accState.Error()})
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "transaction not found"})
	case errors.As(err, &keyState):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": keyState.Reason})
	case errors.Is(err, ledger.ErrNotParticipant):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant in this transfer"})
	}

	s.logger.Error("request failed", zap.Error(err))

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func isParticipant(txn *models.Transaction, accountID uuid.UUID) bool {
	return (txn.FromAccountID != nil && *txn.FromAccountID == accountID) ||
		(txn.ToAccountID != nil && *txn.ToAccountID == accountID)
}
