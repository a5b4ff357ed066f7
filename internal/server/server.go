// Package server is the HTTP boundary: fiber routing, API key auth, rate
// limit enforcement, and JSON mapping of domain errors to status codes.
package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/ledger"
	"github.com/tahirsattar/payvault/internal/models"
	"github.com/tahirsattar/payvault/internal/ratelimit"
)

// AccountStore is the account surface the handlers need.
type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) (*models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// KeyStore extends the read-side key store with issuance.
type KeyStore interface {
	interfaces.KeyStore
	InsertAPIKey(ctx context.Context, key *models.APIKey) error
}

// Server wires the ledger and rate limiter behind a fiber app.
type Server struct {
	app      *fiber.App
	ledger   *ledger.Ledger
	limiter  *ratelimit.Limiter
	accounts AccountStore
	keys     KeyStore
	logger   *zap.Logger
}

func New(lgr *ledger.Ledger, limiter *ratelimit.Limiter, accounts AccountStore, keys KeyStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		ledger:   lgr,
		limiter:  limiter,
		accounts: accounts,
		keys:     keys,
		logger:   logger,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s.routes()

	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/v1")

	// Public: onboarding.
	api.Post("/accounts", s.handleCreateAccount)
	api.Post("/accounts/:id/keys", s.handleIssueKey)

	// Protected: everything that moves or reads money. Registration order
	// matters here; the public routes above bypass these middlewares.
	private := api.Use(s.authenticate(), s.rateLimit())
	private.Post("/transactions", s.handleCreateTransaction)
	private.Get("/transactions/:id", s.handleGetTransaction)
	private.Get("/transfers/:parentTxKey/legs", s.handleListLegs)
	private.Get("/accounts/me", s.handleGetOwnAccount)
	private.Get("/rate-limit", s.handleRateLimitStatus)
}

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops accepting new requests and drains active ones.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for handler tests.
func (s *Server) App() *fiber.App {
	return s.app
}
