package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/models"
	"github.com/tahirsattar/payvault/internal/ratelimit"
	"github.com/tahirsattar/payvault/internal/security"
)

// Locals keys set by the auth middleware.
const (
	localAPIKey    = "api_key"
	localAccountID = "account_id"
)

// authenticate resolves the bearer API key by its hash and stashes the key
// record and owning account on the request context. Plaintext keys are never
// compared or logged.
func (s *Server) authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing api key"})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization header"})
		}

		key, err := s.keys.GetAPIKeyByHash(c.Context(), security.HashKey(parts[1]))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid api key"})
		}

		c.Locals(localAPIKey, key)
		c.Locals(localAccountID, key.AccountID)

		return c.Next()
	}
}

// rateLimit enforces the authenticated key's windows. Denials answer 429 with
// Retry-After; admitted requests carry the tightest window's X-RateLimit
// headers so well-behaved clients can pace themselves.
func (s *Server) rateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := c.Locals(localAPIKey).(*models.APIKey)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing api key"})
		}

		results, err := s.limiter.Check(c.Context(), key.ID)
		if err != nil {
			var denied *ratelimit.RateLimitError
			if errors.As(err, &denied) {
				setLimitHeaders(c, denied.Limit, 0, denied.ResetAt)
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(denied.ResetAt)))

				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":    "rate limit exceeded",
					"window":   denied.Window,
					"limit":    denied.Limit,
					"reset_at": denied.ResetAt,
				})
			}

			var state *ratelimit.KeyStateError
			if errors.As(err, &state) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": state.Reason})
			}

			s.logger.Error("rate limit check failed",
				zap.String("api_key_id", key.ID.String()),
				zap.Error(err))

			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}

		if tightest := tightestResult(results); tightest != nil {
			setLimitHeaders(c, tightest.Limit, tightest.Remaining, tightest.ResetAt)
		}

		return c.Next()
	}
}

func setLimitHeaders(c *fiber.Ctx, limit int, remaining int64, resetAt time.Time) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// tightestResult picks the window with the least headroom.
func tightestResult(results []models.RateLimitResult) *models.RateLimitResult {
	var tightest *models.RateLimitResult

	for i := range results {
		if tightest == nil || results[i].Remaining < tightest.Remaining {
			tightest = &results[i]
		}
	}

	return tightest
}

func retryAfterSeconds(resetAt time.Time) int {
	secs := int(time.Until(resetAt).Seconds())
	if secs < 1 {
		secs = 1
	}

	return secs
}
