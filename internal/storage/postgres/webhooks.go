package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tahirsattar/payvault/internal/interfaces"
)

// ActiveEndpoints returns the enabled webhook URLs registered for an account.
func (s *Store) ActiveEndpoints(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM webhooks WHERE account_id = $1 AND enabled`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var urls []string

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}

		urls = append(urls, url)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}

	return urls, nil
}

// RegisterWebhook enables webhook delivery for an account at url.
func (s *Store) RegisterWebhook(ctx context.Context, accountID uuid.UUID, url string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, account_id, url, enabled)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (account_id, url) DO UPDATE SET enabled = TRUE`,
		uuid.New(), accountID, url)
	if err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}

	return nil
}

var _ interfaces.WebhookDirectory = (*Store)(nil)
