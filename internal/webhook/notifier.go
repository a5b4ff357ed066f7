// Package webhook delivers ledger events to customer-registered HTTP
// endpoints. Delivery is best effort: failures are logged, never retried, and
// never affect the committed transaction.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tahirsattar/payvault/internal/interfaces"
	"github.com/tahirsattar/payvault/internal/models/events"
)

const deliveryTimeout = 5 * time.Second

// Notifier posts JSON event payloads to every active endpoint of an account.
type Notifier struct {
	directory interfaces.WebhookDirectory
	client    *http.Client
	logger    *zap.Logger
}

func NewNotifier(directory interfaces.WebhookDirectory, logger *zap.Logger) *Notifier {
	return &Notifier{
		directory: directory,
		client:    &http.Client{Timeout: deliveryTimeout},
		logger:    logger,
	}
}

// Notify delivers event to each of the account's endpoints in turn. The first
// transport failure aborts delivery and is returned to the caller for
// logging; a non-2xx response is treated the same way.
func (n *Notifier) Notify(ctx context.Context, accountID uuid.UUID, event events.LedgerEvent) error {
	urls, err := n.directory.ActiveEndpoints(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolve endpoints: %w", err)
	}

	if len(urls) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	for _, url := range urls {
		if err := n.deliver(ctx, url, payload); err != nil {
			return err
		}

		n.logger.Debug("webhook delivered",
			zap.String("account_id", accountID.String()),
			zap.String("event", event.Event),
			zap.String("url", url))
	}

	return nil
}

func (n *Notifier) deliver(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint %s returned %d", url, resp.StatusCode)
	}

	return nil
}

// StaticDirectory is a fixed endpoint mapping, used in tests and single
// tenant deployments.
type StaticDirectory map[uuid.UUID][]string

func (d StaticDirectory) ActiveEndpoints(_ context.Context, accountID uuid.UUID) ([]string, error) {
	return d[accountID], nil
}

var (
	_ interfaces.Notifier         = (*Notifier)(nil)
	_ interfaces.WebhookDirectory = (StaticDirectory)(nil)
)
