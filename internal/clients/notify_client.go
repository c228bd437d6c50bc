package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NotifyClient delivers low-balance signals to the notification collaborator.
// Fire-and-forget: failures are logged and never surfaced to settlement.
type NotifyClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewNotifyClient returns HTTP client wrapper.
func NewNotifyClient(baseURL string, logger *zap.Logger) *NotifyClient {
	return &NotifyClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

type lowBalanceRequest struct {
	CardID       string `json:"card_id"`
	BalanceAfter int64  `json:"balance_after"`
}

// NotifyLowBalance posts a low-balance signal, best-effort.
func (c *NotifyClient) NotifyLowBalance(ctx context.Context, cardID string, balanceAfter int64) {
	if c.baseURL == "" {
		c.logger.Debug("notify client disabled, skip low balance signal")
		return
	}

	payload, err := json.Marshal(lowBalanceRequest{CardID: cardID, BalanceAfter: balanceAfter})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/internal/notifications/low-balance", c.baseURL), bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("low balance notification failed", zap.String("card_id", cardID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("low balance notification returned non-success",
			zap.String("card_id", cardID), zap.Int("status", resp.StatusCode))
	}
}
