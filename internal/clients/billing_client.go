package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/settlement"
)

// BillingClient talks to the billing collaborator that owns RFID card
// balances. The hub never mutates a balance directly; debits go through the
// collaborator's atomic, idempotent-by-transaction-id entry point.
type BillingClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewBillingClient returns HTTP client wrapper.
func NewBillingClient(baseURL string, logger *zap.Logger) *BillingClient {
	return &BillingClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// Balance is the read-only pre-authorization check.
func (c *BillingClient) Balance(ctx context.Context, cardID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/internal/cards/%s/balance", c.baseURL, cardID), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("balance request failed", zap.String("card_id", cardID), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", settlement.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", settlement.ErrUnavailable, resp.StatusCode)
	}

	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Balance, nil
}

type debitRequest struct {
	CardID        string `json:"card_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

type debitResponse struct {
	BalanceAfter        int64 `json:"balance_after"`
	LowBalanceThreshold int64 `json:"low_balance_threshold"`
}

// Debit performs the single balance debit for a transaction. HTTP statuses
// map onto the settlement error taxonomy: 409 duplicate, 402 insufficient,
// anything else unreachable/unavailable.
func (c *BillingClient) Debit(ctx context.Context, cardID, transactionID string, amountMinor int64) (settlement.DebitResult, error) {
	payload, err := json.Marshal(debitRequest{
		CardID:        cardID,
		TransactionID: transactionID,
		Amount:        amountMinor,
	})
	if err != nil {
		return settlement.DebitResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/internal/cards/debit", c.baseURL), bytes.NewReader(payload))
	if err != nil {
		return settlement.DebitResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("debit request failed", zap.String("transaction_id", transactionID), zap.Error(err))
		return settlement.DebitResult{}, fmt.Errorf("%w: %v", settlement.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body debitResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return settlement.DebitResult{}, err
		}
		return settlement.DebitResult{
			BalanceAfter:        body.BalanceAfter,
			LowBalanceThreshold: body.LowBalanceThreshold,
		}, nil
	case http.StatusConflict:
		return settlement.DebitResult{}, settlement.ErrDuplicateTransaction
	case http.StatusPaymentRequired:
		return settlement.DebitResult{}, settlement.ErrInsufficientFunds
	default:
		return settlement.DebitResult{}, fmt.Errorf("%w: status %d", settlement.ErrUnavailable, resp.StatusCode)
	}
}
