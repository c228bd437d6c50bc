package settlement

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/metrics"
	"chargehub/internal/models"
)

// Outcomes of the billing collaborator's debit call.
var (
	ErrDuplicateTransaction = errors.New("settlement: duplicate transaction")
	ErrInsufficientFunds    = errors.New("settlement: insufficient funds")
	ErrUnavailable          = errors.New("settlement: billing unavailable")
)

// DebitResult is what a successful debit reports back.
type DebitResult struct {
	BalanceAfter        int64
	LowBalanceThreshold int64
}

// Billing is the collaborator boundary that owns card balances. Debit is
// atomic and idempotent by transaction id: a retried settle is rejected as a
// duplicate rather than double-charging.
type Billing interface {
	Debit(ctx context.Context, cardID, transactionID string, amountMinor int64) (DebitResult, error)
}

// Notifier delivers low-balance signals. Best-effort.
type Notifier interface {
	NotifyLowBalance(ctx context.Context, cardID string, balanceAfter int64)
}

// RetryPolicy bounds the debit retry schedule after billing unavailability.
type RetryPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// Coordinator converts each terminal transaction into exactly one balance
// debit and at most one low-balance notification per threshold crossing.
type Coordinator struct {
	billing          Billing
	notifier         Notifier
	priceMinorPerKWh int64
	retry            RetryPolicy

	mu             sync.Mutex
	belowThreshold map[string]bool
	pending        map[string]string

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCoordinator builds the coordinator. priceMinorPerKWh is the flat tariff
// in currency minor units per kWh.
func NewCoordinator(billing Billing, notifier Notifier, priceMinorPerKWh int64, retry RetryPolicy, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if retry.Base <= 0 {
		retry.Base = time.Second
	}
	if retry.Cap <= 0 {
		retry.Cap = 30 * time.Second
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 5
	}
	return &Coordinator{
		billing:          billing,
		notifier:         notifier,
		priceMinorPerKWh: priceMinorPerKWh,
		retry:            retry,
		belowThreshold:   make(map[string]bool),
		pending:          make(map[string]string),
		metrics:          m,
		logger:           logger,
	}
}

// Cost computes the charge for a metered energy amount.
func (c *Coordinator) Cost(energyKWh float64) int64 {
	return int64(math.Round(energyKWh * float64(c.priceMinorPerKWh)))
}

// Settle debits the card for the transaction's metered energy. Safe to
// re-invoke: the billing collaborator rejects a repeated transaction id as a
// duplicate, which is swallowed as success. A failed debit never reverses the
// transaction's terminal state; unavailability parks the settlement as
// pending and retries on a bounded schedule.
func (c *Coordinator) Settle(ctx context.Context, tx *models.Transaction) error {
	amount := c.Cost(tx.EnergyKWh)
	tx.CostMinor = amount

	result, err := c.billing.Debit(ctx, tx.CardID, tx.ID, amount)
	switch {
	case err == nil:
		tx.SettlementStatus = models.SettlementSettled
		tx.BalanceAfter = result.BalanceAfter
		c.countDebit("ok")
		c.observeBalance(tx.CardID, result)
		return nil

	case errors.Is(err, ErrDuplicateTransaction):
		// Already settled by an earlier attempt; not an error.
		tx.SettlementStatus = models.SettlementSettled
		c.countDebit("duplicate")
		return nil

	case errors.Is(err, ErrInsufficientFunds):
		tx.SettlementStatus = models.SettlementInsufficient
		c.countDebit("insufficient")
		c.logger.Warn("debit rejected, insufficient funds",
			zap.String("transaction_id", tx.ID), zap.String("card_id", tx.CardID), zap.Int64("amount", amount))
		return nil

	default:
		tx.SettlementStatus = models.SettlementPending
		c.countDebit("unavailable")
		c.setPending(tx.ID, models.SettlementPending)
		go c.retryDebit(tx.CardID, tx.ID, amount)
		return nil
	}
}

// retryDebit re-attempts a parked settlement with exponential backoff. The
// charging session itself is long settled; only the money movement lags.
func (c *Coordinator) retryDebit(cardID, transactionID string, amount int64) {
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		time.Sleep(c.retry.delay(attempt))
		if c.metrics != nil {
			c.metrics.SettlementRetries.Inc()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		result, err := c.billing.Debit(ctx, cardID, transactionID, amount)
		cancel()

		switch {
		case err == nil:
			c.countDebit("ok")
			c.clearPending(transactionID)
			c.observeBalance(cardID, result)
			c.logger.Info("pending settlement completed",
				zap.String("transaction_id", transactionID), zap.Int("attempt", attempt+1))
			return
		case errors.Is(err, ErrDuplicateTransaction):
			c.countDebit("duplicate")
			c.clearPending(transactionID)
			return
		case errors.Is(err, ErrInsufficientFunds):
			c.countDebit("insufficient")
			c.setPending(transactionID, models.SettlementInsufficient)
			c.logger.Warn("pending settlement rejected, insufficient funds",
				zap.String("transaction_id", transactionID), zap.String("card_id", cardID))
			return
		default:
			c.countDebit("unavailable")
		}
	}

	c.setPending(transactionID, models.SettlementFailed)
	c.logger.Error("settlement failed after retries, operator attention required",
		zap.String("transaction_id", transactionID), zap.String("card_id", cardID),
		zap.Int64("amount", amount), zap.Int("attempts", c.retry.MaxAttempts))
}

// observeBalance runs the per-card low-balance latch: one notification per
// downward threshold crossing, re-armed only when the balance climbs back
// above the threshold.
func (c *Coordinator) observeBalance(cardID string, result DebitResult) {
	if result.LowBalanceThreshold <= 0 {
		return
	}

	notify := false
	c.mu.Lock()
	if result.BalanceAfter < result.LowBalanceThreshold {
		if !c.belowThreshold[cardID] {
			c.belowThreshold[cardID] = true
			notify = true
		}
	} else {
		delete(c.belowThreshold, cardID)
	}
	c.mu.Unlock()

	if notify && c.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.notifier.NotifyLowBalance(ctx, cardID, result.BalanceAfter)
		cancel()
	}
}

// Pending lists transaction ids whose settlement has not completed, with the
// recorded status. This is the operator view of stuck money movement.
func (c *Coordinator) Pending() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.pending))
	for id, status := range c.pending {
		out[id] = status
	}
	return out
}

func (c *Coordinator) setPending(transactionID, status string) {
	c.mu.Lock()
	c.pending[transactionID] = status
	c.mu.Unlock()
}

func (c *Coordinator) clearPending(transactionID string) {
	c.mu.Lock()
	delete(c.pending, transactionID)
	c.mu.Unlock()
}

func (c *Coordinator) countDebit(outcome string) {
	if c.metrics != nil {
		c.metrics.DebitsTotal.WithLabelValues(outcome).Inc()
	}
}
