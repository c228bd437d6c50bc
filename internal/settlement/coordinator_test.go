package settlement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
)

type scriptedBilling struct {
	mu      sync.Mutex
	calls   int
	results []DebitResult
	errs    []error
}

func (b *scriptedBilling) Debit(ctx context.Context, cardID, transactionID string, amountMinor int64) (DebitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	if i < len(b.errs) && b.errs[i] != nil {
		return DebitResult{}, b.errs[i]
	}
	if i < len(b.results) {
		return b.results[i], nil
	}
	return DebitResult{}, ErrUnavailable
}

func (b *scriptedBilling) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	balances []int64
}

func (n *recordingNotifier) NotifyLowBalance(ctx context.Context, cardID string, balanceAfter int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances = append(n.balances, balanceAfter)
}

func (n *recordingNotifier) seen() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.balances...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{Base: time.Millisecond, Cap: 4 * time.Millisecond, MaxAttempts: attempts}
}

func newTx(id string) *models.Transaction {
	return &models.Transaction{ID: id, CardID: "R1", EnergyKWh: 5, State: models.StateStopping}
}

func TestSettleDebitsCost(t *testing.T) {
	billing := &scriptedBilling{results: []DebitResult{{BalanceAfter: 15000, LowBalanceThreshold: 10000}}}
	c := NewCoordinator(billing, nil, 1000, fastRetry(1), nil, zap.NewNop())

	tx := newTx("T1")
	if err := c.Settle(context.Background(), tx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tx.CostMinor != 5000 {
		t.Fatalf("expected cost 5000, got %d", tx.CostMinor)
	}
	if tx.SettlementStatus != models.SettlementSettled {
		t.Fatalf("expected settled, got %s", tx.SettlementStatus)
	}
	if tx.BalanceAfter != 15000 {
		t.Fatalf("expected balance 15000, got %d", tx.BalanceAfter)
	}
}

func TestSettleSwallowsDuplicate(t *testing.T) {
	billing := &scriptedBilling{errs: []error{ErrDuplicateTransaction}}
	c := NewCoordinator(billing, nil, 1000, fastRetry(1), nil, zap.NewNop())

	tx := newTx("T1")
	if err := c.Settle(context.Background(), tx); err != nil {
		t.Fatalf("duplicate must not surface as error, got %v", err)
	}
	if tx.SettlementStatus != models.SettlementSettled {
		t.Fatalf("expected settled, got %s", tx.SettlementStatus)
	}
	if billing.callCount() != 1 {
		t.Fatalf("expected 1 debit call, got %d", billing.callCount())
	}
}

func TestSettleInsufficientFundsIsTerminal(t *testing.T) {
	billing := &scriptedBilling{errs: []error{ErrInsufficientFunds}}
	c := NewCoordinator(billing, nil, 1000, fastRetry(3), nil, zap.NewNop())

	tx := newTx("T1")
	if err := c.Settle(context.Background(), tx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tx.SettlementStatus != models.SettlementInsufficient {
		t.Fatalf("expected insufficient, got %s", tx.SettlementStatus)
	}

	// No retry goroutine for a terminal rejection.
	time.Sleep(20 * time.Millisecond)
	if billing.callCount() != 1 {
		t.Fatalf("insufficient funds must not retry, got %d calls", billing.callCount())
	}
}

func TestSettleRetriesAfterUnavailable(t *testing.T) {
	billing := &scriptedBilling{
		errs:    []error{ErrUnavailable, ErrUnavailable, nil},
		results: []DebitResult{{}, {}, {BalanceAfter: 12000, LowBalanceThreshold: 10000}},
	}
	c := NewCoordinator(billing, nil, 1000, fastRetry(5), nil, zap.NewNop())

	tx := newTx("T1")
	if err := c.Settle(context.Background(), tx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tx.SettlementStatus != models.SettlementPending {
		t.Fatalf("expected pending, got %s", tx.SettlementStatus)
	}

	waitFor(t, time.Second, func() bool {
		return len(c.Pending()) == 0
	})

	if billing.callCount() != 3 {
		t.Fatalf("expected 3 debit attempts, got %d", billing.callCount())
	}
}

func TestSettleRetryExhaustionMarksFailed(t *testing.T) {
	billing := &scriptedBilling{} // always unavailable
	c := NewCoordinator(billing, nil, 1000, fastRetry(3), nil, zap.NewNop())

	tx := newTx("T1")
	if err := c.Settle(context.Background(), tx); err != nil {
		t.Fatalf("settle: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return c.Pending()["T1"] == models.SettlementFailed
	})

	// 1 synchronous attempt + 3 retries.
	if billing.callCount() != 4 {
		t.Fatalf("expected 4 debit attempts, got %d", billing.callCount())
	}
}

func TestLowBalanceLatchNotifiesPerCrossing(t *testing.T) {
	balances := []int64{12000, 9000, 8000, 11000, 7000}
	results := make([]DebitResult, len(balances))
	for i, b := range balances {
		results[i] = DebitResult{BalanceAfter: b, LowBalanceThreshold: 10000}
	}
	billing := &scriptedBilling{results: results}
	notifier := &recordingNotifier{}
	c := NewCoordinator(billing, notifier, 1000, fastRetry(1), nil, zap.NewNop())

	for i := range balances {
		tx := newTx(fmt.Sprintf("T%d", i+1))
		if err := c.Settle(context.Background(), tx); err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
	}

	seen := notifier.seen()
	if len(seen) != 2 || seen[0] != 9000 || seen[1] != 7000 {
		t.Fatalf("expected notifications at 9000 and 7000 only, got %v", seen)
	}
}

func TestRetryDelayDoublesToCap(t *testing.T) {
	p := RetryPolicy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 5}
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second,
	}
	for attempt, expected := range want {
		if got := p.delay(attempt); got != expected {
			t.Fatalf("delay(%d) = %s, want %s", attempt, got, expected)
		}
	}
}
