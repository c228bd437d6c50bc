package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/events"
	"chargehub/internal/models"
)

// Errors surfaced synchronously to whoever requested authorization.
// Everything else is asynchronous and observed via the event stream.
var (
	ErrConnectorOccupied   = errors.New("session: connector occupied")
	ErrCardRejected        = errors.New("session: card rejected")
	ErrUnknownTransaction  = errors.New("session: unknown transaction")
	ErrChargerDisconnected = errors.New("session: charger disconnected during authorization")
)

// StopReasonDisconnect marks a synthetic stop raised when the owning charger
// dropped its connection mid-session.
const StopReasonDisconnect = "ChargerDisconnected"

// BalanceReader is the read-only balance check delegated to billing.
type BalanceReader interface {
	Balance(ctx context.Context, cardID string) (int64, error)
}

// Settler converts a terminal transaction into a balance debit. Must be safe
// to re-invoke per transaction id.
type Settler interface {
	Settle(ctx context.Context, tx *models.Transaction) error
}

// Repository persists transaction audit rows. Optional, best-effort.
type Repository interface {
	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	FinalizeTransaction(ctx context.Context, tx *models.Transaction) error
}

// ActiveCache mirrors in-flight sessions to an external cache so a restarted
// hub can observe them. Optional, best-effort.
type ActiveCache interface {
	Save(ctx context.Context, tx *models.Transaction) error
	Delete(ctx context.Context, transactionID string) error
}

type connectorKey struct {
	chargerID   string
	connectorID int
}

// track owns one transaction. All lifecycle transitions for that transaction
// happen under its mutex, which is what serializes racing stop/disconnect
// handlers.
type track struct {
	mu sync.Mutex
	tx *models.Transaction
}

func (t *track) copyLocked() *models.Transaction {
	cp := *t.tx
	return &cp
}

// Manager drives the per-connector transaction state machine:
// Idle -> Authorizing -> Charging -> Stopping -> Settled, with Rejected and
// Faulted as terminal branches.
type Manager struct {
	mu          sync.Mutex
	byID        map[string]*track
	byConnector map[connectorKey]*track

	balance    BalanceReader
	settler    Settler
	sink       events.Sink
	repo       Repository
	cache      ActiveCache
	minBalance int64

	logger *zap.Logger
	now    func() time.Time
	newID  func(chargerID string) string
}

// NewManager builds the state machine service.
func NewManager(balance BalanceReader, settler Settler, sink events.Sink, minBalance int64, logger *zap.Logger) *Manager {
	return &Manager{
		byID:        make(map[string]*track),
		byConnector: make(map[connectorKey]*track),
		balance:     balance,
		settler:     settler,
		sink:        sink,
		minBalance:  minBalance,
		logger:      logger,
		now:         time.Now,
		newID: func(chargerID string) string {
			return fmt.Sprintf("%s-%d", chargerID, time.Now().UnixNano())
		},
	}
}

// SetRepository attaches optional persistence.
func (m *Manager) SetRepository(repo Repository) {
	m.repo = repo
}

// SetActiveCache attaches an optional active-session cache.
func (m *Manager) SetActiveCache(cache ActiveCache) {
	m.cache = cache
}

// Authorize starts a new transaction on a connector. The connector slot is
// reserved in Authorizing state before the blocking balance check so two
// concurrent authorizations can never both pass.
func (m *Manager) Authorize(ctx context.Context, chargerID string, connectorID int, cardID string, meterStart int64) (*models.Transaction, error) {
	key := connectorKey{chargerID: chargerID, connectorID: connectorID}

	m.mu.Lock()
	if _, occupied := m.byConnector[key]; occupied {
		m.mu.Unlock()
		return nil, ErrConnectorOccupied
	}
	tr := &track{tx: &models.Transaction{
		ID:          m.newID(chargerID),
		ChargerID:   chargerID,
		ConnectorID: connectorID,
		CardID:      cardID,
		State:       models.StateAuthorizing,
		MeterStart:  meterStart,
		LastMeter:   meterStart,
	}}
	m.byConnector[key] = tr
	m.byID[tr.tx.ID] = tr
	m.mu.Unlock()

	balance, err := m.balance.Balance(ctx, cardID)
	if err != nil || balance < m.minBalance {
		if err != nil {
			m.logger.Warn("balance check failed, rejecting authorization",
				zap.String("charger_id", chargerID), zap.String("card_id", cardID), zap.Error(err))
		}
		tr.mu.Lock()
		if tr.tx.State == models.StateAuthorizing {
			tr.tx.State = models.StateRejected
		}
		tr.mu.Unlock()
		m.release(key, tr)
		return nil, ErrCardRejected
	}

	tr.mu.Lock()
	// The charger may have dropped off while the balance call was in flight,
	// in which case FaultCharger already parked this track in Faulted and
	// freed the connector. The authorization dies instead of resurrecting it.
	if tr.tx.State != models.StateAuthorizing {
		txID := tr.tx.ID
		tr.mu.Unlock()
		m.logger.Warn("charger faulted during balance check, authorization dropped",
			zap.String("charger_id", chargerID), zap.String("transaction_id", txID))
		return nil, ErrChargerDisconnected
	}
	tr.tx.State = models.StateCharging
	tr.tx.StartedAt = m.now()
	started := tr.copyLocked()
	tr.mu.Unlock()

	m.logger.Info("transaction started",
		zap.String("transaction_id", started.ID),
		zap.String("charger_id", chargerID),
		zap.Int("connector_id", connectorID))
	m.sink.Publish(events.Event{Type: events.TypeTransactionStarted, Data: events.TransactionStartedPayload{
		TransactionID: started.ID,
		ChargerID:     chargerID,
		ConnectorID:   connectorID,
		CardID:        cardID,
		StartedAt:     started.StartedAt,
	}})

	if m.repo != nil {
		if err := m.repo.InsertTransaction(ctx, started); err != nil {
			m.logger.Warn("transaction insert failed", zap.String("transaction_id", started.ID), zap.Error(err))
		}
	}
	if m.cache != nil {
		if err := m.cache.Save(ctx, started); err != nil {
			m.logger.Warn("active session cache save failed", zap.String("transaction_id", started.ID), zap.Error(err))
		}
	}

	return started, nil
}

// Stop terminates a charging transaction and settles it. Idempotent: a second
// stop for an already-stopped transaction returns the existing result and
// produces no duplicate side effect.
func (m *Manager) Stop(ctx context.Context, transactionID string, meterStop int64, reason string) (*models.Transaction, error) {
	m.mu.Lock()
	tr, ok := m.byID[transactionID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownTransaction
	}

	tr.mu.Lock()
	switch tr.tx.State {
	case models.StateStopping, models.StateSettled, models.StateFaulted:
		result := tr.copyLocked()
		tr.mu.Unlock()
		return result, nil
	case models.StateCharging:
		// proceed
	default:
		state := tr.tx.State
		tr.mu.Unlock()
		return nil, fmt.Errorf("session: cannot stop transaction %s in state %s", transactionID, state)
	}

	result := m.finishLocked(ctx, tr, meterStop, reason, models.StateSettled)
	tr.mu.Unlock()

	m.emitStopped(result)
	m.finalize(ctx, result)
	return result, nil
}

// RecordMeterValue notes the latest meter reading for an active transaction.
// A synthetic stop after a lost connection bills up to this reading.
func (m *Manager) RecordMeterValue(transactionID string, meterValue int64) {
	m.mu.Lock()
	tr, ok := m.byID[transactionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	tr.mu.Lock()
	if tr.tx.State == models.StateCharging && meterValue > tr.tx.LastMeter {
		tr.tx.LastMeter = meterValue
	}
	tr.mu.Unlock()
}

// FaultCharger transitions every non-terminal transaction owned by the
// charger's connectors to Faulted and hands each to settlement with a
// synthetic stop, so a lost connection never leaves balance state ambiguous.
func (m *Manager) FaultCharger(ctx context.Context, chargerID string) {
	m.mu.Lock()
	var owned []*track
	for key, tr := range m.byConnector {
		if key.chargerID == chargerID {
			owned = append(owned, tr)
		}
	}
	m.mu.Unlock()

	for _, tr := range owned {
		tr.mu.Lock()
		switch tr.tx.State {
		case models.StateAuthorizing:
			// No charging happened yet; the pending authorization just dies.
			tr.tx.State = models.StateFaulted
			key := connectorKey{chargerID: tr.tx.ChargerID, connectorID: tr.tx.ConnectorID}
			tr.mu.Unlock()
			m.release(key, tr)
			continue
		case models.StateCharging:
			// proceed to synthetic stop
		default:
			tr.mu.Unlock()
			continue
		}

		result := m.finishLocked(ctx, tr, tr.tx.LastMeter, StopReasonDisconnect, models.StateFaulted)
		tr.mu.Unlock()

		m.logger.Warn("transaction faulted on charger disconnect",
			zap.String("transaction_id", result.ID), zap.String("charger_id", chargerID))
		m.emitStopped(result)
		m.finalize(ctx, result)
	}
}

// Active returns the in-flight (charging) transactions for snapshots.
func (m *Manager) Active() []events.ActiveTransaction {
	m.mu.Lock()
	tracks := make([]*track, 0, len(m.byConnector))
	for _, tr := range m.byConnector {
		tracks = append(tracks, tr)
	}
	m.mu.Unlock()

	result := make([]events.ActiveTransaction, 0, len(tracks))
	for _, tr := range tracks {
		tr.mu.Lock()
		if tr.tx.State == models.StateCharging {
			result = append(result, events.ActiveTransaction{
				TransactionID: tr.tx.ID,
				ChargerID:     tr.tx.ChargerID,
				ConnectorID:   tr.tx.ConnectorID,
				CardID:        tr.tx.CardID,
				StartedAt:     tr.tx.StartedAt,
			})
		}
		tr.mu.Unlock()
	}
	return result
}

// Get returns a copy of the transaction, if known.
func (m *Manager) Get(transactionID string) (*models.Transaction, bool) {
	m.mu.Lock()
	tr, ok := m.byID[transactionID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.copyLocked(), true
}

// finishLocked runs the Stopping transition and settlement while holding the
// track mutex, then parks the transaction in its terminal state and frees the
// connector. Settlement failures never reverse the terminal state.
func (m *Manager) finishLocked(ctx context.Context, tr *track, meterStop int64, reason string, terminal models.TransactionState) *models.Transaction {
	tx := tr.tx
	tx.State = models.StateStopping
	if meterStop < tx.LastMeter {
		meterStop = tx.LastMeter
	}
	tx.MeterStop = meterStop
	if meterStop > tx.MeterStart {
		tx.EnergyKWh = float64(meterStop-tx.MeterStart) / 1000.0
	}
	stoppedAt := m.now()
	tx.StoppedAt = &stoppedAt
	tx.StopReason = reason

	if err := m.settler.Settle(ctx, tx); err != nil {
		m.logger.Error("settlement failed", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	tx.State = terminal

	key := connectorKey{chargerID: tx.ChargerID, connectorID: tx.ConnectorID}
	m.release(key, tr)
	return tr.copyLocked()
}

func (m *Manager) emitStopped(tx *models.Transaction) {
	stoppedAt := m.now()
	if tx.StoppedAt != nil {
		stoppedAt = *tx.StoppedAt
	}
	m.sink.Publish(events.Event{Type: events.TypeTransactionStopped, Data: events.TransactionStoppedPayload{
		TransactionID: tx.ID,
		ChargerID:     tx.ChargerID,
		ConnectorID:   tx.ConnectorID,
		EnergyKWh:     tx.EnergyKWh,
		Reason:        tx.StopReason,
		StoppedAt:     stoppedAt,
	}})
}

func (m *Manager) finalize(ctx context.Context, tx *models.Transaction) {
	if m.repo != nil {
		if err := m.repo.FinalizeTransaction(ctx, tx); err != nil {
			m.logger.Warn("transaction finalize failed", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}
	if m.cache != nil {
		if err := m.cache.Delete(ctx, tx.ID); err != nil {
			m.logger.Warn("active session cache delete failed", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}
}

// release frees the connector slot, but only if it is still held by the given
// track. A stale release must never evict a successor's reservation.
func (m *Manager) release(key connectorKey, tr *track) {
	m.mu.Lock()
	if m.byConnector[key] == tr {
		delete(m.byConnector, key)
	}
	m.mu.Unlock()
}
