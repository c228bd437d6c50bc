package models

import "time"

// TransactionState is the lifecycle state of a charging session.
type TransactionState string

const (
	StateIdle        TransactionState = "Idle"
	StateAuthorizing TransactionState = "Authorizing"
	StateCharging    TransactionState = "Charging"
	StateStopping    TransactionState = "Stopping"
	StateSettled     TransactionState = "Settled"
	StateRejected    TransactionState = "Rejected"
	StateFaulted     TransactionState = "Faulted"
)

// Terminal reports whether no further lifecycle transitions are possible.
// Settlement retries may still append payment fields to a terminal transaction.
func (s TransactionState) Terminal() bool {
	return s == StateSettled || s == StateRejected || s == StateFaulted
}

// Settlement outcome recorded on the transaction by the coordinator.
const (
	SettlementNone         = ""
	SettlementSettled      = "settled"
	SettlementPending      = "pending"
	SettlementInsufficient = "insufficient_funds"
	SettlementFailed       = "failed"
)

// Transaction is one charging session from authorization to settlement.
// Owned exclusively by the session manager until settlement; the settlement
// coordinator appends payment/audit fields afterwards.
type Transaction struct {
	ID          string
	ChargerID   string
	ConnectorID int
	CardID      string

	State      TransactionState
	MeterStart int64
	LastMeter  int64
	MeterStop  int64
	EnergyKWh  float64

	StartedAt  time.Time
	StoppedAt  *time.Time
	StopReason string

	SettlementStatus string
	CostMinor        int64
	BalanceAfter     int64
}
