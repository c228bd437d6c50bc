package events

import (
	"encoding/json"
	"time"
)

// Event tags as they appear on the dashboard wire.
const (
	TypeStatus              = "status"
	TypeChargerConnected    = "charger_connected"
	TypeChargerDisconnected = "charger_disconnected"
	TypeTransactionStarted  = "transaction_started"
	TypeTransactionStopped  = "transaction_stopped"
)

// Event is a single broadcast message: a tag plus the minimal payload a
// receiver needs to update its state without a second round trip.
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// Envelope is the decode-side counterpart of Event: the payload stays raw
// until the tag is known.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChargerStatus is one charger row inside a status snapshot.
type ChargerStatus struct {
	ChargerID string `json:"charger_id"`
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
}

// ActiveTransaction is one in-flight session inside a status snapshot.
type ActiveTransaction struct {
	TransactionID string    `json:"transaction_id"`
	ChargerID     string    `json:"charger_id"`
	ConnectorID   int       `json:"connector_id"`
	CardID        string    `json:"card_id"`
	StartedAt     time.Time `json:"started_at"`
}

// StatusPayload is the full-state snapshot sent as the first message to every
// subscriber and on every explicit "status" request.
type StatusPayload struct {
	OnlineChargers int                 `json:"online_chargers"`
	Chargers       []ChargerStatus     `json:"chargers"`
	Transactions   []ActiveTransaction `json:"transactions"`
}

// ChargerPayload accompanies charger_connected / charger_disconnected.
type ChargerPayload struct {
	ChargerID string `json:"charger_id"`
}

// TransactionStartedPayload accompanies transaction_started.
type TransactionStartedPayload struct {
	TransactionID string    `json:"transaction_id"`
	ChargerID     string    `json:"charger_id"`
	ConnectorID   int       `json:"connector_id"`
	CardID        string    `json:"card_id"`
	StartedAt     time.Time `json:"started_at"`
}

// TransactionStoppedPayload accompanies transaction_stopped.
type TransactionStoppedPayload struct {
	TransactionID string    `json:"transaction_id"`
	ChargerID     string    `json:"charger_id"`
	ConnectorID   int       `json:"connector_id"`
	EnergyKWh     float64   `json:"energy_kwh"`
	Reason        string    `json:"reason"`
	StoppedAt     time.Time `json:"stopped_at"`
}

// Sink receives events for fan-out. Implemented by the broadcast hub.
type Sink interface {
	Publish(Event)
}
