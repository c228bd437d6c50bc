package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/events"
	"chargehub/internal/models"
	"chargehub/internal/ocpp"
	"chargehub/internal/ocpp/protocol"
	"chargehub/internal/registry"
	"chargehub/internal/session"
)

type nopSink struct{}

func (nopSink) Publish(events.Event) {}

type fakeBalance struct {
	balances map[string]int64
}

func (f fakeBalance) Balance(ctx context.Context, cardID string) (int64, error) {
	return f.balances[cardID], nil
}

type nopSettler struct{}

func (nopSettler) Settle(ctx context.Context, tx *models.Transaction) error {
	tx.SettlementStatus = models.SettlementSettled
	return nil
}

func newFixture() (*session.Manager, *registry.Registry) {
	logger := zap.NewNop()
	balance := fakeBalance{balances: map[string]int64{"R1": 20000, "R2": 20000}}
	sessions := session.NewManager(balance, nopSettler{}, nopSink{}, 5000, logger)
	reg := registry.New(90*time.Second, time.Second, nopSink{}, nil, logger)
	return sessions, reg
}

func marshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestBootNotificationAccepts(t *testing.T) {
	_, reg := newFixture()
	handler := NewBootNotificationHandler(reg, nil, 30, zap.NewNop())

	resp, err := handler(context.Background(), "CH1", marshal(t, protocol.BootNotificationRequest{
		ChargePointVendor: "ACME",
		ChargePointModel:  "One",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	boot, ok := resp.(protocol.BootNotificationResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", resp)
	}
	if boot.Status != protocol.RegistrationAccepted || boot.Interval != 30 {
		t.Fatalf("unexpected response: %+v", boot)
	}
}

func TestStartTransactionAccepted(t *testing.T) {
	sessions, reg := newFixture()
	handler := NewStartTransactionHandler(sessions, reg, zap.NewNop())
	reg.Connect("CH1")

	resp, err := handler(context.Background(), "CH1", marshal(t, protocol.StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "R1",
		MeterStart:  100,
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	start := resp.(protocol.StartTransactionResponse)
	if start.IdTagInfo.Status != protocol.AuthorizationAccepted || start.TransactionID == "" {
		t.Fatalf("unexpected response: %+v", start)
	}

	chargers, _ := reg.Snapshot()
	if chargers[0].Connectors[1].Status != protocol.ConnectorCharging {
		t.Fatalf("connector must show Charging, got %+v", chargers[0].Connectors)
	}
}

func TestStartTransactionConcurrentTx(t *testing.T) {
	sessions, reg := newFixture()
	handler := NewStartTransactionHandler(sessions, reg, zap.NewNop())

	req := marshal(t, protocol.StartTransactionRequest{ConnectorID: 1, IdTag: "R1"})
	if _, err := handler(context.Background(), "CH1", req); err != nil {
		t.Fatalf("first start: %v", err)
	}

	resp, err := handler(context.Background(), "CH1", marshal(t, protocol.StartTransactionRequest{ConnectorID: 1, IdTag: "R2"}))
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	start := resp.(protocol.StartTransactionResponse)
	if start.IdTagInfo.Status != protocol.AuthorizationConcurrentTx {
		t.Fatalf("expected ConcurrentTx, got %+v", start)
	}
}

func TestStartTransactionRejectedCard(t *testing.T) {
	sessions, reg := newFixture()
	handler := NewStartTransactionHandler(sessions, reg, zap.NewNop())

	resp, err := handler(context.Background(), "CH1", marshal(t, protocol.StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "unknown-card",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	start := resp.(protocol.StartTransactionResponse)
	if start.IdTagInfo.Status != protocol.AuthorizationRejected {
		t.Fatalf("expected Rejected, got %+v", start)
	}
}

func TestStopTransactionRoundTrip(t *testing.T) {
	sessions, reg := newFixture()
	start := NewStartTransactionHandler(sessions, reg, zap.NewNop())
	stop := NewStopTransactionHandler(sessions, reg, zap.NewNop())

	resp, err := start(context.Background(), "CH1", marshal(t, protocol.StartTransactionRequest{ConnectorID: 1, IdTag: "R1"}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	txID := resp.(protocol.StartTransactionResponse).TransactionID

	stopReq := marshal(t, protocol.StopTransactionRequest{TransactionID: txID, MeterStop: 4000, Reason: "Local"})
	resp, err = stop(context.Background(), "CH1", stopReq)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s := resp.(protocol.StopTransactionResponse); s.IdTagInfo.Status != protocol.AuthorizationAccepted {
		t.Fatalf("unexpected stop response: %+v", s)
	}

	// A duplicate stop still acks without error.
	if _, err := stop(context.Background(), "CH1", stopReq); err != nil {
		t.Fatalf("duplicate stop: %v", err)
	}

	chargers, _ := reg.Snapshot()
	if chargers[0].Connectors[1].Status != protocol.ConnectorAvailable {
		t.Fatalf("connector must be Available after stop, got %+v", chargers[0].Connectors)
	}
}

func TestStopTransactionUnknown(t *testing.T) {
	sessions, reg := newFixture()
	stop := NewStopTransactionHandler(sessions, reg, zap.NewNop())

	resp, err := stop(context.Background(), "CH1", marshal(t, protocol.StopTransactionRequest{TransactionID: "nope"}))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s := resp.(protocol.StopTransactionResponse); s.IdTagInfo.Status != protocol.AuthorizationRejected {
		t.Fatalf("expected Rejected for unknown transaction, got %+v", s)
	}
}

func TestMeterValuesRaiseBilledEnergy(t *testing.T) {
	sessions, reg := newFixture()
	start := NewStartTransactionHandler(sessions, reg, zap.NewNop())
	meter := NewMeterValuesHandler(sessions)

	resp, err := start(context.Background(), "CH1", marshal(t, protocol.StartTransactionRequest{ConnectorID: 1, IdTag: "R1", MeterStart: 0}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	txID := resp.(protocol.StartTransactionResponse).TransactionID

	if _, err := meter(context.Background(), "CH1", marshal(t, protocol.MeterValuesRequest{
		ConnectorID:   1,
		TransactionID: txID,
		MeterValue:    2500,
	})); err != nil {
		t.Fatalf("meter values: %v", err)
	}

	// A stop reporting less than the last reading bills the reading.
	stop := NewStopTransactionHandler(sessions, reg, zap.NewNop())
	if _, err := stop(context.Background(), "CH1", marshal(t, protocol.StopTransactionRequest{TransactionID: txID, MeterStop: 1000})); err != nil {
		t.Fatalf("stop: %v", err)
	}
	tx, _ := sessions.Get(txID)
	if tx.MeterStop != 2500 || tx.EnergyKWh != 2.5 {
		t.Fatalf("expected billing up to last reading, got %+v", tx)
	}
}

func TestProcessorRoutesCallToHandler(t *testing.T) {
	sessions, reg := newFixture()

	router := ocpp.NewRouter()
	router.Register(protocol.ActionHeartbeat, NewHeartbeatHandler(reg))
	router.Register(protocol.ActionStartTransaction, NewStartTransactionHandler(sessions, reg, zap.NewNop()))
	processor := ocpp.NewProcessor(ocpp.NewParser(), router, nil, zap.NewNop())

	resp, err := processor.Process(context.Background(), "CH1", []byte(`[2,"uid-1","Heartbeat",{}]`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(resp, &frame); err != nil {
		t.Fatalf("decode response frame: %v", err)
	}
	var msgType int
	json.Unmarshal(frame[0], &msgType)
	if msgType != protocol.MessageTypeCallResult {
		t.Fatalf("expected CALLRESULT, got %d", msgType)
	}

	// Unsupported actions come back as CALLERROR, not a dropped frame.
	resp, err = processor.Process(context.Background(), "CH1", []byte(`[2,"uid-2","DataTransfer",{}]`))
	if err != nil {
		t.Fatalf("process unsupported: %v", err)
	}
	if err := json.Unmarshal(resp, &frame); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	json.Unmarshal(frame[0], &msgType)
	if msgType != protocol.MessageTypeCallError {
		t.Fatalf("expected CALLERROR, got %d", msgType)
	}
}
