package ocpp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/ocpp/protocol"
)

// Command dispatch errors.
var (
	ErrCommandTimeout  = errors.New("ocpp: command timed out")
	ErrCommandRejected = errors.New("ocpp: command rejected by charger")
)

// Sender delivers a raw frame to a connected charger. Implemented by the
// websocket connection manager.
type Sender interface {
	Send(chargerID string, frame []byte) error
}

type callOutcome struct {
	payload json.RawMessage
	err     error
}

// Dispatcher sends outbound CALL frames (RemoteStartTransaction,
// RemoteStopTransaction) and matches CALLRESULT/CALLERROR acks back to the
// waiting caller by unique id.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string]chan callOutcome
	sender  Sender
	timeout time.Duration
	newID   func() string
	logger  *zap.Logger
}

// NewDispatcher builds a dispatcher with the given per-command ack timeout.
func NewDispatcher(sender Sender, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		pending: make(map[string]chan callOutcome),
		sender:  sender,
		timeout: timeout,
		newID:   generateID,
		logger:  logger,
	}
}

// Call sends one command and waits for its ack.
func (d *Dispatcher) Call(ctx context.Context, chargerID, action string, payload interface{}) (json.RawMessage, error) {
	uniqueID := d.newID()
	frame, err := BuildCall(uniqueID, action, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan callOutcome, 1)
	d.mu.Lock()
	d.pending[uniqueID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, uniqueID)
		d.mu.Unlock()
	}()

	if err := d.sender.Send(chargerID, frame); err != nil {
		return nil, fmt.Errorf("ocpp: send %s to %s: %w", action, chargerID, err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		return outcome.payload, outcome.err
	case <-timer.C:
		d.logger.Warn("command ack timed out",
			zap.String("charger_id", chargerID), zap.String("action", action), zap.String("unique_id", uniqueID))
		return nil, ErrCommandTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve completes a pending command. Unknown ids are ignored; late acks
// after a timeout land here.
func (d *Dispatcher) Resolve(uniqueID string, payload json.RawMessage, callErr error) {
	d.mu.Lock()
	ch, ok := d.pending[uniqueID]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- callOutcome{payload: payload, err: callErr}:
	default:
	}
}

// RemoteStart asks a charger to start a session on a connector.
func (d *Dispatcher) RemoteStart(ctx context.Context, chargerID string, connectorID int, idTag string) error {
	payload, err := d.Call(ctx, chargerID, protocol.ActionRemoteStartTransaction, protocol.RemoteStartTransactionRequest{
		ConnectorID: connectorID,
		IdTag:       idTag,
	})
	if err != nil {
		return err
	}
	return checkAccepted(payload)
}

// RemoteStop asks a charger to stop a running transaction.
func (d *Dispatcher) RemoteStop(ctx context.Context, chargerID, transactionID string) error {
	payload, err := d.Call(ctx, chargerID, protocol.ActionRemoteStopTransaction, protocol.RemoteStopTransactionRequest{
		TransactionID: transactionID,
	})
	if err != nil {
		return err
	}
	return checkAccepted(payload)
}

func checkAccepted(payload json.RawMessage) error {
	resp, err := Decode[protocol.RemoteCommandResponse](payload)
	if err != nil {
		return err
	}
	if resp.Status != protocol.RemoteStatusAccepted {
		return fmt.Errorf("%w: %s", ErrCommandRejected, resp.Status)
	}
	return nil
}

func generateID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
