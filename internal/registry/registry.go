package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/events"
	"chargehub/internal/metrics"
)

// ConnectorState is the last known state of a single physical socket.
type ConnectorState struct {
	Status    string
	UpdatedAt time.Time
}

// ChargerSnapshot is a point-in-time copy of one charger's state.
type ChargerSnapshot struct {
	ID              string
	Connected       bool
	Status          string
	LastHeartbeatAt time.Time
	Connectors      map[int]ConnectorState
}

type chargerState struct {
	id            string
	connected     bool
	status        string
	lastHeartbeat time.Time
	connectors    map[int]ConnectorState
}

func (s *chargerState) snapshot() ChargerSnapshot {
	connectors := make(map[int]ConnectorState, len(s.connectors))
	for id, c := range s.connectors {
		connectors[id] = c
	}
	return ChargerSnapshot{
		ID:              s.id,
		Connected:       s.connected,
		Status:          s.status,
		LastHeartbeatAt: s.lastHeartbeat,
		Connectors:      connectors,
	}
}

// Registry is the single source of truth for which chargers are reachable
// right now. Records are never deleted; a charger that drops off keeps its
// last known status with connected=false.
type Registry struct {
	mu       sync.RWMutex
	chargers map[string]*chargerState

	window    time.Duration
	sweepEach time.Duration

	sink         events.Sink
	onDisconnect func(chargerID string)

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a registry with the given heartbeat liveness window.
func New(window, sweepEach time.Duration, sink events.Sink, m *metrics.Metrics, logger *zap.Logger) *Registry {
	if window <= 0 {
		window = 90 * time.Second
	}
	if sweepEach <= 0 {
		sweepEach = 15 * time.Second
	}
	return &Registry{
		chargers:  make(map[string]*chargerState),
		window:    window,
		sweepEach: sweepEach,
		sink:      sink,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// SetDisconnectHandler registers a callback invoked after any charger
// transitions to disconnected, whether by explicit close or heartbeat expiry.
// Used to fault the charger's in-flight transactions.
func (r *Registry) SetDisconnectHandler(fn func(chargerID string)) {
	r.onDisconnect = fn
}

// Connect marks the charger connected and refreshes its heartbeat. The
// charger_connected event is emitted on transition only, so a repeated
// BootNotification from an already-connected charger is quiet.
func (r *Registry) Connect(chargerID string) {
	r.mu.Lock()
	state := r.ensureLocked(chargerID)
	transitioned := !state.connected
	state.connected = true
	state.lastHeartbeat = r.now()
	if state.status == "" {
		state.status = "Available"
	}
	r.updateGaugeLocked()
	r.mu.Unlock()

	if transitioned {
		r.logger.Info("charger connected", zap.String("charger_id", chargerID))
		r.sink.Publish(events.Event{Type: events.TypeChargerConnected, Data: events.ChargerPayload{ChargerID: chargerID}})
	}
}

// Heartbeat refreshes the liveness timer. A heartbeat from a charger the
// registry considers disconnected proves it is reachable again and is treated
// as a reconnect.
func (r *Registry) Heartbeat(chargerID string) {
	r.mu.Lock()
	state, ok := r.chargers[chargerID]
	if ok && state.connected {
		state.lastHeartbeat = r.now()
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.Connect(chargerID)
}

// Disconnect marks the charger disconnected immediately and emits
// charger_disconnected. The record and its last known statuses persist.
func (r *Registry) Disconnect(chargerID string) {
	r.mu.Lock()
	state, ok := r.chargers[chargerID]
	if !ok || !state.connected {
		r.mu.Unlock()
		return
	}
	state.connected = false
	r.updateGaugeLocked()
	r.mu.Unlock()

	r.logger.Info("charger disconnected", zap.String("charger_id", chargerID))
	r.sink.Publish(events.Event{Type: events.TypeChargerDisconnected, Data: events.ChargerPayload{ChargerID: chargerID}})
	if r.onDisconnect != nil {
		r.onDisconnect(chargerID)
	}
}

// SetStatus updates the charger-level status.
func (r *Registry) SetStatus(chargerID, status string) {
	r.mu.Lock()
	state := r.ensureLocked(chargerID)
	state.status = status
	r.mu.Unlock()
}

// SetConnectorStatus updates a single connector's status and mirrors it to
// the charger-level status, matching how StatusNotification is reported.
func (r *Registry) SetConnectorStatus(chargerID string, connectorID int, status string) {
	r.mu.Lock()
	state := r.ensureLocked(chargerID)
	state.status = status
	if connectorID > 0 {
		state.connectors[connectorID] = ConnectorState{Status: status, UpdatedAt: r.now()}
	}
	r.mu.Unlock()
}

// Snapshot returns a consistent point-in-time copy of the whole table plus
// the count of currently connected chargers. Sorted by charger id so
// consumers see a stable order.
func (r *Registry) Snapshot() ([]ChargerSnapshot, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ChargerSnapshot, 0, len(r.chargers))
	online := 0
	for _, state := range r.chargers {
		if state.connected {
			online++
		}
		result = append(result, state.snapshot())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, online
}

// Start runs the liveness sweeper until the context is cancelled. A charger
// that misses heartbeats for longer than the window is marked disconnected
// even without an explicit socket close, since flaky links fail silently.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.sweepEach)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.expireStale(r.now())
		}
	}
}

func (r *Registry) expireStale(now time.Time) {
	r.mu.Lock()
	var expired []string
	for id, state := range r.chargers {
		if state.connected && now.Sub(state.lastHeartbeat) > r.window {
			state.connected = false
			expired = append(expired, id)
		}
	}
	r.updateGaugeLocked()
	r.mu.Unlock()

	for _, id := range expired {
		r.logger.Warn("charger heartbeat expired", zap.String("charger_id", id), zap.Duration("window", r.window))
		r.sink.Publish(events.Event{Type: events.TypeChargerDisconnected, Data: events.ChargerPayload{ChargerID: id}})
		if r.onDisconnect != nil {
			r.onDisconnect(id)
		}
	}
}

func (r *Registry) ensureLocked(chargerID string) *chargerState {
	state, ok := r.chargers[chargerID]
	if !ok {
		state = &chargerState{id: chargerID, connectors: make(map[int]ConnectorState)}
		r.chargers[chargerID] = state
	}
	return state
}

func (r *Registry) updateGaugeLocked() {
	if r.metrics == nil {
		return
	}
	online := 0
	for _, state := range r.chargers {
		if state.connected {
			online++
		}
	}
	r.metrics.ConnectedChargers.Set(float64(online))
}
