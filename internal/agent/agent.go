package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargehub/internal/events"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultWriteTimeout   = 10 * time.Second
)

// Config controls the dashboard-side agent.
type Config struct {
	// URL of the hub's dashboard websocket endpoint.
	URL string
	// ReconnectDelay is the fixed wait between reconnect attempts. There is
	// deliberately no backoff growth and no retry cap.
	ReconnectDelay time.Duration
	// PingInterval is the liveness ping cadence while connected.
	PingInterval time.Duration
	// Token, when set, is passed as a bearer token on the handshake.
	Token  string
	Logger *zap.Logger
}

// Listener observes the decoded event stream.
type Listener func(events.Event)

// Agent maintains one logical connection to the hub on behalf of any number
// of UI widgets. It requests a fresh snapshot on every (re)connect, replacing
// local state rather than merging stale deltas, and keeps retrying forever
// at a fixed interval while the transport is down.
type Agent struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger

	mu           sync.Mutex
	view         View
	listeners    map[int]Listener
	nextListener int
	connected    bool

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New builds an agent. Run must be called to start it.
func New(cfg Config) *Agent {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:    logger,
		view:      emptyView(),
		listeners: make(map[int]Listener),
	}
}

// Run drives the connect / read / reconnect loop until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		headers := map[string][]string{}
		if a.cfg.Token != "" {
			headers["Authorization"] = []string{"Bearer " + a.cfg.Token}
		}

		conn, resp, err := a.dialer.DialContext(ctx, a.cfg.URL, headers)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			a.logger.Warn("hub connection failed", zap.String("url", a.cfg.URL), zap.Error(err))
			if !a.sleep(ctx) {
				return
			}
			continue
		}

		a.session(ctx, conn)

		if ctx.Err() != nil {
			return
		}
		if !a.sleep(ctx) {
			return
		}
	}
}

// session runs one connection lifetime: request a snapshot, ping on a fixed
// cadence, and apply every event until the transport closes.
func (a *Agent) session(ctx context.Context, conn *websocket.Conn) {
	a.setConn(conn)
	defer func() {
		a.setConn(nil)
		_ = conn.Close()
	}()

	a.logger.Info("hub connection established", zap.String("url", a.cfg.URL))

	if err := a.writeText("status"); err != nil {
		a.logger.Warn("snapshot request failed", zap.Error(err))
		return
	}

	done := make(chan struct{})
	defer close(done)
	go a.pingLoop(ctx, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			a.logger.Info("hub connection closed", zap.Error(err))
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			a.logger.Warn("undecodable hub message", zap.Error(err))
			continue
		}

		evt, err := decodeEvent(env)
		if err != nil {
			a.logger.Warn("undecodable event payload", zap.String("event", env.Event), zap.Error(err))
			continue
		}
		if evt.Data == nil {
			continue
		}

		a.apply(evt)
	}
}

func (a *Agent) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.writeText("ping"); err != nil {
				return
			}
		}
	}
}

// apply reduces the event into the view and notifies every listener. A
// panicking listener is isolated so the rest still receive the event.
func (a *Agent) apply(evt events.Event) {
	a.mu.Lock()
	a.view = Reduce(a.view, evt)
	if evt.Type == events.TypeStatus {
		a.connected = true
	}
	targets := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		targets = append(targets, l)
	}
	a.mu.Unlock()

	for _, l := range targets {
		a.safeNotify(l, evt)
	}
}

func (a *Agent) safeNotify(l Listener, evt events.Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("event listener panicked", zap.Any("panic", r), zap.String("event", evt.Type))
		}
	}()
	l(evt)
}

// AddListener registers a UI observer and returns its handle.
func (a *Agent) AddListener(l Listener) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextListener++
	id := a.nextListener
	a.listeners[id] = l
	return id
}

// RemoveListener drops an observer.
func (a *Agent) RemoveListener(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.listeners, id)
}

// View returns a copy of the current derived state.
func (a *Agent) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view.clone()
}

// Synced reports whether at least one snapshot has been applied since start.
func (a *Agent) Synced() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Agent) writeText(text string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return websocket.ErrCloseSent
	}
	a.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return a.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (a *Agent) setConn(conn *websocket.Conn) {
	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()
}

func (a *Agent) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(a.cfg.ReconnectDelay):
		return true
	}
}
