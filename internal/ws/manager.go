package ws

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Manager tracks live charger connections and lets the command dispatcher
// address them by id.
type Manager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pingInterval time.Duration
}

// NewManager builds connection manager.
func NewManager(pingInterval time.Duration) *Manager {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		pingInterval: pingInterval,
	}
}

// Add registers new connection.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ChargerID()] = conn
}

// Remove removes connection.
func (m *Manager) Remove(chargerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, chargerID)
}

// Send enqueues a frame to the named charger. Fails when the charger is not
// currently connected.
func (m *Manager) Send(chargerID string, frame []byte) error {
	m.mu.RLock()
	conn, ok := m.connections[chargerID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ws: charger %s not connected", chargerID)
	}
	conn.Send(frame)
	return nil
}

// Count reports the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Start begins ping loop to keep connections active.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			for _, conn := range m.connections {
				_ = conn.Ping()
			}
			m.mu.RUnlock()
		}
	}
}
