package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP connections to WebSockets for OCPP. Connect and
// disconnect hooks cascade into the registry and the session state machine.
type Server struct {
	manager      *Manager
	processor    MessageProcessor
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	onConnect    func(chargerID string)
	onDisconnect func(chargerID string)
}

// NewServer builds ws server.
func NewServer(manager *Manager, processor MessageProcessor, writeTimeout time.Duration, logger *zap.Logger, onConnect, onDisconnect func(string)) *Server {
	return &Server{
		manager:      manager,
		processor:    processor,
		logger:       logger,
		writeTimeout: writeTimeout,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler for the /ocpp/ws endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	chargerID := r.URL.Query().Get("station_id")
	if chargerID == "" {
		http.Error(w, "station_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(chargerID, conn, s.processor, s.writeTimeout, s.logger, func(id string) {
		s.manager.Remove(id)
		cancel()
		if s.onDisconnect != nil {
			s.onDisconnect(id)
		}
	})
	s.manager.Add(connection)
	if s.onConnect != nil {
		s.onConnect(chargerID)
	}

	go connection.Start(ctx)
	s.logger.Info("charger socket accepted", zap.String("charger_id", chargerID))
}
