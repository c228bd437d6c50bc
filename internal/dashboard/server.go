package dashboard

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargehub/internal/hub"
)

const (
	readDeadline  = 90 * time.Second
	pingInterval  = 30 * time.Second
	messageStatus = "status"
	messagePing   = "ping"
)

// Server serves the persistent dashboard event stream. Each accepted socket
// becomes one hub subscriber; client->server traffic is limited to the
// literal text messages "status" and "ping".
type Server struct {
	hub          *hub.Hub
	jwtSecret    string
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewServer builds the dashboard endpoint. jwtSecret may be empty to disable
// token verification.
func NewServer(h *hub.Hub, jwtSecret string, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}
	return &Server{
		hub:          h,
		jwtSecret:    jwtSecret,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler for the /dashboard/ws endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if s.jwtSecret != "" {
		if err := s.authorize(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("dashboard websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.hub.Subscribe()
	s.logger.Info("dashboard observer connected", zap.Int("subscribers", s.hub.SubscriberCount()))

	go s.writePump(conn, sub)
	s.readPump(conn, sub)
}

// readPump consumes the "status" / "ping" control messages until the socket
// closes, then tears the subscriber down.
func (s *Server) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer func() {
		s.hub.Unsubscribe(sub)
		_ = conn.Close()
		s.logger.Info("dashboard observer disconnected", zap.Int("subscribers", s.hub.SubscriberCount()))
	}()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(readDeadline))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch strings.TrimSpace(string(message)) {
		case messageStatus:
			s.hub.SendSnapshot(sub)
		case messagePing:
			// Any inbound traffic already refreshed the read deadline.
		default:
			// Unknown control messages are ignored.
		}
	}
}

// writePump drains the subscriber queue onto the socket.
func (s *Server) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// authorize accepts the token from the Authorization header or, since
// browser websocket clients cannot set headers, a "token" query parameter.
func (s *Server) authorize(r *http.Request) error {
	tokenStr := ""
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			tokenStr = strings.TrimSpace(parts[1])
		}
	}
	if tokenStr == "" {
		tokenStr = r.URL.Query().Get("token")
	}
	if tokenStr == "" {
		return jwt.ErrTokenMalformed
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenInvalidClaims
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}
