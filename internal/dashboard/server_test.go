package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargehub/internal/events"
	"chargehub/internal/hub"
)

func snapshotFunc() events.Event {
	return events.Event{Type: events.TypeStatus, Data: events.StatusPayload{OnlineChargers: 3}}
}

func startServer(t *testing.T, h *hub.Hub, jwtSecret string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(NewServer(h, jwtSecret, time.Second, zap.NewNop()).HandleWS))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env events.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestDashboardSnapshotFirstThenEvents(t *testing.T) {
	h := hub.New(16, snapshotFunc, nil, zap.NewNop())
	url := startServer(t, h, "")

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	if env := readEnvelope(t, conn); env.Event != events.TypeStatus {
		t.Fatalf("first message must be status, got %s", env.Event)
	}

	// Wait for the subscriber registration before publishing.
	deadline := time.Now().Add(time.Second)
	for h.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Publish(events.Event{Type: events.TypeChargerConnected, Data: events.ChargerPayload{ChargerID: "CH1"}})

	if env := readEnvelope(t, conn); env.Event != events.TypeChargerConnected {
		t.Fatalf("expected charger_connected, got %s", env.Event)
	}
}

func TestDashboardStatusRequestResnapshots(t *testing.T) {
	h := hub.New(16, snapshotFunc, nil, zap.NewNop())
	url := startServer(t, h, "")

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	readEnvelope(t, conn) // initial snapshot

	if err := conn.WriteMessage(websocket.TextMessage, []byte("status")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if env := readEnvelope(t, conn); env.Event != events.TypeStatus {
		t.Fatalf("expected status reply, got %s", env.Event)
	}
}

func TestDashboardUnknownMessagesIgnored(t *testing.T) {
	h := hub.New(16, snapshotFunc, nil, zap.NewNop())
	url := startServer(t, h, "")

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	readEnvelope(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Connection stays up: a publish still arrives.
	h.Publish(events.Event{Type: events.TypeChargerDisconnected, Data: events.ChargerPayload{ChargerID: "CH1"}})
	if env := readEnvelope(t, conn); env.Event != events.TypeChargerDisconnected {
		t.Fatalf("expected charger_disconnected, got %s", env.Event)
	}
}

func TestDashboardDisconnectRemovesSubscriber(t *testing.T) {
	h := hub.New(16, snapshotFunc, nil, zap.NewNop())
	url := startServer(t, h, "")

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	readEnvelope(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber torn down, got %d", h.SubscriberCount())
	}
}

func TestDashboardJWTRequiredWhenConfigured(t *testing.T) {
	h := hub.New(16, snapshotFunc, nil, zap.NewNop())
	secret := "hub-secret"
	url := startServer(t, h, secret)

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("expected handshake rejection without token")
	} else if resp != nil {
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dashboard",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	if env := readEnvelope(t, conn); env.Event != events.TypeStatus {
		t.Fatalf("expected status after auth, got %s", env.Event)
	}
}
