package handlers

import (
	"context"
	"encoding/json"
	"time"

	"chargehub/internal/ocpp"
	"chargehub/internal/ocpp/protocol"
	"chargehub/internal/registry"
)

// NewHeartbeatHandler refreshes the liveness timer and acks with server time.
func NewHeartbeatHandler(reg *registry.Registry) ocpp.HandlerFunc {
	return func(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, error) {
		reg.Heartbeat(chargerID)
		return protocol.HeartbeatResponse{
			CurrentTime: time.Now().UTC(),
		}, nil
	}
}
