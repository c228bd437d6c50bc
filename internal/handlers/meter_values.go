package handlers

import (
	"context"
	"encoding/json"

	"chargehub/internal/ocpp"
	"chargehub/internal/ocpp/protocol"
	"chargehub/internal/session"
)

// NewMeterValuesHandler records the latest meter reading for an active
// transaction; a charger that later drops off is billed up to this reading.
func NewMeterValuesHandler(sessions *session.Manager) ocpp.HandlerFunc {
	return func(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.MeterValuesRequest](payload)
		if err != nil {
			return nil, err
		}

		if req.TransactionID != "" {
			sessions.RecordMeterValue(req.TransactionID, req.MeterValue)
		}

		return protocol.MeterValuesResponse{}, nil
	}
}
