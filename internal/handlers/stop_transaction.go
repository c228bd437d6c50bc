package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"chargehub/internal/ocpp"
	"chargehub/internal/ocpp/protocol"
	"chargehub/internal/registry"
	"chargehub/internal/session"
)

// NewStopTransactionHandler terminates a charging session. A repeated stop
// for the same transaction acks without a second settlement.
func NewStopTransactionHandler(sessions *session.Manager, reg *registry.Registry, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StopTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		resp := protocol.StopTransactionResponse{}
		resp.IdTagInfo.Status = protocol.AuthorizationAccepted

		tx, err := sessions.Stop(ctx, req.TransactionID, req.MeterStop, req.Reason)
		if err != nil {
			if errors.Is(err, session.ErrUnknownTransaction) {
				logger.Warn("stop for unknown transaction",
					zap.String("charger_id", chargerID), zap.String("transaction_id", req.TransactionID))
				resp.IdTagInfo.Status = protocol.AuthorizationRejected
				return resp, nil
			}
			return nil, err
		}

		reg.SetConnectorStatus(chargerID, tx.ConnectorID, protocol.ConnectorAvailable)
		return resp, nil
	}
}
