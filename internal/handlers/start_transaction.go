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

// NewStartTransactionHandler authorizes a new charging session. Only an
// occupied connector or a rejected card come back as a synchronous refusal;
// everything else the charger learns about through later events.
func NewStartTransactionHandler(sessions *session.Manager, reg *registry.Registry, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StartTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		resp := protocol.StartTransactionResponse{}

		tx, err := sessions.Authorize(ctx, chargerID, req.ConnectorID, req.IdTag, req.MeterStart)
		switch {
		case errors.Is(err, session.ErrConnectorOccupied):
			logger.Warn("authorization refused, connector occupied",
				zap.String("charger_id", chargerID), zap.Int("connector_id", req.ConnectorID))
			resp.IdTagInfo.Status = protocol.AuthorizationConcurrentTx
			return resp, nil
		case errors.Is(err, session.ErrCardRejected):
			logger.Info("authorization refused, card rejected",
				zap.String("charger_id", chargerID), zap.String("id_tag", req.IdTag))
			resp.IdTagInfo.Status = protocol.AuthorizationRejected
			return resp, nil
		case err != nil:
			return nil, err
		}

		reg.SetConnectorStatus(chargerID, req.ConnectorID, protocol.ConnectorCharging)

		resp.TransactionID = tx.ID
		resp.IdTagInfo.Status = protocol.AuthorizationAccepted
		return resp, nil
	}
}
