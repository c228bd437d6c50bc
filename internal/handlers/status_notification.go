package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"chargehub/internal/ocpp"
	"chargehub/internal/ocpp/protocol"
	"chargehub/internal/registry"
	"chargehub/internal/repository"
)

// NewStatusNotificationHandler updates charger/connector status.
func NewStatusNotificationHandler(reg *registry.Registry, repo *repository.ChargerRepository, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		if req.ConnectorStatus == "" {
			req.ConnectorStatus = protocol.ConnectorAvailable
		}

		reg.SetConnectorStatus(chargerID, req.ConnectorID, req.ConnectorStatus)

		if repo != nil {
			if err := repo.UpdateStatus(ctx, chargerID, req.ConnectorStatus); err != nil {
				logger.Warn("failed to update charger status", zap.String("charger_id", chargerID), zap.Error(err))
			}
		}

		return protocol.StatusNotificationResponse{}, nil
	}
}
