package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/models"
	"chargehub/internal/ocpp"
	"chargehub/internal/ocpp/protocol"
	"chargehub/internal/registry"
	"chargehub/internal/repository"
)

// NewBootNotificationHandler registers the charger and accepts it. The
// physical socket accept already marked it connected; boot refreshes the
// heartbeat and records the hardware identity.
func NewBootNotificationHandler(reg *registry.Registry, repo *repository.ChargerRepository, heartbeatInterval int, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, chargerID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		reg.Heartbeat(chargerID)

		if repo != nil {
			charger := &models.Charger{
				ID:              chargerID,
				Vendor:          req.ChargePointVendor,
				Model:           req.ChargePointModel,
				FirmwareVersion: req.FirmwareVersion,
				Status:          protocol.ConnectorAvailable,
				LastHeartbeat:   time.Now().UTC(),
			}
			if err := repo.Upsert(ctx, charger); err != nil {
				logger.Warn("failed to upsert charger", zap.String("charger_id", chargerID), zap.Error(err))
			}
		}

		return protocol.BootNotificationResponse{
			CurrentTime: time.Now().UTC(),
			Interval:    heartbeatInterval,
			Status:      protocol.RegistrationAccepted,
		}, nil
	}
}
