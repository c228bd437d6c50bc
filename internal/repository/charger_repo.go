package repository

import (
	"context"
	"database/sql"
	"time"

	"chargehub/internal/models"
)

// ChargerRepository manages charger persistence.
type ChargerRepository struct {
	db *sql.DB
}

// NewChargerRepository returns repository.
func NewChargerRepository(db *sql.DB) *ChargerRepository {
	return &ChargerRepository{db: db}
}

// Upsert stores or updates charger metadata. Records are never deleted; a
// charger that drops off keeps its row as a historical record.
func (r *ChargerRepository) Upsert(ctx context.Context, charger *models.Charger) error {
	const query = `
		INSERT INTO chargers (id, vendor, model, firmware_version, status, connected, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			vendor = EXCLUDED.vendor,
			model = EXCLUDED.model,
			firmware_version = EXCLUDED.firmware_version,
			status = EXCLUDED.status,
			connected = TRUE,
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = NOW()
	`
	if charger.LastHeartbeat.IsZero() {
		charger.LastHeartbeat = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		charger.ID,
		charger.Vendor,
		charger.Model,
		charger.FirmwareVersion,
		charger.Status,
		charger.LastHeartbeat,
	)
	return err
}

// UpdateStatus changes charger status and heartbeat.
func (r *ChargerRepository) UpdateStatus(ctx context.Context, chargerID, status string) error {
	const query = `
		UPDATE chargers
		SET status = $2,
		    last_heartbeat = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, chargerID, status)
	return err
}

// SetConnected flips the reachability flag.
func (r *ChargerRepository) SetConnected(ctx context.Context, chargerID string, connected bool) error {
	const query = `
		UPDATE chargers
		SET connected = $2,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, chargerID, connected)
	return err
}
