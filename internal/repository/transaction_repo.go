package repository

import (
	"context"
	"database/sql"

	"chargehub/internal/models"
)

// TransactionRepository persists transaction audit rows.
type TransactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository returns repository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// InsertTransaction records a freshly authorized session.
func (r *TransactionRepository) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	const query = `
		INSERT INTO transactions (id, charger_id, connector_id, card_id, state, meter_start, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.ChargerID,
		tx.ConnectorID,
		tx.CardID,
		string(tx.State),
		tx.MeterStart,
		tx.StartedAt,
	)
	return err
}

// FinalizeTransaction appends the terminal and settlement fields.
func (r *TransactionRepository) FinalizeTransaction(ctx context.Context, tx *models.Transaction) error {
	const query = `
		UPDATE transactions
		SET state = $2,
		    meter_stop = $3,
		    energy_kwh = $4,
		    stopped_at = $5,
		    stop_reason = $6,
		    settlement_status = $7,
		    cost_minor = $8,
		    balance_after = $9,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		string(tx.State),
		tx.MeterStop,
		tx.EnergyKWh,
		tx.StoppedAt,
		tx.StopReason,
		tx.SettlementStatus,
		tx.CostMinor,
		tx.BalanceAfter,
	)
	return err
}
