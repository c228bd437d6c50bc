package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chargehub/internal/models"
)

// ActiveTransaction is the cached shape of an in-flight session, enough for
// a restarted hub (or a sibling service) to see what is charging right now.
type ActiveTransaction struct {
	TransactionID string    `json:"transaction_id"`
	ChargerID     string    `json:"charger_id"`
	ConnectorID   int       `json:"connector_id"`
	CardID        string    `json:"card_id"`
	MeterStart    int64     `json:"meter_start"`
	StartedAt     time.Time `json:"started_at"`
}

// Store caches active transactions in redis, keyed by transaction id.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(transactionID string) string {
	return fmt.Sprintf("hub:active:%s", transactionID)
}

// Save caches an in-flight transaction.
func (s *Store) Save(ctx context.Context, tx *models.Transaction) error {
	data, err := json.Marshal(ActiveTransaction{
		TransactionID: tx.ID,
		ChargerID:     tx.ChargerID,
		ConnectorID:   tx.ConnectorID,
		CardID:        tx.CardID,
		MeterStart:    tx.MeterStart,
		StartedAt:     tx.StartedAt,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(tx.ID), data, s.ttl).Err()
}

// Get returns a cached transaction.
func (s *Store) Get(ctx context.Context, transactionID string) (*ActiveTransaction, error) {
	result, err := s.client.Get(ctx, s.key(transactionID)).Result()
	if err != nil {
		return nil, err
	}
	var tx ActiveTransaction
	if err := json.Unmarshal([]byte(result), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Delete removes a cached transaction once it reaches a terminal state.
func (s *Store) Delete(ctx context.Context, transactionID string) error {
	return s.client.Del(ctx, s.key(transactionID)).Err()
}
