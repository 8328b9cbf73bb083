package ratelimit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is the transactional surface PostgresStore needs; satisfied by
// *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists buckets in the rate_limits table. The row is
// reserved with an INSERT before it is locked: SELECT FOR UPDATE cannot
// lock a row that does not exist yet, so locking first would let two
// first-time consumers both initialize the bucket at full capacity and
// double-spend. With the reservation in place, FOR UPDATE serializes every
// concurrent read-modify-write of the same bucket row.
type PostgresStore struct {
	db TxBeginner
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db TxBeginner) *PostgresStore {
	return &PostgresStore{db: db}
}

// Acquire implements Store.
func (s *PostgresStore) Acquire(ctx context.Context, name, key string, shard int, init func() Bucket, fn func(*Bucket) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning bucket transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Reserve the row. A concurrent reservation blocks here until the
	// other transaction commits, after which DO NOTHING leaves its row in
	// place and the locked read below sees it.
	b := init()
	_, err = tx.Exec(ctx,
		`INSERT INTO rate_limits (name, key, shard, token_value, last_refill)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, key, shard) DO NOTHING`,
		name, key, shard, b.TokenValue, b.LastRefill)
	if err != nil {
		return fmt.Errorf("reserving bucket %s/%s/%d: %w", name, key, shard, err)
	}

	b.Name, b.Key, b.Shard = name, key, shard
	err = tx.QueryRow(ctx,
		`SELECT token_value, last_refill FROM rate_limits
		 WHERE name = $1 AND key = $2 AND shard = $3
		 FOR UPDATE`,
		name, key, shard).Scan(&b.TokenValue, &b.LastRefill)
	if err != nil {
		return fmt.Errorf("loading bucket %s/%s/%d: %w", name, key, shard, err)
	}

	if err := fn(&b); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE rate_limits SET token_value = $4, last_refill = $5
		 WHERE name = $1 AND key = $2 AND shard = $3`,
		name, key, shard, b.TokenValue, b.LastRefill)
	if err != nil {
		return fmt.Errorf("persisting bucket %s/%s/%d: %w", name, key, shard, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing bucket %s/%s/%d: %w", name, key, shard, err)
	}
	return nil
}
