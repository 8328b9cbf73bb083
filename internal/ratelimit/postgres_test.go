package ratelimit_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lorekeep/lorekeep/internal/log"
	"github.com/lorekeep/lorekeep/internal/ratelimit"
	"github.com/lorekeep/lorekeep/internal/testutil"
)

func TestPostgresStore_ConcurrentConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb := testutil.SetupTestDB(t)
	store := ratelimit.NewPostgresStore(tdb.Pool)

	l := ratelimit.New(store, log.NewNop())
	l.Register("burst", ratelimit.Config{
		Rate: 10, Period: time.Hour, Capacity: 10, Shards: 1,
	})

	// 20 concurrent consumers against a 10-token bucket: exactly 10 may
	// win. FOR UPDATE serialization must prevent double-spends.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Consume(context.Background(), "burst", "k", 1)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if d.OK {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("granted = %d, want exactly 10", granted)
	}
}

// fakeRowDB models the locking behavior the store relies on with a single
// bucket row: FOR UPDATE on a row that does not exist locks nothing and
// reports pgx.ErrNoRows, while an insert (a DO NOTHING one included)
// blocks behind a concurrent uncommitted insert of the same row.
type fakeRowDB struct {
	mu         sync.Mutex
	exists     bool
	tokenValue float64
	lastRefill time.Time

	rowLock sync.Mutex // held from reservation or locked read until commit/rollback
}

func (db *fakeRowDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

type fakeTx struct {
	pgx.Tx // unused methods panic

	db     *fakeRowDB
	locked bool
	done   bool

	staged     bool
	tokenValue float64
	lastRefill time.Time
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if !tx.locked {
		tx.db.rowLock.Lock()
		tx.locked = true
	}
	if strings.Contains(sql, "DO NOTHING") {
		tx.db.mu.Lock()
		exists := tx.db.exists
		tx.db.mu.Unlock()
		if exists {
			return pgconn.CommandTag{}, nil
		}
	}
	tx.staged = true
	tx.tokenValue = args[3].(float64)
	tx.lastRefill = args[4].(time.Time)
	return pgconn.CommandTag{}, nil
}

func (tx *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx.staged {
		return fakeRow{tokens: tx.tokenValue, refill: tx.lastRefill}
	}

	tx.db.mu.Lock()
	exists := tx.db.exists
	tokens, refill := tx.db.tokenValue, tx.db.lastRefill
	tx.db.mu.Unlock()
	if !exists {
		return fakeRow{err: pgx.ErrNoRows}
	}

	if !tx.locked {
		tx.db.rowLock.Lock()
		tx.locked = true
		// Reread under the lock; a concurrent commit may have landed.
		tx.db.mu.Lock()
		tokens, refill = tx.db.tokenValue, tx.db.lastRefill
		tx.db.mu.Unlock()
	}
	return fakeRow{tokens: tokens, refill: refill}
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	if tx.staged {
		tx.db.mu.Lock()
		tx.db.exists = true
		tx.db.tokenValue = tx.tokenValue
		tx.db.lastRefill = tx.lastRefill
		tx.db.mu.Unlock()
	}
	if tx.locked {
		tx.locked = false
		tx.db.rowLock.Unlock()
	}
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	if tx.locked {
		tx.locked = false
		tx.db.rowLock.Unlock()
	}
	return nil
}

type fakeRow struct {
	tokens float64
	refill time.Time
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*float64)) = r.tokens
	*(dest[1].(*time.Time)) = r.refill
	return nil
}

// Concurrent consumers hit a single-token bucket whose row does not exist
// yet. A locked read alone cannot serialize first use: there is no row to
// lock, every consumer sees ErrNoRows and initializes at full capacity,
// and the bucket grants more than it holds. The store must reserve the
// row before reading it.
func TestPostgresStore_ConcurrentFirstUse(t *testing.T) {
	db := &fakeRowDB{}
	l := ratelimit.New(ratelimit.NewPostgresStore(db), log.NewNop())
	l.Register("first", ratelimit.Config{
		Rate: 1, Period: time.Hour, Capacity: 1, Shards: 1,
	})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Consume(context.Background(), "first", "k", 1)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if d.OK {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("granted = %d, want exactly 1 from a fresh single-token bucket", granted)
	}
}

func TestPostgresStore_PersistsAcrossLimiters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()
	cfg := ratelimit.Config{Rate: 5, Period: time.Hour, Capacity: 5, Shards: 1}

	first := ratelimit.New(ratelimit.NewPostgresStore(tdb.Pool), log.NewNop())
	first.Register("persist", cfg)
	for range 5 {
		if d, err := first.Consume(ctx, "persist", "k", 1); err != nil || !d.OK {
			t.Fatalf("drain: ok=%v err=%v", d.OK, err)
		}
	}

	// A fresh limiter over the same table sees the drained bucket.
	second := ratelimit.New(ratelimit.NewPostgresStore(tdb.Pool), log.NewNop())
	second.Register("persist", cfg)

	d, err := second.Consume(ctx, "persist", "k", 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if d.OK {
		t.Error("bucket state must survive limiter restarts")
	}
}
