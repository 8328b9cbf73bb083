// Package ratelimit implements persisted token-bucket admission control.
//
// Each named limit owns buckets keyed by (name, key, shard). Refill is lazy:
// the token value is recomputed from the elapsed time at every check or
// consume, never by a background timer, so an idle bucket costs nothing.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// ErrUnknownLimit indicates a limit name that was never registered.
var ErrUnknownLimit = errors.New("unknown limit")

// Well-known limit names. Global is sharded and keyed by a constant;
// conversation is unsharded and keyed by the thread ID. The test limit
// exists for exercising the admin API against a tiny bucket.
const (
	LimitGlobal       = "global"
	LimitConversation = "conversation"
	LimitTest         = "test"

	// GlobalKey is the single scope key of the global limit.
	GlobalKey = "_"
)

// Config tunes one named limit. With Shards > 1 the limit is split into
// independent sub-buckets of Capacity/Shards and Rate/Shards each; total
// capacity is the sum over shards, not a single shared count.
type Config struct {
	Rate     float64       // tokens added per Period
	Period   time.Duration // refill period
	Capacity float64       // maximum burst
	Shards   int           // parallel sub-buckets, minimum 1
}

func (c Config) shards() int {
	if c.Shards < 1 {
		return 1
	}
	return c.Shards
}

// perShardCapacity and perShardRate split the limit evenly across shards.
func (c Config) perShardCapacity() float64 { return c.Capacity / float64(c.shards()) }
func (c Config) perShardRate() float64     { return c.Rate / float64(c.shards()) }

// tokensPerSecond converts the per-shard rate to a per-second fill rate.
func (c Config) tokensPerSecond() float64 {
	return c.perShardRate() / c.Period.Seconds()
}

// Bucket is one persisted token counter.
type Bucket struct {
	Name       string
	Key        string
	Shard      int
	TokenValue float64
	LastRefill time.Time
}

// Store persists buckets. Acquire must serialize concurrent access to the
// same (name, key, shard): fn runs with exclusive ownership of the bucket
// and its mutation is persisted atomically before Acquire returns. Missing
// buckets are created via init.
type Store interface {
	Acquire(ctx context.Context, name, key string, shard int, init func() Bucket, fn func(*Bucket) error) error
}

// Decision is the outcome of a check or consume.
type Decision struct {
	OK         bool
	RetryAfter time.Duration // time to accumulate the shortfall; zero when OK
}

// Limiter evaluates named token-bucket limits against a Store.
// Safe for concurrent use.
type Limiter struct {
	store  Store
	limits map[string]Config
	rr     atomic.Uint64 // round-robin shard cursor
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Limiter with no limits registered.
func New(store Store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:  store,
		limits: make(map[string]Config),
		now:    time.Now,
		logger: logger,
	}
}

// Register adds or replaces a named limit. Not safe to call concurrently
// with evaluation; register everything at startup.
func (l *Limiter) Register(name string, cfg Config) {
	l.limits[name] = cfg
}

// Check reports whether one token could be taken, without taking it. A
// drained bucket checks as not-OK with the same RetryAfter a consume would
// report. The lazy refill is persisted so a later consume starts from the
// advanced timestamp.
func (l *Limiter) Check(ctx context.Context, name, key string) (Decision, error) {
	return l.evaluate(ctx, name, key, 1, false)
}

// Consume takes count tokens from the bucket if available. On rejection,
// RetryAfter reports how long the caller must wait for the shortfall to
// accumulate at the configured rate.
func (l *Limiter) Consume(ctx context.Context, name, key string, count float64) (Decision, error) {
	if count <= 0 {
		count = 1
	}
	return l.evaluate(ctx, name, key, count, true)
}

func (l *Limiter) evaluate(ctx context.Context, name, key string, count float64, consume bool) (Decision, error) {
	cfg, ok := l.limits[name]
	if !ok {
		return Decision{}, fmt.Errorf("ratelimit: %w: %q", ErrUnknownLimit, name)
	}

	// One shard per operation: capacity is partitioned, so a consume only
	// ever sees its own shard's share.
	shard := 0
	if n := cfg.shards(); n > 1 {
		shard = int(l.rr.Add(1) % uint64(n))
	}

	var decision Decision
	err := l.store.Acquire(ctx, name, key, shard,
		func() Bucket {
			return Bucket{
				Name:       name,
				Key:        key,
				Shard:      shard,
				TokenValue: cfg.perShardCapacity(),
				LastRefill: l.now(),
			}
		},
		func(b *Bucket) error {
			now := l.now()
			refill(b, cfg, now)

			if b.TokenValue >= count {
				if consume {
					b.TokenValue -= count
				}
				decision = Decision{OK: true}
				return nil
			}

			shortfall := count - b.TokenValue
			decision = Decision{
				OK:         false,
				RetryAfter: retryAfter(shortfall, cfg.tokensPerSecond()),
			}
			return nil
		})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: evaluating %s/%s: %w", name, key, err)
	}
	return decision, nil
}

// refill advances the bucket to now: value + elapsed × rate, capped at the
// per-shard capacity, floored at zero.
func refill(b *Bucket, cfg Config, now time.Time) {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed > 0 {
		b.TokenValue += elapsed * cfg.tokensPerSecond()
	}
	b.TokenValue = math.Min(b.TokenValue, cfg.perShardCapacity())
	b.TokenValue = math.Max(b.TokenValue, 0)
	b.LastRefill = now
}

func retryAfter(shortfall, perSecond float64) time.Duration {
	if perSecond <= 0 {
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(shortfall / perSecond * float64(time.Second))
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// Reset fills every shard of (name, key) back to capacity. Administrative
// and test use only.
func (l *Limiter) Reset(ctx context.Context, name, key string) error {
	cfg, ok := l.limits[name]
	if !ok {
		return fmt.Errorf("ratelimit: %w: %q", ErrUnknownLimit, name)
	}

	for shard := range cfg.shards() {
		err := l.store.Acquire(ctx, name, key, shard,
			func() Bucket {
				return Bucket{
					Name:       name,
					Key:        key,
					Shard:      shard,
					TokenValue: cfg.perShardCapacity(),
					LastRefill: l.now(),
				}
			},
			func(b *Bucket) error {
				b.TokenValue = cfg.perShardCapacity()
				b.LastRefill = l.now()
				return nil
			})
		if err != nil {
			return fmt.Errorf("ratelimit: resetting %s/%s shard %d: %w", name, key, shard, err)
		}
	}

	l.logger.Info("rate limit reset", "limit", name, "key", key)
	return nil
}

// Rejection describes which scope refused a request.
type Rejection struct {
	Scope      string // "global" or "conversation"
	RetryAfter time.Duration
}

// Admit runs the two-scope admission gate for one request. The global check
// runs first; only if it passes is the per-conversation bucket touched, so
// a globally rejected request never wastes conversation tokens. Tokens
// consumed from the global bucket are not refunded when the conversation
// check rejects: the request did occupy global capacity.
//
// A nil Rejection means the request is admitted.
func (l *Limiter) Admit(ctx context.Context, conversationKey string) (*Rejection, error) {
	global, err := l.Consume(ctx, LimitGlobal, GlobalKey, 1)
	if err != nil {
		return nil, err
	}
	if !global.OK {
		return &Rejection{Scope: "global", RetryAfter: global.RetryAfter}, nil
	}

	conv, err := l.Consume(ctx, LimitConversation, conversationKey, 1)
	if err != nil {
		return nil, err
	}
	if !conv.OK {
		return &Rejection{Scope: "conversation", RetryAfter: conv.RetryAfter}, nil
	}

	return nil, nil
}
