// Package ingest runs the background embedding job. Articles are embedded
// asynchronously after creation or update; until the job catches up, an
// article is briefly absent from vector search. That eventual-consistency
// window is intentional.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/article"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
	defaultAttempts  = 3
	retryBackoff     = 500 * time.Millisecond
)

// Store is the article surface the queue needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*article.Article, error)
	UpdateEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error
}

// Embedder computes an article's embedding.
type Embedder interface {
	EmbedArticle(ctx context.Context, a *article.Article) ([]float32, error)
}

// Queue is an in-process embedding work queue with at-least-once delivery:
// a failed job is retried up to a bounded attempt count before being
// dropped with an error log. Producers only enqueue; they never wait for
// the embedding to land.
type Queue struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger

	jobs     chan uuid.UUID
	attempts int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a Queue. Start must be called before Enqueue has any
// effect.
func NewQueue(store Store, embedder Embedder, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:    store,
		embedder: embedder,
		logger:   logger,
		jobs:     make(chan uuid.UUID, defaultQueueSize),
		attempts: defaultAttempts,
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled or the
// queue is closed.
func (q *Queue) Start(ctx context.Context) {
	for range defaultWorkers {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue submits an article for embedding. Returns false when the queue is
// full or closed; the article stays un-embedded until a later update
// re-enqueues it.
func (q *Queue) Enqueue(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	select {
	case q.jobs <- id:
		return true
	default:
		q.logger.Warn("embedding queue full, dropping job", "article", id)
		return false
	}
}

// Close stops accepting work, drains pending jobs, and waits for workers.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-q.jobs:
			if !ok {
				return
			}
			q.process(ctx, id)
		}
	}
}

// process embeds one article with bounded retries.
func (q *Queue) process(ctx context.Context, id uuid.UUID) {
	var lastErr error
	for attempt := 1; attempt <= q.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
		}

		lastErr = q.embedOnce(ctx, id)
		if lastErr == nil {
			q.logger.Debug("article embedded", "article", id, "attempt", attempt)
			return
		}
	}

	q.logger.Error("embedding failed after retries",
		"article", id, "attempts", q.attempts, "error", lastErr)
}

func (q *Queue) embedOnce(ctx context.Context, id uuid.UUID) error {
	a, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}

	vec, err := q.embedder.EmbedArticle(ctx, a)
	if err != nil {
		return err
	}

	return q.store.UpdateEmbedding(ctx, id, vec)
}
