// Package retrieve resolves free-text queries into ranked article results.
//
// Both retrievers absorb their own failures: an embedding, search, or
// hydration error degrades to an empty result with a log line, never a
// caller-visible error. The answer-generation path must stay available even
// when retrieval is not.
package retrieve

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/article"
)

// DefaultLimit is the organic retrieval limit when the caller passes none.
const DefaultLimit = 10

// Result is a retrieved article prepared for LLM consumption. Content is a
// working copy of the body with a "(Source: <url>)" suffix; the stored
// record is untouched.
type Result struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	Subtitle          string    `json:"subtitle,omitempty"`
	Content           string    `json:"content"`
	Link              string    `json:"link"`
	ReconstructedLink string    `json:"reconstructedLink"`
}

// Filters narrows an organic retrieval. Zero values mean no restriction.
type Filters struct {
	Channel string // public channel slug
	Status  string // numeric publication status code, as text
}

// Embedder converts query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the article storage surface the retrievers consume.
type Store interface {
	NearestNeighbors(ctx context.Context, queryVec []float32, k int, f article.Filter) ([]uuid.UUID, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]article.Article, error)
	ListByContributors(ctx context.Context, contributorIDs []int64) ([]article.Article, error)
	ChannelBySlug(ctx context.Context, slug string) (*article.Channel, error)
	ChannelByID(ctx context.Context, id uuid.UUID) (*article.Channel, error)
}

// ArticleRetriever answers organic queries via vector search.
type ArticleRetriever struct {
	store    Store
	embedder Embedder
	post     *postprocessor
	logger   *slog.Logger
}

// NewArticleRetriever creates an ArticleRetriever. baseURL is the public
// site prefix used to reconstruct article links.
func NewArticleRetriever(store Store, embedder Embedder, baseURL string, logger *slog.Logger) *ArticleRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArticleRetriever{
		store:    store,
		embedder: embedder,
		post:     newPostprocessor(store, baseURL, logger),
		logger:   logger,
	}
}

// Retrieve returns up to limit articles relevant to query, most similar
// first. limit <= 0 selects DefaultLimit. Never returns an error: every
// internal failure degrades to an empty slice.
func (r *ArticleRetriever) Retrieve(ctx context.Context, query string, f Filters, limit int) []Result {
	if limit <= 0 {
		limit = DefaultLimit
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("retrieval degraded: embedding failed", "error", err)
		return nil
	}

	filter := r.resolveFilter(ctx, f)
	if _, nothing := filter.(article.MatchNothing); nothing {
		return nil
	}

	ids, err := r.store.NearestNeighbors(ctx, queryVec, limit, filter)
	if err != nil {
		r.logger.Warn("retrieval degraded: vector search failed", "error", err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	// Hydration preserves the index's relevance order; missing rows drop out.
	articles, err := r.store.GetByIDs(ctx, ids)
	if err != nil {
		r.logger.Warn("retrieval degraded: hydration failed", "error", err)
		return nil
	}

	return r.post.process(ctx, articles)
}

// resolveFilter maps caller filters onto the store's filter variants.
//
// A channel slug that does not resolve yields MatchNothing, not MatchAll:
// the caller intended a restriction, so leaking unfiltered results would be
// worse than returning nothing. A status value that does not parse as a
// numeric code is dropped; the channel filter, if any, still applies.
func (r *ArticleRetriever) resolveFilter(ctx context.Context, f Filters) article.Filter {
	var (
		channelID *uuid.UUID
		status    *int16
	)

	if f.Channel != "" {
		ch, err := r.store.ChannelBySlug(ctx, f.Channel)
		if err != nil {
			r.logger.Info("channel slug did not resolve, matching nothing",
				"channel", f.Channel, "error", err)
			return article.MatchNothing{}
		}
		channelID = &ch.ID
	}

	if f.Status != "" {
		if code, err := strconv.ParseInt(f.Status, 10, 16); err == nil {
			s := int16(code)
			status = &s
		} else {
			r.logger.Info("ignoring non-numeric status filter", "status", f.Status)
		}
	}

	switch {
	case channelID != nil && status != nil:
		return article.ByChannelAndStatus{ChannelID: *channelID, Status: *status}
	case channelID != nil:
		return article.ByChannel{ChannelID: *channelID}
	case status != nil:
		return article.ByStatus{Status: *status}
	default:
		return article.MatchAll{}
	}
}
