package retrieve

import (
	"context"
	"log/slog"

	"github.com/lorekeep/lorekeep/internal/article"
	"github.com/lorekeep/lorekeep/internal/rank"
)

// DefaultSponsoredLimit is the sponsored retrieval limit when the caller
// passes none.
const DefaultSponsoredLimit = 3

// SponsoredRetriever surfaces articles from an explicit contributor
// allowlist. It deliberately shares no code path with the vector index:
// the candidate set is allowlist-bounded and small, so an exhaustive fetch
// plus in-memory ranking keeps sponsored placement independent of index
// health.
type SponsoredRetriever struct {
	store    Store
	embedder Embedder
	post     *postprocessor
	logger   *slog.Logger
}

// NewSponsoredRetriever creates a SponsoredRetriever.
func NewSponsoredRetriever(store Store, embedder Embedder, baseURL string, logger *slog.Logger) *SponsoredRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &SponsoredRetriever{
		store:    store,
		embedder: embedder,
		post:     newPostprocessor(store, baseURL, logger),
		logger:   logger,
	}
}

// Retrieve returns up to limit allowlisted articles ranked by similarity to
// query. An empty allowlist returns nil immediately, before any embedding
// or storage call: that is the feature-disabled path, not an error. All
// internal failures degrade to an empty slice.
func (r *SponsoredRetriever) Retrieve(ctx context.Context, query string, contributorIDs []int64, limit int) []Result {
	if len(contributorIDs) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSponsoredLimit
	}

	articles, err := r.store.ListByContributors(ctx, contributorIDs)
	if err != nil {
		r.logger.Warn("sponsored retrieval degraded: contributor fetch failed", "error", err)
		return nil
	}
	if len(articles) == 0 {
		return nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("sponsored retrieval degraded: embedding failed", "error", err)
		return nil
	}

	candidates := make([]rank.Candidate, len(articles))
	for i, a := range articles {
		candidates[i] = rank.Candidate{ID: a.ID, Vector: a.Embedding}
	}
	scored := rank.TopK(queryVec, candidates, limit)
	if len(scored) == 0 {
		return nil
	}

	ranked := make([]article.Article, 0, len(scored))
	for _, s := range scored {
		for i := range articles {
			if articles[i].ID == s.ID {
				ranked = append(ranked, articles[i])
				break
			}
		}
	}

	return r.post.process(ctx, ranked)
}
