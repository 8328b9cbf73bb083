package article

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("article: not found")

// DB is the subset of pgxpool.Pool the store needs. Defined here so tests
// can substitute a fake without a running database.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists articles, channels, and contributors in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store. A nil logger falls back to slog.Default.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

const articleColumns = `id, source_id, title, subtitle, body, link,
	channel_id, contributor_id, status, published_at, embedding,
	created_at, updated_at`

func scanArticle(row pgx.Row) (*Article, error) {
	var (
		a   Article
		emb *pgvector.Vector
	)
	err := row.Scan(&a.ID, &a.SourceID, &a.Title, &a.Subtitle, &a.Body,
		&a.Link, &a.ChannelID, &a.ContributorID, &a.Status, &a.PublishedAt,
		&emb, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if emb != nil {
		a.Embedding = emb.Slice()
	}
	return &a, nil
}

// Get returns one article by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Article, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)

	a, err := scanArticle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: article %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting article %s: %w", id, err)
	}
	return a, nil
}

// GetByIDs hydrates articles for the given identifiers, preserving input
// order. Identifiers with no matching row are dropped, not errored: partial
// hydration is preferred over total failure.
func (s *Store) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating articles: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*Article, len(ids))
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hydrating articles: %w", err)
	}

	out := make([]Article, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

// ListByContributors returns every article authored by any of the given
// contributor IDs. The candidate set is allowlist-bounded, so an exhaustive
// fetch is fine; ranking happens in memory afterwards.
func (s *Store) ListByContributors(ctx context.Context, contributorIDs []int64) ([]Article, error) {
	if len(contributorIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+articleColumns+` FROM articles
		 WHERE contributor_id = ANY($1)
		 ORDER BY published_at DESC NULLS LAST, created_at DESC`,
		contributorIDs)
	if err != nil {
		return nil, fmt.Errorf("listing contributor articles: %w", err)
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing contributor articles: %w", err)
	}
	return out, nil
}

// NearestNeighbors runs an approximate nearest-neighbour search over article
// embeddings using cosine distance and returns up to k article IDs, most
// similar first. Rows with a NULL embedding never match.
func (s *Store) NearestNeighbors(ctx context.Context, queryVec []float32, k int, f Filter) ([]uuid.UUID, error) {
	if k <= 0 {
		return nil, nil
	}

	var (
		where string
		args  []any
	)
	args = append(args, pgvector.NewVector(queryVec))

	switch f := f.(type) {
	case MatchAll, nil:
		where = `embedding IS NOT NULL`
	case ByChannel:
		where = `embedding IS NOT NULL AND channel_id = $2`
		args = append(args, f.ChannelID)
	case ByStatus:
		where = `embedding IS NOT NULL AND status = $2`
		args = append(args, f.Status)
	case ByChannelAndStatus:
		where = `embedding IS NOT NULL AND channel_id = $2 AND status = $3`
		args = append(args, f.ChannelID, f.Status)
	case MatchNothing:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown filter type %T", f)
	}

	args = append(args, k)
	query := fmt.Sprintf(
		`SELECT id FROM articles WHERE %s ORDER BY embedding <=> $1 LIMIT $%d`,
		where, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return ids, nil
}

// UpdateEmbedding stores the computed embedding for an article.
func (s *Store) UpdateEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE articles SET embedding = $2, updated_at = now() WHERE id = $1`,
		id, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: article %s", ErrNotFound, id)
	}
	return nil
}

// Upsert inserts or updates an article by its CMS source ID and returns the
// internal identifier. Content edits clear the stored embedding so the
// background job recomputes it.
func (s *Store) Upsert(ctx context.Context, a *Article) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`INSERT INTO articles
		    (source_id, title, subtitle, body, link, channel_id,
		     contributor_id, status, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (source_id) DO UPDATE SET
		    title = EXCLUDED.title,
		    subtitle = EXCLUDED.subtitle,
		    body = EXCLUDED.body,
		    link = EXCLUDED.link,
		    channel_id = EXCLUDED.channel_id,
		    contributor_id = EXCLUDED.contributor_id,
		    status = EXCLUDED.status,
		    published_at = EXCLUDED.published_at,
		    embedding = NULL,
		    updated_at = now()
		 RETURNING id`,
		a.SourceID, a.Title, a.Subtitle, a.Body, a.Link, a.ChannelID,
		a.ContributorID, a.Status, a.PublishedAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upserting article %q: %w", a.SourceID, err)
	}

	s.logger.Debug("upserted article", "id", id, "source_id", a.SourceID)
	return id, nil
}

// ChannelBySlug resolves a public channel slug to the channel record.
func (s *Store) ChannelBySlug(ctx context.Context, slug string) (*Channel, error) {
	var c Channel
	err := s.db.QueryRow(ctx,
		`SELECT id, slug, title FROM channels WHERE slug = $1`, slug).
		Scan(&c.ID, &c.Slug, &c.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: channel %q", ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving channel %q: %w", slug, err)
	}
	return &c, nil
}

// ChannelByID returns a channel by its internal identifier.
func (s *Store) ChannelByID(ctx context.Context, id uuid.UUID) (*Channel, error) {
	var c Channel
	err := s.db.QueryRow(ctx,
		`SELECT id, slug, title FROM channels WHERE id = $1`, id).
		Scan(&c.ID, &c.Slug, &c.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting channel %s: %w", id, err)
	}
	return &c, nil
}

// EnsureChannel upserts a channel by slug and returns its identifier.
// Used by the CMS ingestion path.
func (s *Store) EnsureChannel(ctx context.Context, slug, title string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`INSERT INTO channels (slug, title) VALUES ($1, $2)
		 ON CONFLICT (slug) DO UPDATE SET title = EXCLUDED.title
		 RETURNING id`,
		slug, title).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensuring channel %q: %w", slug, err)
	}
	return id, nil
}

// EnsureContributor upserts a contributor by its CMS-assigned identifier.
func (s *Store) EnsureContributor(ctx context.Context, c Contributor) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO contributors (id, legacy_user_id, name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
		    legacy_user_id = EXCLUDED.legacy_user_id,
		    name = EXCLUDED.name`,
		c.ID, c.LegacyUserID, c.Name)
	if err != nil {
		return fmt.Errorf("ensuring contributor %d: %w", c.ID, err)
	}
	return nil
}
