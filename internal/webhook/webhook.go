// Package webhook ingests CMS change notifications and keeps the article
// store in sync.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/article"
)

// SecretHeader carries the shared secret on every CMS request.
const SecretHeader = "X-Webhook-Secret"

// maxBodyBytes bounds the webhook payload; CMS articles are text.
const maxBodyBytes = 4 << 20

// Payload is the CMS notification body.
type Payload struct {
	Event   string         `json:"event"`
	Article PayloadArticle `json:"article"`
}

// PayloadArticle mirrors the CMS article shape.
type PayloadArticle struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Subtitle    string              `json:"subtitle"`
	Body        string              `json:"body"`
	Slug        string              `json:"slug"`
	Status      int16               `json:"status"`
	PublishedAt *time.Time          `json:"publishedAt"`
	Channel     *PayloadChannel     `json:"channel"`
	Contributor *PayloadContributor `json:"contributor"`
}

// PayloadChannel identifies the article's channel.
type PayloadChannel struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// PayloadContributor identifies the article's author.
type PayloadContributor struct {
	ID           int64  `json:"id"`
	LegacyUserID *int64 `json:"legacyUserId"`
	Name         string `json:"name"`
}

// Store is the ingestion surface of the article store.
type Store interface {
	Upsert(ctx context.Context, a *article.Article) (uuid.UUID, error)
	EnsureChannel(ctx context.Context, slug, title string) (uuid.UUID, error)
	EnsureContributor(ctx context.Context, c article.Contributor) error
}

// Enqueuer submits an article for background embedding.
type Enqueuer interface {
	Enqueue(id uuid.UUID) bool
}

// Handler accepts CMS webhook deliveries.
type Handler struct {
	store  Store
	queue  Enqueuer
	secret string
	logger *slog.Logger
}

// NewHandler creates a Handler. secret must match the CMS configuration.
func NewHandler(store Store, queue Enqueuer, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, queue: queue, secret: secret, logger: logger}
}

// ServeHTTP handles POST deliveries. The article is upserted synchronously;
// embedding happens asynchronously, so the article may be absent from
// search until the queue catches up.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(SecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		h.logger.Warn("webhook rejected: bad secret", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var p Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if p.Article.ID == "" || p.Article.Title == "" {
		http.Error(w, "article id and title are required", http.StatusBadRequest)
		return
	}

	id, err := h.ingest(r.Context(), &p)
	if err != nil {
		h.logger.Error("webhook ingestion failed",
			"event", p.Event, "source_id", p.Article.ID, "error", err)
		http.Error(w, "ingestion failed", http.StatusInternalServerError)
		return
	}

	h.queue.Enqueue(id)
	h.logger.Info("article ingested",
		"event", p.Event, "article", id, "source_id", p.Article.ID)

	w.WriteHeader(http.StatusAccepted)
}

// ingest maps the payload onto the store.
func (h *Handler) ingest(ctx context.Context, p *Payload) (uuid.UUID, error) {
	a := &article.Article{
		SourceID:    p.Article.ID,
		Title:       p.Article.Title,
		Subtitle:    p.Article.Subtitle,
		Body:        p.Article.Body,
		Link:        p.Article.Slug,
		Status:      p.Article.Status,
		PublishedAt: p.Article.PublishedAt,
	}

	if c := p.Article.Channel; c != nil && c.Slug != "" {
		channelID, err := h.store.EnsureChannel(ctx, c.Slug, c.Title)
		if err != nil {
			return uuid.Nil, err
		}
		a.ChannelID = &channelID
	}

	if c := p.Article.Contributor; c != nil {
		err := h.store.EnsureContributor(ctx, article.Contributor{
			ID:           c.ID,
			LegacyUserID: c.LegacyUserID,
			Name:         c.Name,
		})
		if err != nil {
			return uuid.Nil, err
		}
		a.ContributorID = &c.ID
	}

	return h.store.Upsert(ctx, a)
}
