// Package embed wraps the text-embedding model behind a small gateway.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/lorekeep/lorekeep/internal/article"
)

const (
	// Dimension is the embedding width stored in the articles table.
	Dimension = 1536

	// MaxInputChars caps the text sent to the embedding model. Longer
	// articles are truncated first, so their stored embedding is an
	// approximation of the full content, not an exact representation.
	MaxInputChars = 17000

	defaultTimeout = 10 * time.Second
)

var (
	// ErrEmptyEmbedding indicates the model returned no vector.
	ErrEmptyEmbedding = errors.New("embed: empty embedding returned")

	// ErrDimensionMismatch indicates the model returned a vector of an
	// unexpected width.
	ErrDimensionMismatch = errors.New("embed: dimension mismatch")
)

// Gateway converts text into fixed-width vectors. Safe for concurrent use.
type Gateway struct {
	embedder ai.Embedder
	dim      int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGateway creates a Gateway. dim <= 0 selects the production Dimension;
// tests pass a small dim to keep vectors readable. A nil logger falls back
// to slog.Default.
func NewGateway(embedder ai.Embedder, dim int, logger *slog.Logger) *Gateway {
	if dim <= 0 {
		dim = Dimension
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		embedder: embedder,
		dim:      dim,
		timeout:  defaultTimeout,
		logger:   logger,
	}
}

// Embed converts text into a vector. Input longer than MaxInputChars is
// truncated before the call. The returned vector always has the configured
// dimension.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, MaxInputChars)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generating embedding: %w", err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != g.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), g.dim)
	}
	return vec, nil
}

// EmbedArticle embeds an article's composed content.
func (g *Gateway) EmbedArticle(ctx context.Context, a *article.Article) ([]float32, error) {
	return g.Embed(ctx, ArticleText(a))
}

// ArticleText composes the text an article is embedded from: title, body,
// subtitle, and link slug, in that order.
func ArticleText(a *article.Article) string {
	parts := []string{a.Title, a.Body}
	if a.Subtitle != "" {
		parts = append(parts, a.Subtitle)
	}
	if a.Link != "" {
		parts = append(parts, a.Link)
	}
	return strings.Join(parts, "\n\n")
}

// Truncate cuts s to at most max characters, never splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
