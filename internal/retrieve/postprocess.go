package retrieve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/article"
)

// MaxSourceContentChars caps the content excerpt in a source reference.
const MaxSourceContentChars = 300

// postprocessor turns stored articles into LLM-ready results: it
// reconstructs the public URL and suffixes the content with a source line.
type postprocessor struct {
	store   Store
	baseURL string
	logger  *slog.Logger
}

func newPostprocessor(store Store, baseURL string, logger *slog.Logger) *postprocessor {
	return &postprocessor{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

func (p *postprocessor) process(ctx context.Context, articles []article.Article) []Result {
	if len(articles) == 0 {
		return nil
	}

	// Channel lookups repeat across results from the same channel.
	slugs := make(map[uuid.UUID]string)

	out := make([]Result, 0, len(articles))
	for i := range articles {
		a := &articles[i]
		url := p.publicURL(ctx, a, slugs)

		content := a.Body
		if url != "" {
			content += " (Source: " + url + ")"
		}

		out = append(out, Result{
			ID:                a.ID,
			Title:             a.Title,
			Subtitle:          a.Subtitle,
			Content:           content,
			Link:              a.Link,
			ReconstructedLink: url,
		})
	}
	return out
}

// publicURL composes baseURL, the channel slug, and the article link slug.
// When the channel cannot be resolved the channel segment is omitted rather
// than failing the whole result.
func (p *postprocessor) publicURL(ctx context.Context, a *article.Article, slugs map[uuid.UUID]string) string {
	if a.Link == "" {
		return ""
	}

	var channelSlug string
	if a.ChannelID != nil {
		slug, ok := slugs[*a.ChannelID]
		if !ok {
			ch, err := p.store.ChannelByID(ctx, *a.ChannelID)
			if err != nil {
				p.logger.Warn("channel resolution failed, omitting channel segment",
					"article", a.ID, "channel_id", *a.ChannelID, "error", err)
			} else {
				slug = ch.Slug
			}
			slugs[*a.ChannelID] = slug
		}
		channelSlug = slug
	}

	if channelSlug == "" {
		return p.baseURL + "/" + strings.TrimLeft(a.Link, "/")
	}
	return p.baseURL + "/" + channelSlug + "/" + strings.TrimLeft(a.Link, "/")
}

// TruncateContent cuts content to MaxSourceContentChars characters, marking
// the cut with an ellipsis. Stable: the same input always yields the same
// output.
func TruncateContent(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxSourceContentChars {
		return s
	}
	return string(runes[:MaxSourceContentChars]) + "..."
}
