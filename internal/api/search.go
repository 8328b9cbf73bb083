package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lorekeep/lorekeep/internal/retrieve"
)

// maxSearchQueryLength is the maximum allowed search query length in bytes.
const maxSearchQueryLength = 1000

// maxSearchLimit caps the result count a caller may request.
const maxSearchLimit = 50

// Retriever answers organic article queries.
type Retriever interface {
	Retrieve(ctx context.Context, query string, f retrieve.Filters, limit int) []retrieve.Result
}

// searchHandler holds dependencies for the article search endpoint.
type searchHandler struct {
	retriever Retriever
	logger    *slog.Logger
}

// search handles GET /api/v1/articles/search?q=...&channel=...&status=...&limit=10.
// Retrieval degrades internally, so the response is always 200 with zero or
// more items once the query validates.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		WriteError(w, http.StatusBadRequest, "missing_query", "query parameter 'q' is required", h.logger)
		return
	}
	if len(query) > maxSearchQueryLength {
		WriteError(w, http.StatusBadRequest, "query_too_long", "query must be 1000 characters or fewer", h.logger)
		return
	}

	limit := min(parseIntParam(r, "limit", retrieve.DefaultLimit), maxSearchLimit)
	filters := retrieve.Filters{
		Channel: r.URL.Query().Get("channel"),
		Status:  r.URL.Query().Get("status"),
	}

	results := h.retriever.Retrieve(r.Context(), query, filters, limit)
	if results == nil {
		results = []retrieve.Result{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"items": results,
		"count": len(results),
	}, h.logger)
}

// parseIntParam reads an integer query parameter, falling back to def on
// absence or garbage.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
