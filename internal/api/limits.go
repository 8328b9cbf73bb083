package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lorekeep/lorekeep/internal/ratelimit"
)

// Limiter is the admission-control surface exposed to operators.
type Limiter interface {
	Check(ctx context.Context, name, key string) (ratelimit.Decision, error)
	Consume(ctx context.Context, name, key string, count float64) (ratelimit.Decision, error)
	Reset(ctx context.Context, name, key string) error
}

// limitHandler exposes the persisted token buckets for inspection and
// administration. These endpoints operate on the same buckets the
// conversational admission gate consults.
type limitHandler struct {
	limiter Limiter
	logger  *slog.Logger
}

// decisionBody is the JSON representation of a check or consume outcome.
type decisionBody struct {
	OK           bool  `json:"ok"`
	RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
}

// check handles GET /api/v1/limits/{name}/{key} — a non-consuming read of
// the bucket's current state.
func (h *limitHandler) check(w http.ResponseWriter, r *http.Request) {
	name, key := r.PathValue("name"), r.PathValue("key")

	d, err := h.limiter.Check(r.Context(), name, key)
	if err != nil {
		h.writeLimitError(w, name, err)
		return
	}

	WriteJSON(w, http.StatusOK, decisionBody{
		OK:           d.OK,
		RetryAfterMs: d.RetryAfter.Milliseconds(),
	}, h.logger)
}

// consumeRequest is the JSON body of a consume call. Count defaults to 1.
type consumeRequest struct {
	Count float64 `json:"count"`
}

// consume handles POST /api/v1/limits/{name}/{key}/consume.
func (h *limitHandler) consume(w http.ResponseWriter, r *http.Request) {
	name, key := r.PathValue("name"), r.PathValue("key")

	var req consumeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "malformed_body", "request body must be valid JSON", h.logger)
			return
		}
	}

	d, err := h.limiter.Consume(r.Context(), name, key, req.Count)
	if err != nil {
		h.writeLimitError(w, name, err)
		return
	}

	status := http.StatusOK
	if !d.OK {
		status = http.StatusTooManyRequests
	}
	WriteJSON(w, status, decisionBody{
		OK:           d.OK,
		RetryAfterMs: d.RetryAfter.Milliseconds(),
	}, h.logger)
}

// reset handles POST /api/v1/limits/{name}/{key}/reset — refills every shard
// of the bucket to capacity.
func (h *limitHandler) reset(w http.ResponseWriter, r *http.Request) {
	name, key := r.PathValue("name"), r.PathValue("key")

	if err := h.limiter.Reset(r.Context(), name, key); err != nil {
		h.writeLimitError(w, name, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *limitHandler) writeLimitError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, ratelimit.ErrUnknownLimit) {
		WriteError(w, http.StatusNotFound, "unknown_limit", "no such limit: "+name, h.logger)
		return
	}
	h.logger.Error("limit operation failed", "limit", name, "error", err)
	WriteError(w, http.StatusInternalServerError, "limit_failed", "limit operation failed", h.logger)
}
