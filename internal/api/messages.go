package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/thread"
)

// maxMessageBodyBytes bounds the inbound message payload.
const maxMessageBodyBytes = 1 << 20

// Conversationalist runs one conversational request end to end.
type Conversationalist interface {
	SendMessage(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// messageHandler holds dependencies for the conversation endpoint.
type messageHandler struct {
	orchestrator Conversationalist
	logger       *slog.Logger
}

// messageRequest is the JSON body of POST /api/v1/messages.
type messageRequest struct {
	ThreadID                string  `json:"threadId"`
	Prompt                  string  `json:"prompt"`
	OwnerID                 string  `json:"ownerId"`
	SponsoredContributorIDs []int64 `json:"sponsoredContributorIds"`
}

// rateLimitedBody extends the error contract with admission-control details
// so clients can back off per scope.
type rateLimitedBody struct {
	Error        errorDetail `json:"error"`
	Scope        string      `json:"scope"`
	RetryAfterMs int64       `json:"retryAfterMs"`
}

// send handles POST /api/v1/messages.
func (h *messageHandler) send(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBodyBytes))
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed_body", "request body must be valid JSON", h.logger)
		return
	}

	resp, err := h.orchestrator.SendMessage(r.Context(), agent.Request{
		ThreadID:                req.ThreadID,
		Prompt:                  req.Prompt,
		OwnerID:                 req.OwnerID,
		SponsoredContributorIDs: req.SponsoredContributorIDs,
	})
	if err != nil {
		h.writeSendError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, resp, h.logger)
}

// writeSendError maps the orchestrator error taxonomy onto HTTP statuses.
func (h *messageHandler) writeSendError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *agent.RateLimitError
	switch {
	case errors.Is(err, agent.ErrEmptyPrompt):
		WriteError(w, http.StatusBadRequest, "empty_prompt", "prompt must not be empty", h.logger)

	case errors.Is(err, thread.ErrInvalidID):
		WriteError(w, http.StatusBadRequest, "invalid_thread", "thread ID is not a valid UUID", h.logger)

	case errors.Is(err, thread.ErrNotFound):
		WriteError(w, http.StatusNotFound, "thread_not_found", "thread does not exist", h.logger)

	case errors.As(err, &rle):
		// Retry-After carries whole seconds, rounded up; the body carries
		// the precise value.
		seconds := int64(math.Ceil(rle.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		WriteJSON(w, http.StatusTooManyRequests, rateLimitedBody{
			Error:        errorDetail{Code: "rate_limited", Message: "request rate limit exceeded"},
			Scope:        rle.Scope,
			RetryAfterMs: rle.RetryAfter.Milliseconds(),
		}, h.logger)

	case errors.Is(err, agent.ErrGenerationFailed):
		h.logger.Error("generation failed", "error", err, "path", r.URL.Path)
		WriteError(w, http.StatusBadGateway, "generation_failed", "the model could not produce a response", h.logger)

	default:
		h.logger.Error("message handling failed", "error", err, "path", r.URL.Path)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}
