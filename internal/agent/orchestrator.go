// Package agent orchestrates one conversational request: admission control,
// the LLM tool-calling loop, concurrent sponsored retrieval, and the merge
// of both into a structured response.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/ratelimit"
	"github.com/lorekeep/lorekeep/internal/retrieve"
	"github.com/lorekeep/lorekeep/internal/thread"
)

const systemPrompt = `You are a knowledge-base assistant. Answer the user's
question using the ` + SearchToolName + ` tool to find relevant articles,
and cite the sources the tool returns. If no relevant article exists, say so
plainly instead of inventing content.`

// fallbackResponse is returned when the model produces no text at all.
const fallbackResponse = "I couldn't generate a response. Please try rephrasing your question."

const defaultMaxTurns = 5

// Request is one inbound conversational message.
type Request struct {
	ThreadID                string
	Prompt                  string
	OwnerID                 string
	SponsoredContributorIDs []int64
}

// SourceRef is a caller-facing citation.
type SourceRef struct {
	Title            string `json:"title"`
	Link             string `json:"link"`
	TruncatedContent string `json:"truncatedContent"`
}

// Response is the merged result of one request. Sources is nil when the
// model never consulted the search tool; an empty, non-nil slice means the
// tool ran and found nothing. Callers rely on that distinction, so the
// JSON tags use omitzero: an empty non-nil slice still serializes as [],
// only nil drops the key.
type Response struct {
	ThreadID         string      `json:"threadId"`
	ResponseText     string      `json:"responseText"`
	Sources          []SourceRef `json:"sources,omitzero"`
	SponsoredSources []SourceRef `json:"sponsoredSources,omitzero"`
}

// ThreadStore is the conversation persistence surface.
type ThreadStore interface {
	Resolve(ctx context.Context, id, ownerID string) (uuid.UUID, error)
	Append(ctx context.Context, threadID uuid.UUID, msgs ...thread.Message) error
	History(ctx context.Context, threadID uuid.UUID, limit int) ([]thread.Message, error)
}

// Admitter runs the two-scope admission gate.
type Admitter interface {
	Admit(ctx context.Context, conversationKey string) (*ratelimit.Rejection, error)
}

// SponsoredSearcher retrieves allowlisted sponsored articles.
type SponsoredSearcher interface {
	Retrieve(ctx context.Context, query string, contributorIDs []int64, limit int) []retrieve.Result
}

// Config assembles an Orchestrator.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string
	Threads   ThreadStore
	Limiter   Admitter
	Sponsored SponsoredSearcher

	// SearchTool is the pre-registered article search tool.
	SearchTool ai.Tool

	MaxTurns         int
	SponsoredLimit   int
	SponsoredTimeout time.Duration
	Logger           *slog.Logger
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	if cfg.Threads == nil {
		return errors.New("thread store is required")
	}
	if cfg.Limiter == nil {
		return errors.New("rate limiter is required")
	}
	if cfg.Sponsored == nil {
		return errors.New("sponsored retriever is required")
	}
	if cfg.SearchTool == nil {
		return errors.New("search tool is required")
	}
	return nil
}

// Orchestrator handles conversational requests. Stateless per request and
// safe for concurrent use; all configuration is captured at construction.
type Orchestrator struct {
	g                *genkit.Genkit
	modelName        string
	threads          ThreadStore
	limiter          Admitter
	sponsored        SponsoredSearcher
	searchTool       ai.Tool
	maxTurns         int
	sponsoredLimit   int
	sponsoredTimeout time.Duration
	logger           *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	sponsoredLimit := cfg.SponsoredLimit
	if sponsoredLimit <= 0 {
		sponsoredLimit = retrieve.DefaultSponsoredLimit
	}
	sponsoredTimeout := cfg.SponsoredTimeout
	if sponsoredTimeout <= 0 {
		sponsoredTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		g:                cfg.Genkit,
		modelName:        cfg.ModelName,
		threads:          cfg.Threads,
		limiter:          cfg.Limiter,
		sponsored:        cfg.Sponsored,
		searchTool:       cfg.SearchTool,
		maxTurns:         maxTurns,
		sponsoredLimit:   sponsoredLimit,
		sponsoredTimeout: sponsoredTimeout,
		logger:           logger,
	}, nil
}

// SendMessage runs one request end to end: resolve thread, admit, generate
// with the search tool while sponsored retrieval runs concurrently, merge.
//
// Fatal errors: ErrEmptyPrompt, thread resolution failures, *RateLimitError,
// and ErrGenerationFailed. Everything retrieval-internal degrades silently.
func (o *Orchestrator) SendMessage(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	threadID, err := o.threads.Resolve(ctx, req.ThreadID, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	rejection, err := o.limiter.Admit(ctx, threadID.String())
	if err != nil {
		return nil, fmt.Errorf("admission check: %w", err)
	}
	if rejection != nil {
		return nil, &RateLimitError{
			Scope:      rejection.Scope,
			RetryAfter: rejection.RetryAfter,
		}
	}

	// Sponsored retrieval fans out before generation so the wall-clock cost
	// is max(generation, sponsored), not the sum. Skipped entirely without
	// an allowlist.
	sponsoredCh := o.startSponsored(ctx, req.Prompt, req.SponsoredContributorIDs)

	text, sources, genErr := o.generate(ctx, threadID, req.Prompt)

	sponsoredSources := o.awaitSponsored(sponsoredCh)

	if genErr != nil {
		return nil, genErr
	}

	o.persist(ctx, threadID, req.Prompt, text, sources)

	return &Response{
		ThreadID:         threadID.String(),
		ResponseText:     text,
		Sources:          sources,
		SponsoredSources: sponsoredSources,
	}, nil
}

// generate runs the LLM tool-calling loop and extracts the organic sources
// from the recorded tool invocations.
func (o *Orchestrator) generate(ctx context.Context, threadID uuid.UUID, prompt string) (string, []SourceRef, error) {
	messages := o.loadHistory(ctx, threadID)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(prompt)))

	ctx, recorder := WithRecorder(ctx)

	resp, err := genkit.Generate(ctx, o.g,
		ai.WithModelName(o.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
		ai.WithTools(o.searchTool),
		ai.WithMaxTurns(o.maxTurns),
	)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		o.logger.Warn("model returned empty response", "thread_id", threadID)
		text = fallbackResponse
	}

	return text, extractSources(recorder), nil
}

// loadHistory converts the persisted message log into model messages.
// History failures degrade to an empty context rather than failing the
// request.
func (o *Orchestrator) loadHistory(ctx context.Context, threadID uuid.UUID) []*ai.Message {
	msgs, err := o.threads.History(ctx, threadID, 50)
	if err != nil {
		o.logger.Warn("loading history failed, continuing without context",
			"thread_id", threadID, "error", err)
		return nil
	}

	out := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case thread.RoleUser:
			out = append(out, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case thread.RoleAssistant:
			out = append(out, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		}
	}
	return out
}

// extractSources maps the last search tool invocation into source
// references. A nil return means the tool never ran, which callers must be
// able to tell apart from "ran and found nothing".
func extractSources(recorder *Recorder) []SourceRef {
	invocations := recorder.Invocations()
	for i := len(invocations) - 1; i >= 0; i-- {
		inv := invocations[i]
		if inv.ToolName != SearchToolName {
			continue
		}
		results, ok := inv.Result.([]retrieve.Result)
		if !ok {
			return nil
		}
		return toSourceRefs(results)
	}
	return nil
}

func toSourceRefs(results []retrieve.Result) []SourceRef {
	refs := make([]SourceRef, 0, len(results))
	for _, r := range results {
		refs = append(refs, SourceRef{
			Title:            r.Title,
			Link:             r.ReconstructedLink,
			TruncatedContent: retrieve.TruncateContent(r.Content),
		})
	}
	return refs
}

// startSponsored launches sponsored retrieval on its own goroutine. Returns
// nil when no allowlist was supplied. Panics inside the retrieval are
// contained here: sponsored placement must never take the organic response
// down with it.
func (o *Orchestrator) startSponsored(ctx context.Context, prompt string, contributorIDs []int64) <-chan []SourceRef {
	if len(contributorIDs) == 0 {
		return nil
	}

	ch := make(chan []SourceRef, 1)
	ctx, cancel := context.WithTimeout(ctx, o.sponsoredTimeout)

	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("sponsored retrieval panicked", "panic", r)
				ch <- nil
			}
		}()

		results := o.sponsored.Retrieve(ctx, prompt, contributorIDs, o.sponsoredLimit)
		ch <- toSourceRefs(results)
	}()

	return ch
}

// awaitSponsored fans the sponsored result back in. The goroutine bounds
// itself with the configured timeout, so this wait terminates.
func (o *Orchestrator) awaitSponsored(ch <-chan []SourceRef) []SourceRef {
	if ch == nil {
		return nil
	}
	refs := <-ch
	if len(refs) == 0 {
		return nil
	}
	return refs
}

// persist appends the exchange to the thread log. Best effort: a storage
// failure here is logged, never surfaced.
func (o *Orchestrator) persist(ctx context.Context, threadID uuid.UUID, prompt, text string, sources []SourceRef) {
	var sourcesJSON []byte
	if sources != nil {
		if data, err := json.Marshal(sources); err == nil {
			sourcesJSON = data
		} else {
			o.logger.Warn("marshaling sources failed", "error", err)
		}
	}

	err := o.threads.Append(ctx, threadID,
		thread.Message{Role: thread.RoleUser, Content: prompt},
		thread.Message{Role: thread.RoleAssistant, Content: text, Sources: sourcesJSON},
	)
	if err != nil {
		o.logger.Error("appending messages failed", "thread_id", threadID, "error", err)
	}
}
