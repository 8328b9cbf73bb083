package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/log"
	"github.com/lorekeep/lorekeep/internal/ratelimit"
	"github.com/lorekeep/lorekeep/internal/retrieve"
	"github.com/lorekeep/lorekeep/internal/thread"
)

// fakeOrchestrator returns a canned response or error.
type fakeOrchestrator struct {
	resp *agent.Response
	err  error
	got  agent.Request
}

func (f *fakeOrchestrator) SendMessage(_ context.Context, req agent.Request) (*agent.Response, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeRetriever returns fixed results.
type fakeRetriever struct {
	results []retrieve.Result
	gotQ    string
	gotF    retrieve.Filters
	gotN    int
}

func (f *fakeRetriever) Retrieve(_ context.Context, q string, filters retrieve.Filters, limit int) []retrieve.Result {
	f.gotQ, f.gotF, f.gotN = q, filters, limit
	return f.results
}

func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l := ratelimit.New(ratelimit.NewMemoryStore(), log.NewNop())
	l.Register(ratelimit.LimitTest, ratelimit.Config{
		Rate:     1,
		Period:   time.Hour,
		Capacity: 2,
		Shards:   1,
	})
	return l
}

type fixture struct {
	server       *Server
	orchestrator *fakeOrchestrator
	retriever    *fakeRetriever
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		orchestrator: &fakeOrchestrator{resp: &agent.Response{ThreadID: "t", ResponseText: "ok"}},
		retriever:    &fakeRetriever{},
	}

	srv, err := NewServer(ServerConfig{
		Logger:       log.NewNop(),
		Orchestrator: f.orchestrator,
		Retriever:    f.retriever,
		Limiter:      newTestLimiter(t),
		IsDev:        true,
		RateBurst:    1000,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f.server = srv
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code, body.Error.Message
}

func TestMessages_Success(t *testing.T) {
	f := newFixture(t)
	f.orchestrator.resp = &agent.Response{
		ThreadID:     "3f0b7d9e-0000-0000-0000-000000000001",
		ResponseText: "hello back",
		Sources:      []agent.SourceRef{{Title: "A", Link: "https://x/a"}},
	}

	rec := f.do(t, http.MethodPost, "/api/v1/messages",
		`{"prompt":"hello","threadId":"","sponsoredContributorIds":[7]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp agent.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ResponseText != "hello back" || len(resp.Sources) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if len(f.orchestrator.got.SponsoredContributorIDs) != 1 || f.orchestrator.got.SponsoredContributorIDs[0] != 7 {
		t.Errorf("forwarded allowlist = %v", f.orchestrator.got.SponsoredContributorIDs)
	}
}

func TestMessages_MalformedBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/messages", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != "malformed_body" {
		t.Errorf("code = %q", code)
	}
}

func TestMessages_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"empty prompt", agent.ErrEmptyPrompt, http.StatusBadRequest, "empty_prompt"},
		{"invalid thread", thread.ErrInvalidID, http.StatusBadRequest, "invalid_thread"},
		{"unknown thread", thread.ErrNotFound, http.StatusNotFound, "thread_not_found"},
		{"generation failed", agent.ErrGenerationFailed, http.StatusBadGateway, "generation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orchestrator.err = tt.err

			rec := f.do(t, http.MethodPost, "/api/v1/messages", `{"prompt":"x"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if code, _ := decodeError(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestMessages_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.orchestrator.err = &agent.RateLimitError{
		Scope:      "conversation",
		RetryAfter: 2500 * time.Millisecond,
	}

	rec := f.do(t, http.MethodPost, "/api/v1/messages", `{"prompt":"x"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want %q (seconds, rounded up)", got, "3")
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Scope        string `json:"scope"`
		RetryAfterMs int64  `json:"retryAfterMs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error.Code != "rate_limited" || body.Scope != "conversation" || body.RetryAfterMs != 2500 {
		t.Errorf("body = %+v", body)
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/articles/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != "missing_query" {
		t.Errorf("code = %q", code)
	}
}

func TestSearch_ReturnsItems(t *testing.T) {
	f := newFixture(t)
	f.retriever.results = []retrieve.Result{{Title: "A"}, {Title: "B"}}

	rec := f.do(t, http.MethodGet, "/api/v1/articles/search?q=retirement&channel=finance&status=1&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if f.retriever.gotQ != "retirement" {
		t.Errorf("query = %q", f.retriever.gotQ)
	}
	if f.retriever.gotF.Channel != "finance" || f.retriever.gotF.Status != "1" {
		t.Errorf("filters = %+v", f.retriever.gotF)
	}
	if f.retriever.gotN != 5 {
		t.Errorf("limit = %d", f.retriever.gotN)
	}

	var body struct {
		Items []retrieve.Result `json:"items"`
		Count int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 2 || len(body.Items) != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestSearch_EmptyResultIsEmptyArray(t *testing.T) {
	f := newFixture(t)
	f.retriever.results = nil

	rec := f.do(t, http.MethodGet, "/api/v1/articles/search?q=nothing", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("body = %s, want empty items array", rec.Body.String())
	}
}

func TestLimits_CheckConsumeReset(t *testing.T) {
	f := newFixture(t)

	// Fresh bucket reads full.
	rec := f.do(t, http.MethodGet, "/api/v1/limits/test/alpha", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("check status = %d", rec.Code)
	}
	var d decisionBody
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decoding decision: %v", err)
	}
	if !d.OK {
		t.Error("fresh bucket must pass a check")
	}

	// Capacity 2: two consumes succeed, the third is refused.
	for i := range 2 {
		rec = f.do(t, http.MethodPost, "/api/v1/limits/test/alpha/consume", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("consume %d status = %d", i+1, rec.Code)
		}
	}
	rec = f.do(t, http.MethodPost, "/api/v1/limits/test/alpha/consume", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted consume status = %d, want 429", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decoding decision: %v", err)
	}
	if d.OK || d.RetryAfterMs <= 0 {
		t.Errorf("decision = %+v, want rejection with retry hint", d)
	}

	// Reset refills to capacity.
	rec = f.do(t, http.MethodPost, "/api/v1/limits/test/alpha/reset", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/limits/test/alpha/consume", "")
	if rec.Code != http.StatusOK {
		t.Errorf("consume after reset status = %d", rec.Code)
	}
}

func TestLimits_UnknownName(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/limits/no-such/alpha", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != "unknown_limit" {
		t.Errorf("code = %q", code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestReady_NilPool(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNewServer_RequiresOrchestrator(t *testing.T) {
	_, err := NewServer(ServerConfig{Retriever: &fakeRetriever{}, Logger: log.NewNop()})
	if err == nil {
		t.Fatal("NewServer accepted a nil orchestrator")
	}
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/articles/search?q=x", "")
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	// Dev mode: no HSTS.
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want unset in dev", got)
	}
}
