// Package api is the JSON HTTP surface: conversational messages, article
// search, the CMS webhook, and the admission-control admin endpoints.
//
// Error contract for every endpoint:
//
//	{"error": {"code": "...", "message": "..."}}
//
// Rate-limited responses additionally carry "scope" and "retryAfterMs".
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       *slog.Logger
	Orchestrator Conversationalist // Required
	Retriever    Retriever         // Required
	Limiter      Limiter           // Optional: nil disables the limits admin API
	Webhook      http.Handler      // Optional: nil disables the CMS webhook
	Pool         *pgxpool.Pool     // Optional: nil disables pool stats in /ready
	IsDev        bool              // Disables HSTS (no HTTPS in dev)
	TrustProxy   bool              // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst    int               // Per-IP burst size (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	// Conversation
	mh := &messageHandler{orchestrator: cfg.Orchestrator, logger: logger}
	mux.HandleFunc("POST /api/v1/messages", mh.send)

	// Article search
	sh := &searchHandler{retriever: cfg.Retriever, logger: logger}
	mux.HandleFunc("GET /api/v1/articles/search", sh.search)

	// Admission-control administration (optional)
	if cfg.Limiter != nil {
		lh := &limitHandler{limiter: cfg.Limiter, logger: logger}
		mux.HandleFunc("GET /api/v1/limits/{name}/{key}", lh.check)
		mux.HandleFunc("POST /api/v1/limits/{name}/{key}/consume", lh.consume)
		mux.HandleFunc("POST /api/v1/limits/{name}/{key}/reset", lh.reset)
	}

	// CMS webhook (optional)
	if cfg.Webhook != nil {
		mux.Handle("POST /api/v1/webhooks/cms", cfg.Webhook)
	}

	// Per-IP throttle: 1 token/sec refill.
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
