package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/lorekeep/lorekeep/db"
	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/api"
	"github.com/lorekeep/lorekeep/internal/article"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/database"
	"github.com/lorekeep/lorekeep/internal/embed"
	"github.com/lorekeep/lorekeep/internal/ingest"
	"github.com/lorekeep/lorekeep/internal/observability"
	"github.com/lorekeep/lorekeep/internal/ratelimit"
	"github.com/lorekeep/lorekeep/internal/retrieve"
	"github.com/lorekeep/lorekeep/internal/thread"
	"github.com/lorekeep/lorekeep/internal/webhook"
)

// Setup creates and initializes the application. Returns an App with
// embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be wired before genkit.Init so the TracerProvider is
	// ready when the first span starts.
	a.otelShutdown = observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	gateway := embed.NewGateway(embedder, embed.Dimension, logger)

	a.Articles = article.NewStore(pool, logger)
	a.Threads = thread.NewStore(pool, logger)

	a.Limiter = provideLimiter(ratelimit.NewPostgresStore(pool), cfg, logger)

	retriever := retrieve.NewArticleRetriever(a.Articles, gateway, cfg.PublicBaseURL, logger)
	sponsored := retrieve.NewSponsoredRetriever(a.Articles, gateway, cfg.PublicBaseURL, logger)

	queueCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Queue = ingest.NewQueue(a.Articles, gateway, logger)
	a.Queue.Start(queueCtx)

	orchestrator, err := agent.New(agent.Config{
		Genkit:           g,
		ModelName:        cfg.ModelName,
		Threads:          a.Threads,
		Limiter:          a.Limiter,
		Sponsored:        sponsored,
		SearchTool:       agent.DefineSearchTool(g, retriever, logger),
		MaxTurns:         cfg.MaxTurns,
		SponsoredLimit:   cfg.SponsoredLimit,
		SponsoredTimeout: cfg.SponsoredTimeout,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orchestrator

	hook := webhook.NewHandler(a.Articles, a.Queue, cfg.WebhookSecret, logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Orchestrator: orchestrator,
		Retriever:    retriever,
		Limiter:      a.Limiter,
		Webhook:      hook,
		Pool:         pool,
		IsDev:        cfg.Environment == "development",
		TrustProxy:   cfg.TrustProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// Supports gemini (default) and ollama.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// The Ollama embedder is keyed by server address.
		return ollama.Embedder(g, cfg.OllamaHost)
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideLimiter builds the persisted admission-control limiter with the
// configured global and per-conversation scopes, plus the small fixed
// bucket the admin API uses for smoke checks.
func provideLimiter(store ratelimit.Store, cfg *config.Config, logger *slog.Logger) *ratelimit.Limiter {
	l := ratelimit.New(store, logger)
	l.Register(ratelimit.LimitGlobal, ratelimit.Config{
		Rate:     cfg.GlobalLimit.Rate,
		Period:   cfg.GlobalLimit.Period,
		Capacity: cfg.GlobalLimit.Capacity,
		Shards:   cfg.GlobalLimit.Shards,
	})
	l.Register(ratelimit.LimitConversation, ratelimit.Config{
		Rate:     cfg.ConversationLimit.Rate,
		Period:   cfg.ConversationLimit.Period,
		Capacity: cfg.ConversationLimit.Capacity,
		Shards:   cfg.ConversationLimit.Shards,
	})
	l.Register(ratelimit.LimitTest, ratelimit.Config{
		Rate:     5,
		Period:   time.Minute,
		Capacity: 5,
		Shards:   1,
	})
	return l
}
