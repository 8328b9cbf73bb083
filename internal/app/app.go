// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles every component: configuration,
// Genkit, the database pool, stores, retrievers, admission control, the
// embedding queue, the orchestrator, and the HTTP server.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/api"
	"github.com/lorekeep/lorekeep/internal/article"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/ingest"
	"github.com/lorekeep/lorekeep/internal/ratelimit"
	"github.com/lorekeep/lorekeep/internal/thread"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit       *genkit.Genkit
	Pool         *pgxpool.Pool
	Articles     *article.Store
	Threads      *thread.Store
	Limiter      *ratelimit.Limiter
	Queue        *ingest.Queue
	Orchestrator *agent.Orchestrator
	Server       *api.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// Close gracefully shuts down all resources in reverse construction order:
// stop accepting embedding work, flush traces, then release the pool.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.Queue != nil {
		a.Queue.Close()
		a.Logger.Info("embedding queue drained")
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}

	return nil
}
