package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// health is a liveness probe for Docker/Kubernetes. Returns 200 OK with
// {"status":"ok"} without touching any dependency.
func health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the server can actually serve traffic: the
// database must answer a ping. A nil pool degrades to liveness semantics.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}

		stats := pool.Stat()
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"totalConns":      stats.TotalConns(),
			"idleConns":       stats.IdleConns(),
			"acquiredConns":   stats.AcquiredConns(),
			"maxConns":        stats.MaxConns(),
			"newConnsCount":   stats.NewConnsCount(),
			"acquireDuration": stats.AcquireDuration().String(),
		})
	})
}
