// Package observability wires OpenTelemetry tracing into the Genkit runtime.
//
// Spans from the generation pipeline (model calls, tool invocations) are
// produced by Genkit's own TracerProvider; this package attaches an OTLP
// HTTP exporter to it so they reach a collector. An empty endpoint disables
// export entirely, which is the default for local development.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for trace export.
type Config struct {
	// Endpoint is the OTLP HTTP collector address, e.g. "localhost:4318".
	// Empty disables export.
	Endpoint string
	// ServiceName appears on every exported span.
	ServiceName string
	// Environment tags spans with the deployment environment.
	Environment string
}

// Setup attaches an OTLP exporter to Genkit's TracerProvider. Must run
// before genkit.Init so the provider is ready when the first span starts.
//
// Returns a shutdown function that flushes pending spans; it is always
// non-nil and safe to call.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		return noop
	}

	// Genkit's TracerProvider reads these at span creation. Setenv is not
	// concurrent-safe, but Setup runs exactly once during startup before
	// any goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return noop
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown
}
