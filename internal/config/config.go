// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (LOREKEEP_* prefix, DATABASE_URL override)
//  2. Config file (~/.lorekeep/config.yaml)
//  3. Default values
//
// Sensitive values (the Postgres password, the webhook secret) are never
// logged; validation lives in validation.go and uses sentinel errors so
// callers can match with errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidBaseURL indicates the public base URL is malformed.
	ErrInvalidBaseURL = errors.New("invalid public base URL")

	// ErrInvalidRateLimit indicates a rate-limit setting is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit configuration")

	// ErrMissingWebhookSecret indicates the CMS webhook secret is not set.
	ErrMissingWebhookSecret = errors.New("missing webhook secret")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// RateLimitConfig tunes one named token-bucket limit.
type RateLimitConfig struct {
	Rate     float64       `mapstructure:"rate"`     // tokens added per period
	Period   time.Duration `mapstructure:"period"`   // refill period
	Capacity float64       `mapstructure:"capacity"` // maximum burst
	Shards   int           `mapstructure:"shards"`   // parallel sub-buckets (global scope only)
}

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider"`       // "gemini" (default) or "ollama"
	ModelName     string `mapstructure:"model_name"`     // e.g. "gemini-2.5-flash"
	EmbedderModel string `mapstructure:"embedder_model"` // e.g. "gemini-embedding-001"
	OllamaHost    string `mapstructure:"ollama_host"`
	MaxTurns      int    `mapstructure:"max_turns"` // maximum agentic loop turns

	// PostgreSQL connection (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Public site base URL used to reconstruct article links, e.g.
	// "https://lorekeep.example.com".
	PublicBaseURL string `mapstructure:"public_base_url"`

	// CMS webhook shared secret (X-Webhook-Secret header).
	WebhookSecret string `mapstructure:"webhook_secret"`

	// HTTP server
	HTTPAddr   string `mapstructure:"http_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy"`

	// Admission control scopes
	GlobalLimit       RateLimitConfig `mapstructure:"global_limit"`
	ConversationLimit RateLimitConfig `mapstructure:"conversation_limit"`

	// Sponsored retrieval
	SponsoredLimit   int           `mapstructure:"sponsored_limit"`   // top-K sponsored results
	SponsoredTimeout time.Duration `mapstructure:"sponsored_timeout"` // fan-out deadline

	// Tracing (optional; empty endpoint disables export)
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	Environment  string `mapstructure:"environment"`
}

// configDirName is the directory under $HOME holding the config file.
const configDirName = ".lorekeep"

// Load reads configuration from defaults, the config file, and environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, configDirName))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("LOREKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults plus env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers sensible defaults for a local development setup.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("max_turns", 5)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "lorekeep")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "lorekeep")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("public_base_url", "http://localhost:3000")
	v.SetDefault("http_addr", "localhost:8080")

	v.SetDefault("global_limit.rate", 100.0)
	v.SetDefault("global_limit.period", time.Minute)
	v.SetDefault("global_limit.capacity", 200.0)
	v.SetDefault("global_limit.shards", 4)

	v.SetDefault("conversation_limit.rate", 10.0)
	v.SetDefault("conversation_limit.period", time.Minute)
	v.SetDefault("conversation_limit.capacity", 10.0)
	v.SetDefault("conversation_limit.shards", 1)

	v.SetDefault("sponsored_limit", 3)
	v.SetDefault("sponsored_timeout", 5*time.Second)

	v.SetDefault("service_name", "lorekeep")
	v.SetDefault("environment", "development")
}
