package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		Provider:        ProviderGemini,
		ModelName:       "gemini-2.5-flash",
		EmbedderModel:   "gemini-embedding-001",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresUser:    "lorekeep",
		PostgresDBName:  "lorekeep",
		PostgresSSLMode: "disable",
		PublicBaseURL:   "https://lorekeep.example.com",
		WebhookSecret:   "s3cret",
		GlobalLimit:     RateLimitConfig{Rate: 100, Period: time.Minute, Capacity: 200, Shards: 4},
		ConversationLimit: RateLimitConfig{
			Rate: 10, Period: time.Minute, Capacity: 10, Shards: 1,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"bad provider", func(c *Config) { c.Provider = "cohere" }, ErrInvalidProvider},
		{"empty model", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"empty embedder", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"empty host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"bad port", func(c *Config) { c.PostgresPort = 0 }, ErrInvalidPostgresPort},
		{"empty dbname", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"bad sslmode", func(c *Config) { c.PostgresSSLMode = "maybe" }, ErrInvalidPostgresSSLMode},
		{"bad base url", func(c *Config) { c.PublicBaseURL = "not a url" }, ErrInvalidBaseURL},
		{"zero rate", func(c *Config) { c.GlobalLimit.Rate = 0 }, ErrInvalidRateLimit},
		{"zero capacity", func(c *Config) { c.ConversationLimit.Capacity = 0 }, ErrInvalidRateLimit},
		{"zero shards", func(c *Config) { c.GlobalLimit.Shards = 0 }, ErrInvalidRateLimit},
		{"no webhook secret", func(c *Config) { c.WebhookSecret = "" }, ErrMissingWebhookSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	if !errors.Is(cfg.Validate(), ErrConfigNil) {
		t.Error("nil config must return ErrConfigNil")
	}
}

func TestPostgresConnectionString_QuotesPassword(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "pa's word"

	dsn := cfg.PostgresConnectionString()
	if !strings.Contains(dsn, `password='pa\'s word'`) {
		t.Errorf("password not quoted in DSN: %s", dsn)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "p@ss"

	u := cfg.PostgresURL()
	if !strings.HasPrefix(u, "postgres://") {
		t.Errorf("unexpected scheme: %s", u)
	}
	if !strings.Contains(u, "sslmode=disable") {
		t.Errorf("missing sslmode: %s", u)
	}
}

func TestParseDatabaseURL_Override(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://alice:pw@db.internal:6543/kb?sslmode=require")

	cfg := validConfig()
	if err := cfg.parseDatabaseURL(); err != nil {
		t.Fatalf("parseDatabaseURL: %v", err)
	}

	if cfg.PostgresHost != "db.internal" {
		t.Errorf("host = %q", cfg.PostgresHost)
	}
	if cfg.PostgresPort != 6543 {
		t.Errorf("port = %d", cfg.PostgresPort)
	}
	if cfg.PostgresUser != "alice" || cfg.PostgresPassword != "pw" {
		t.Errorf("credentials not applied: %q/%q", cfg.PostgresUser, cfg.PostgresPassword)
	}
	if cfg.PostgresDBName != "kb" {
		t.Errorf("dbname = %q", cfg.PostgresDBName)
	}
	if cfg.PostgresSSLMode != "require" {
		t.Errorf("sslmode = %q", cfg.PostgresSSLMode)
	}
}

func TestParseDatabaseURL_BadScheme(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://root@localhost/db")

	cfg := validConfig()
	if err := cfg.parseDatabaseURL(); err == nil {
		t.Error("expected error for non-postgres scheme")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Provider != ProviderGemini {
		t.Errorf("default provider = %q", cfg.Provider)
	}
	if cfg.GlobalLimit.Shards != 4 {
		t.Errorf("default global shards = %d", cfg.GlobalLimit.Shards)
	}
	if cfg.ConversationLimit.Shards != 1 {
		t.Errorf("default conversation shards = %d", cfg.ConversationLimit.Shards)
	}
	if cfg.SponsoredTimeout <= 0 {
		t.Errorf("default sponsored timeout = %v", cfg.SponsoredTimeout)
	}
}
