package config

import (
	"fmt"
	"net/url"
)

// validSSLModes are the PostgreSQL SSL modes accepted by pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the configuration for the serve command.
// Returns the first violation wrapped around its sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (expected gemini or ollama)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.PublicBaseURL)
	}

	if err := c.GlobalLimit.validate("global"); err != nil {
		return err
	}
	if err := c.ConversationLimit.validate("conversation"); err != nil {
		return err
	}

	if c.WebhookSecret == "" {
		return ErrMissingWebhookSecret
	}

	return nil
}

// validate checks a single rate-limit scope.
func (rl RateLimitConfig) validate(name string) error {
	if rl.Rate <= 0 {
		return fmt.Errorf("%w: %s rate must be positive, got %v", ErrInvalidRateLimit, name, rl.Rate)
	}
	if rl.Period <= 0 {
		return fmt.Errorf("%w: %s period must be positive, got %v", ErrInvalidRateLimit, name, rl.Period)
	}
	if rl.Capacity <= 0 {
		return fmt.Errorf("%w: %s capacity must be positive, got %v", ErrInvalidRateLimit, name, rl.Capacity)
	}
	if rl.Shards < 1 {
		return fmt.Errorf("%w: %s shards must be at least 1, got %d", ErrInvalidRateLimit, name, rl.Shards)
	}
	return nil
}
