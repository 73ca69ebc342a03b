package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validSSLModes are the sslmode values pgx accepts.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for invalid values, failing fast with a
// sentinel error per field so callers can errors.Is on the cause.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if err := validateHostURL(c.OllamaHost); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOllamaHost, err)
		}
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)", ErrInvalidProvider, c.Provider, ProviderOpenAI, ProviderOllama)
	}

	if strings.TrimSpace(c.EmbeddingModelID) == "" {
		return fmt.Errorf("%w: embedding model must not be empty", ErrInvalidEmbeddingModel)
	}
	if c.EmbeddingDimension <= 0 || c.EmbeddingDimension > MaxEmbeddingDimension {
		return fmt.Errorf("%w: %d (expected 1..%d)", ErrInvalidEmbeddingDimension, c.EmbeddingDimension, MaxEmbeddingDimension)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.EmbedRatePerSecond <= 0 {
		return fmt.Errorf("%w: embed_rate_per_second must be positive, got %g", ErrInvalidQueueLimits, c.EmbedRatePerSecond)
	}
	if c.EmbedBurst < 1 {
		return fmt.Errorf("%w: embed_burst must be at least 1, got %d", ErrInvalidQueueLimits, c.EmbedBurst)
	}
	if c.EmbedMaxBatchSize < 1 {
		return fmt.Errorf("%w: embed_max_batch_size must be at least 1, got %d", ErrInvalidQueueLimits, c.EmbedMaxBatchSize)
	}
	if c.EmbedMaxBatchToken < 1 {
		return fmt.Errorf("%w: embed_max_batch_tokens must be at least 1, got %d", ErrInvalidQueueLimits, c.EmbedMaxBatchToken)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be at least 1, got %d", ErrInvalidQueueLimits, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidQueueLimits, c.ChunkOverlap)
	}

	return nil
}

// validateHostURL checks that s parses as an http(s) URL with a host.
func validateHostURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", s)
	}
	return nil
}
