// Package config provides application configuration with multi-source priority.
//
// Sources, highest to lowest:
//  1. Environment variables
//  2. Config file (~/.lodestone/config.yaml or ./config.yaml)
//  3. Defaults
//
// The Config value is passed into components at construction time. The
// active embedding model in particular is never read from a global cache:
// the engine receives it per call, and Reload is the explicit invalidation
// hook for processes that change the model at runtime.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the embedding provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidEmbeddingModel indicates the embedding model id is empty.
	ErrInvalidEmbeddingModel = errors.New("invalid embedding model")

	// ErrInvalidEmbeddingDimension indicates the dimension is out of range.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidQueueLimits indicates embed queue limits are out of range.
	ErrInvalidQueueLimits = errors.New("invalid embed queue limits")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// Embedding provider identifiers used in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderCohere = "cohere"
)

const (
	// DefaultEmbeddingModel is the default OpenAI embedding model.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultEmbeddingDimension matches DefaultEmbeddingModel's output size.
	DefaultEmbeddingDimension = 1536

	// MaxEmbeddingDimension is the upper bound accepted for any model.
	MaxEmbeddingDimension = 8192

	// DefaultRerankModel is the default Cohere rerank model.
	DefaultRerankModel = "rerank-english-v3.0"
)

// EmbeddingModel describes the active embedding model: the process-wide
// setting consumed by the retrieval engine. Changing it does not alter
// already-written vectors; it only affects future embeds and the explicit
// re-embedding workflow.
type EmbeddingModel struct {
	ID        string
	Dimension int
}

// Config stores application configuration.
// SENSITIVE fields (passwords, API keys) must never be logged verbatim.
type Config struct {
	// Embedding provider selection
	Provider           string `mapstructure:"provider" json:"provider"` // "openai" (default) or "ollama"
	EmbeddingModelID   string `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension" json:"embedding_dimension"`
	OpenAIAPIKey       string `mapstructure:"openai_api_key" json:"-"` // SENSITIVE
	OllamaHost         string `mapstructure:"ollama_host" json:"ollama_host"`

	// Rerank provider (optional; retrieval degrades gracefully without it)
	RerankModel  string `mapstructure:"rerank_model" json:"rerank_model"`
	CohereAPIKey string `mapstructure:"cohere_api_key" json:"-"` // SENSITIVE

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embed queue limits (per tenant)
	EmbedRatePerSecond float64 `mapstructure:"embed_rate_per_second" json:"embed_rate_per_second"`
	EmbedBurst         int     `mapstructure:"embed_burst" json:"embed_burst"`
	EmbedMaxBatchSize  int     `mapstructure:"embed_max_batch_size" json:"embed_max_batch_size"`
	EmbedMaxBatchToken int     `mapstructure:"embed_max_batch_tokens" json:"embed_max_batch_tokens"`

	// Chunking policy
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Background worker pool
	WorkerPoolSize int `mapstructure:"worker_pool_size" json:"worker_pool_size"`

	// HTTP server (serve mode)
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`
}

// ActiveEmbeddingModel returns the configured embedding model. This is the
// single source the pipeline consults; callers pass it in explicitly rather
// than reading ambient state.
func (c *Config) ActiveEmbeddingModel() EmbeddingModel {
	return EmbeddingModel{ID: c.EmbeddingModelID, Dimension: c.EmbeddingDimension}
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".lodestone")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// Reload rereads the configuration sources into c. It is the explicit
// invalidation hook for the active embedding model: admin tooling calls
// Reload after changing the model, then runs the re-embedding workflow.
func (c *Config) Reload() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return fmt.Errorf("rereading config file: %w", err)
		}
	}

	var next Config
	if err := viper.Unmarshal(&next); err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}
	if err := next.parseDatabaseURL(); err != nil {
		return fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	*c = next
	return nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Provider defaults
	viper.SetDefault("provider", ProviderOpenAI)
	viper.SetDefault("embedding_model", DefaultEmbeddingModel)
	viper.SetDefault("embedding_dimension", DefaultEmbeddingDimension)
	viper.SetDefault("ollama_host", "http://localhost:11434")
	viper.SetDefault("rerank_model", DefaultRerankModel)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "lodestone")
	viper.SetDefault("postgres_password", "lodestone_dev_password")
	viper.SetDefault("postgres_db_name", "lodestone")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Embed queue defaults
	viper.SetDefault("embed_rate_per_second", 5.0)
	viper.SetDefault("embed_burst", 10)
	viper.SetDefault("embed_max_batch_size", 96)
	viper.SetDefault("embed_max_batch_tokens", 8192)

	// Chunking defaults
	viper.SetDefault("chunk_size", 1600)
	viper.SetDefault("chunk_overlap", 200)

	// Worker defaults
	viper.SetDefault("worker_pool_size", 4)

	// Serve defaults
	viper.SetDefault("listen_addr", "127.0.0.1:3900")
	viper.SetDefault("trust_proxy", false)
}

// bindEnvVariables binds environment variables explicitly. Secrets are only
// ever read from the environment, never written to the config file.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("cohere_api_key", "COHERE_API_KEY")
	mustBind("provider", "LODESTONE_PROVIDER")
	mustBind("embedding_model", "LODESTONE_EMBEDDING_MODEL")
	mustBind("embedding_dimension", "LODESTONE_EMBEDDING_DIMENSION")
	mustBind("ollama_host", "LODESTONE_OLLAMA_HOST")
	mustBind("listen_addr", "LODESTONE_LISTEN_ADDR")
	mustBind("trust_proxy", "LODESTONE_TRUST_PROXY")
}
