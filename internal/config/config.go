// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.writersroom/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: default provider/model selection, temperature, max tokens
//   - Embedding: embedder model, vector dimension, batch/retry limits
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: chunking, similarity threshold, top-K, token budget
//   - Streaming: per-request completion timeout
//
// Validation is comprehensive and runs at load time: a bad chunking or
// threshold value is a startup failure, never a mid-request one.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
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

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder vector dimension
	// does not match the persisted schema.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")

	// ErrInvalidChunking indicates the chunker configuration cannot make
	// progress (overlap >= max chars) or is otherwise out of range.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidThreshold indicates the similarity threshold is out of (0, 1).
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTopK indicates the top-K value is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidTokenBudget indicates the prompt token budget is out of range.
	ErrInvalidTokenBudget = errors.New("invalid token budget")

	// ErrInvalidStreamTimeout indicates the completion timeout is out of range.
	ErrInvalidStreamTimeout = errors.New("invalid stream timeout")

	// ErrInvalidIngestWorkers indicates the ingest worker count is out of range.
	ErrInvalidIngestWorkers = errors.New("invalid ingest worker count")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// Provider identifiers used in Config.Provider and per-message routing.
// This is a closed set: adding a provider means a new constant plus a new
// router variant.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
)

const (
	// DefaultEmbedderModel produces 1536-dimension vectors, matching the
	// vector(1536) column in chunk_embeddings.
	DefaultEmbedderModel = "text-embedding-3-small"

	// DefaultEmbedderDimension is the persisted vector width.
	DefaultEmbedderDimension = 1536

	// DefaultSimilarityThreshold is the minimum cosine similarity a chunk
	// must strictly exceed to be retrieved.
	DefaultSimilarityThreshold = 0.72

	// DefaultTopK caps retrieval results after thresholding.
	DefaultTopK = 5
)

// Config stores application configuration.
type Config struct {
	// Default AI provider and model. Both are per-call selectable at the
	// router; these are only the defaults for new turns.
	Provider    string  `mapstructure:"provider"`
	ModelName   string  `mapstructure:"model_name"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	// Ollama configuration (only used when routing to "ollama").
	OllamaHost string `mapstructure:"ollama_host"`

	// Embedding configuration.
	EmbedderModel     string `mapstructure:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension"`
	EmbedBatchSize    int    `mapstructure:"embed_batch_size"`
	EmbedMaxRetries   int    `mapstructure:"embed_max_retries"`

	// Retrieval configuration.
	ChunkMaxChars       int     `mapstructure:"chunk_max_chars"`
	ChunkOverlapChars   int     `mapstructure:"chunk_overlap_chars"`
	ChunkBoundary       string  `mapstructure:"chunk_boundary"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	TopK                int     `mapstructure:"top_k"`
	TokenBudget         int     `mapstructure:"token_budget"`

	// Streaming configuration.
	StreamTimeoutSeconds int `mapstructure:"stream_timeout_seconds"`

	// Ingestion configuration.
	IngestWorkers int `mapstructure:"ingest_workers"`

	// Storage configuration (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`
}

// StreamTimeout returns the bounded per-request completion timeout.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSeconds) * time.Second
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".writersroom")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	v.SetEnvPrefix("WRITERSROOM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL has highest priority for PostgreSQL settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail fast: bad retrieval or chunking values never reach a request.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("model_name", "gpt-4o")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 1500)

	// Ollama defaults
	v.SetDefault("ollama_host", "http://localhost:11434")

	// Embedding defaults
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	v.SetDefault("embed_batch_size", 64)
	v.SetDefault("embed_max_retries", 3)

	// Retrieval defaults
	v.SetDefault("chunk_max_chars", 1000)
	v.SetDefault("chunk_overlap_chars", 200)
	v.SetDefault("chunk_boundary", "sentence")
	v.SetDefault("similarity_threshold", DefaultSimilarityThreshold)
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("token_budget", 8000)

	// Streaming defaults
	v.SetDefault("stream_timeout_seconds", 120)

	// Ingestion defaults
	v.SetDefault("ingest_workers", 4)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "writersroom")
	v.SetDefault("postgres_password", "writersroom_dev_password")
	v.SetDefault("postgres_db_name", "writersroom")
	v.SetDefault("postgres_ssl_mode", "disable")
}
