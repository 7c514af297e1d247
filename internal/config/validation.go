package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validSSLModes are the PostgreSQL SSL modes accepted by pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// validBoundaries are the accepted chunk boundary modes.
var validBoundaries = map[string]bool{
	"paragraph": true,
	"sentence":  true,
	"char":      true,
}

// Validate checks all configuration values and returns the first problem
// found, wrapped around a sentinel error for errors.Is checks.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGoogleAI, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (must be one of: googleai, openai, ollama)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be in [0.0, 2.0])", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2_097_152 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.Provider == ProviderOllama {
		if _, err := url.Parse(c.OllamaHost); err != nil || c.OllamaHost == "" {
			return fmt.Errorf("%w: %q", ErrInvalidOllamaHost, c.OllamaHost)
		}
	}

	if err := c.validateEmbedding(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}

	if c.StreamTimeoutSeconds < 1 || c.StreamTimeoutSeconds > 3600 {
		return fmt.Errorf("%w: %d seconds (must be in [1, 3600])", ErrInvalidStreamTimeout, c.StreamTimeoutSeconds)
	}

	if c.IngestWorkers < 1 || c.IngestWorkers > 64 {
		return fmt.Errorf("%w: %d (must be in [1, 64])", ErrInvalidIngestWorkers, c.IngestWorkers)
	}

	return c.validateStorage()
}

func (c *Config) validateEmbedding() error {
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	// The schema stores vector(1536); a different width cannot be persisted.
	if c.EmbedderDimension != DefaultEmbedderDimension {
		return fmt.Errorf("%w: %d (schema requires %d)",
			ErrInvalidEmbedderDimension, c.EmbedderDimension, DefaultEmbedderDimension)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 2048 {
		return fmt.Errorf("%w: embed batch size %d", ErrInvalidChunking, c.EmbedBatchSize)
	}
	if c.EmbedMaxRetries < 0 || c.EmbedMaxRetries > 10 {
		return fmt.Errorf("%w: embed max retries %d", ErrInvalidChunking, c.EmbedMaxRetries)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.ChunkMaxChars < 1 {
		return fmt.Errorf("%w: max chars %d must be positive", ErrInvalidChunking, c.ChunkMaxChars)
	}
	// An overlap as large as the window would prevent the cursor from
	// advancing; reject at startup.
	if c.ChunkOverlapChars < 0 || c.ChunkOverlapChars >= c.ChunkMaxChars {
		return fmt.Errorf("%w: overlap %d must be in [0, max chars %d)",
			ErrInvalidChunking, c.ChunkOverlapChars, c.ChunkMaxChars)
	}
	if !validBoundaries[c.ChunkBoundary] {
		return fmt.Errorf("%w: boundary %q (must be one of: paragraph, sentence, char)",
			ErrInvalidChunking, c.ChunkBoundary)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		return fmt.Errorf("%w: %v (must be in (0, 1))", ErrInvalidThreshold, c.SimilarityThreshold)
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (must be in [1, 100])", ErrInvalidTopK, c.TopK)
	}
	if c.TokenBudget < 256 || c.TokenBudget > 1_000_000 {
		return fmt.Errorf("%w: %d (must be in [256, 1000000])", ErrInvalidTokenBudget, c.TokenBudget)
	}
	return nil
}

func (c *Config) validateStorage() error {
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
	return nil
}
