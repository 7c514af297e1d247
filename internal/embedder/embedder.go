// Package embedder converts text into fixed-dimension vectors through a
// pluggable provider, with batching and per-item retry on partial failure.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

var (
	// ErrProviderFailure indicates the provider rejected or failed the
	// embedding call after the retry budget was exhausted.
	ErrProviderFailure = errors.New("embedding provider failure")

	// ErrRateLimited indicates the provider throttled the call.
	ErrRateLimited = errors.New("embedding rate limited")

	// ErrTimeout indicates the provider call exceeded its deadline.
	ErrTimeout = errors.New("embedding timeout")

	// ErrDimension indicates a returned vector does not match the
	// configured dimension and cannot be persisted.
	ErrDimension = errors.New("unexpected embedding dimension")
)

// Config controls batching and retry behavior.
type Config struct {
	Model           string
	Dimension       int
	BatchSize       int
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// RequestsPerSecond throttles provider calls; zero disables throttling.
	RequestsPerSecond float64
}

// DefaultConfig returns sensible defaults for hosted embedding APIs.
func DefaultConfig(model string, dimension int) Config {
	return Config{
		Model:             model,
		Dimension:         dimension,
		BatchSize:         64,
		MaxRetries:        3,
		InitialInterval:   500 * time.Millisecond,
		MaxInterval:       10 * time.Second,
		RequestsPerSecond: 5,
	}
}

// Service wraps a provider embedder with batching and retry.
type Service struct {
	embedder ai.Embedder
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Service. logger may be nil.
func New(e ai.Embedder, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Service{embedder: e, cfg: cfg, limiter: limiter, logger: logger}
}

// Model returns the configured embedding model identifier.
func (s *Service) Model() string { return s.cfg.Model }

// Result is the outcome for one input text, aligned by Index with the
// EmbedBatch input. Exactly one of Vector and Err is set.
type Result struct {
	Index  int
	Vector []float32
	Err    error
}

// EmbedBatch embeds texts in provider-sized sub-batches. A sub-batch that
// keeps failing after the retry budget is reported per item, never silently
// dropped; the other sub-batches are unaffected. The returned error is
// non-nil only when ctx ends the whole operation.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))
	for i := range results {
		results[i].Index = i
	}

	for start := 0; start < len(texts); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(texts))

		vectors, err := s.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("embedding interrupted: %w", ctx.Err())
			}
			s.logger.Warn("embedding sub-batch failed after retries",
				"from", start, "to", end, "error", err)
			for i := start; i < end; i++ {
				results[i].Err = err
			}
			continue
		}

		for i, vec := range vectors {
			if len(vec) != s.cfg.Dimension {
				results[start+i].Err = fmt.Errorf("%w: got %d, want %d",
					ErrDimension, len(vec), s.cfg.Dimension)
				continue
			}
			results[start+i].Vector = vec
		}
	}
	return results, nil
}

// EmbedOne embeds a single query text.
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors[0]) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vectors[0]), s.cfg.Dimension)
	}
	return vectors[0], nil
}

// embedWithRetry calls the provider with exponential backoff. Each attempt
// passes through the rate limiter so retries never amplify pressure on a
// throttling provider.
func (s *Service) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	delay := s.cfg.InitialInterval

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		vectors, err := s.callProvider(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("%w: %v", classify(err), err)
		}
		if attempt == s.cfg.MaxRetries {
			break
		}

		s.logger.Debug("retrying embedding call",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, s.cfg.MaxInterval)
		}
	}

	return nil, fmt.Errorf("%w after %d retries: %v", classify(lastErr), s.cfg.MaxRetries, lastErr)
}

func (s *Service) callProvider(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs",
			len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Embedding
	}
	return vectors, nil
}
