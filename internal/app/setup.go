package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/writersroom/backend/db"
	"github.com/writersroom/backend/internal/assemble"
	"github.com/writersroom/backend/internal/chunker"
	"github.com/writersroom/backend/internal/config"
	"github.com/writersroom/backend/internal/database"
	"github.com/writersroom/backend/internal/embedder"
	"github.com/writersroom/backend/internal/project"
	"github.com/writersroom/backend/internal/provider"
	"github.com/writersroom/backend/internal/stream"
	"github.com/writersroom/backend/internal/thread"
	"github.com/writersroom/backend/internal/title"
	"github.com/writersroom/backend/internal/vector"
)

// Setup creates and initializes the application. On failure everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, providers, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	emb := provideEmbedder(g, cfg)
	if emb == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	embCfg := embedder.DefaultConfig(cfg.EmbedderModel, cfg.EmbedderDimension)
	embCfg.BatchSize = cfg.EmbedBatchSize
	embCfg.MaxRetries = cfg.EmbedMaxRetries
	a.Embedder = embedder.New(emb, embCfg, logger)

	a.Projects = project.NewStore(pool, logger)
	a.Threads = thread.NewStore(pool, logger)
	a.Vectors = vector.New(pool, logger)

	ingestor, err := project.NewIngestor(a.Projects, a.Vectors, a.Embedder, chunker.Config{
		MaxChars:     cfg.ChunkMaxChars,
		OverlapChars: cfg.ChunkOverlapChars,
		Boundary:     cfg.ChunkBoundary,
	}, cfg.IngestWorkers, logger)
	if err != nil {
		return nil, err
	}
	a.Ingestor = ingestor

	a.Assembler = assemble.New(a.Embedder, a.Vectors, cfg.SimilarityThreshold, cfg.TopK, logger)
	a.Router = provider.NewRouter(logger, providers...)
	a.Coordinator = stream.New(a.Threads, a.Projects, a.Assembler, a.Router,
		cfg.TokenBudget, cfg.StreamTimeout(), logger)
	a.Titles = title.NewGenerator(a.Router, a.Threads, cfg.Provider, cfg.ModelName, logger)

	return a, nil
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return database.NewPool(ctx, cfg.PostgresConnectionString())
}

// provideGenkit initializes Genkit with every provider plugin that has
// credentials available, and returns the matching router providers.
// Provider selection stays per-call at the router; initialization only
// determines which backends are reachable.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, []provider.Provider, error) {
	var plugins []api.Plugin

	googleAvailable := os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != ""
	openaiAvailable := os.Getenv("OPENAI_API_KEY") != ""
	ollamaAvailable := cfg.OllamaHost != ""

	var ollamaPlugin *ollama.Ollama
	if googleAvailable {
		plugins = append(plugins, &googlegenai.GoogleAI{})
	}
	if openaiAvailable {
		plugins = append(plugins, &openai.OpenAI{})
	}
	if ollamaAvailable {
		ollamaPlugin = &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		plugins = append(plugins, ollamaPlugin)
	}
	if len(plugins) == 0 {
		return nil, nil, errors.New("no provider available: set GEMINI_API_KEY, OPENAI_API_KEY, or ollama_host")
	}

	g := genkit.Init(ctx, genkit.WithPlugins(plugins...))
	if g == nil {
		return nil, nil, errors.New("initializing genkit")
	}

	var providers []provider.Provider
	if googleAvailable {
		providers = append(providers, provider.NewGoogleAI(g))
		logger.Info("provider enabled", "provider", config.ProviderGoogleAI)
	}
	if openaiAvailable {
		providers = append(providers, provider.NewOpenAI(g))
		logger.Info("provider enabled", "provider", config.ProviderOpenAI)
	}
	if ollamaAvailable {
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		providers = append(providers, provider.NewOllama(g))
		logger.Info("provider enabled", "provider", config.ProviderOllama, "host", cfg.OllamaHost)
	}

	return g, providers, nil
}

// provideEmbedder looks up the embedder registered by the configured
// provider's plugin. Each plugin registers embedders differently:
//   - googleai: GoogleAIEmbedder(g, modelName)
//   - openai: auto-registered in Init, looked up by model name
//   - ollama: registered in provideGenkit, keyed by server address
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderGoogleAI:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	default:
		return genkit.LookupEmbedder(g, api.NewName(config.ProviderOpenAI, cfg.EmbedderModel))
	}
}
