// Package app assembles the application: configuration, database,
// providers, retrieval, and the streaming coordinator.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/writersroom/backend/internal/assemble"
	"github.com/writersroom/backend/internal/config"
	"github.com/writersroom/backend/internal/embedder"
	"github.com/writersroom/backend/internal/project"
	"github.com/writersroom/backend/internal/provider"
	"github.com/writersroom/backend/internal/stream"
	"github.com/writersroom/backend/internal/thread"
	"github.com/writersroom/backend/internal/title"
	"github.com/writersroom/backend/internal/vector"
)

// App holds every initialized component. Construct with Setup; release
// with Close.
type App struct {
	Config *config.Config
	Genkit *genkit.Genkit
	DBPool *pgxpool.Pool

	Embedder *embedder.Service
	Projects *project.Store
	Threads  *thread.Store
	Vectors  *vector.Store

	Ingestor    *project.Ingestor
	Assembler   *assemble.Assembler
	Router      *provider.Router
	Coordinator *stream.Coordinator
	Titles      *title.Generator

	logger *slog.Logger
}

// Close releases held resources. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	a.logger.Info("shutting down")

	if a.Ingestor != nil {
		a.Ingestor.Close()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger.Info("database pool closed")
	}
	return nil
}
