package project

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/writersroom/backend/internal/chunker"
	"github.com/writersroom/backend/internal/embedder"
	"github.com/writersroom/backend/internal/vector"
)

// Ingestor runs the write path: document bytes, chunked, embedded, stored.
// One document is processed end to end by a single worker; different
// documents may ingest concurrently on the pool.
type Ingestor struct {
	store    *Store
	vectors  *vector.Store
	embedder *embedder.Service
	chunkCfg chunker.Config
	pool     *ants.Pool
	logger   *slog.Logger
}

// NewIngestor creates an Ingestor with a worker pool of the given size.
func NewIngestor(store *Store, vectors *vector.Store, emb *embedder.Service, chunkCfg chunker.Config, workers int, logger *slog.Logger) (*Ingestor, error) {
	if err := chunkCfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating ingest pool: %w", err)
	}
	return &Ingestor{
		store:    store,
		vectors:  vectors,
		embedder: emb,
		chunkCfg: chunkCfg,
		pool:     pool,
		logger:   logger,
	}, nil
}

// Close releases the worker pool.
func (in *Ingestor) Close() {
	in.pool.Release()
}

// ChunkFailure records one chunk whose embedding could not be produced.
// The chunk itself stays stored and re-embeddable.
type ChunkFailure struct {
	ChunkIndex int
	Err        error
}

// Report summarizes one document ingestion. Failures lists every chunk that
// was stored without an embedding; an empty list means full success.
type Report struct {
	DocumentID uuid.UUID
	Filename   string
	Chunks     int
	Embedded   int
	Failures   []ChunkFailure
}

// Input is one document to ingest.
type Input struct {
	Filename    string
	ContentType string
	Text        string
}

// IngestDocument stores one document and its chunks, embeds them, and
// attaches the embeddings. Embedding failures are partial: the document and
// all chunks remain stored, failed chunks are reported in the Report and
// stay out of search until ReembedPending succeeds.
func (in *Ingestor) IngestDocument(ctx context.Context, projectID uuid.UUID, input Input) (*Report, error) {
	chunks, err := chunker.Split(input.Text, in.chunkCfg)
	if err != nil {
		return nil, err
	}

	doc, err := in.store.AddDocument(ctx, projectID, input.Filename, input.ContentType, input.Text)
	if err != nil {
		return nil, err
	}

	report := &Report{DocumentID: doc.ID, Filename: input.Filename, Chunks: len(chunks)}

	// Store every chunk before embedding anything, so a provider outage
	// never loses chunk provenance.
	chunkIDs := make([]uuid.UUID, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		id, err := in.vectors.UpsertChunk(ctx, vector.ChunkRecord{
			DocumentID: doc.ID,
			Index:      c.Index,
			Text:       c.Text,
			Start:      c.Start,
			End:        c.End,
		})
		if err != nil {
			return nil, fmt.Errorf("storing chunk %d: %w", c.Index, err)
		}
		chunkIDs[i] = id
		texts[i] = c.Text
	}

	if len(texts) == 0 {
		return report, nil
	}

	results, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err != nil {
			report.Failures = append(report.Failures, ChunkFailure{ChunkIndex: r.Index, Err: r.Err})
			continue
		}
		if err := in.vectors.UpsertEmbedding(ctx, chunkIDs[r.Index], r.Vector, in.embedder.Model()); err != nil {
			report.Failures = append(report.Failures, ChunkFailure{ChunkIndex: r.Index, Err: err})
			continue
		}
		report.Embedded++
	}

	in.logger.Info("ingested document",
		"document_id", doc.ID, "filename", input.Filename,
		"chunks", report.Chunks, "embedded", report.Embedded,
		"failed", len(report.Failures))
	return report, nil
}

// IngestAll ingests documents concurrently across the worker pool. Each
// document still runs serialized end to end. Reports align with inputs by
// position; a document that failed outright has a nil Report and its error
// in the matching Errs slot.
func (in *Ingestor) IngestAll(ctx context.Context, projectID uuid.UUID, inputs []Input) ([]*Report, []error) {
	reports := make([]*Report, len(inputs))
	errs := make([]error, len(inputs))

	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		submitErr := in.pool.Submit(func() {
			defer wg.Done()
			reports[i], errs[i] = in.IngestDocument(ctx, projectID, input)
		})
		if submitErr != nil {
			errs[i] = fmt.Errorf("submitting ingest task: %w", submitErr)
			wg.Done()
		}
	}
	wg.Wait()

	return reports, errs
}

// ReembedPending retries embedding for chunks that were stored without a
// vector. Returns how many chunks gained an embedding.
func (in *Ingestor) ReembedPending(ctx context.Context, projectID uuid.UUID) (int, []ChunkFailure, error) {
	pending, err := in.vectors.PendingChunks(ctx, projectID)
	if err != nil {
		return 0, nil, err
	}
	if len(pending) == 0 {
		return 0, nil, nil
	}

	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.Text
	}

	results, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, nil, err
	}

	embedded := 0
	var failures []ChunkFailure
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, ChunkFailure{ChunkIndex: r.Index, Err: r.Err})
			continue
		}
		if err := in.vectors.UpsertEmbedding(ctx, pending[r.Index].ChunkID, r.Vector, in.embedder.Model()); err != nil {
			failures = append(failures, ChunkFailure{ChunkIndex: r.Index, Err: err})
			continue
		}
		embedded++
	}

	in.logger.Info("re-embedded pending chunks",
		"project_id", projectID, "pending", len(pending),
		"embedded", embedded, "failed", len(failures))
	return embedded, failures, nil
}
