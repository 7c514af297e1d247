// Package vector persists document chunks and their embeddings and answers
// thresholded top-K similarity queries, always scoped to a single project.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// ErrScopeViolation indicates a search returned a chunk from outside the
// queried project. This is an internal invariant breach, never user error;
// it fails loudly rather than leaking cross-project data.
var ErrScopeViolation = errors.New("vector search scope violation")

// DB is the subset of pgxpool.Pool the store needs. Consumer-defined so
// tests can substitute fakes.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages chunk and embedding persistence.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store. logger may be nil.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// ChunkRecord is the persisted form of one document chunk.
type ChunkRecord struct {
	DocumentID uuid.UUID
	Index      int
	Text       string
	Start      int
	End        int
	Metadata   map[string]string
}

// ScoredChunk is one similarity-search result.
type ScoredChunk struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	ProjectID  uuid.UUID
	Filename   string
	ChunkIndex int
	Text       string
	Similarity float64
}

// PendingChunk is a stored chunk that has no embedding yet and is
// therefore invisible to search.
type PendingChunk struct {
	ChunkID uuid.UUID
	Text    string
}

const upsertChunkSQL = `
INSERT INTO document_chunks (document_id, chunk_index, content, start_char, end_char, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (document_id, chunk_index)
DO UPDATE SET content = EXCLUDED.content,
              start_char = EXCLUDED.start_char,
              end_char = EXCLUDED.end_char,
              metadata = EXCLUDED.metadata
RETURNING id`

const upsertEmbeddingSQL = `
INSERT INTO chunk_embeddings (chunk_id, embedding, model)
VALUES ($1, $2, $3)
ON CONFLICT (chunk_id)
DO UPDATE SET embedding = EXCLUDED.embedding, model = EXCLUDED.model`

// Upsert stores a chunk together with its embedding in one transaction.
func (s *Store) Upsert(ctx context.Context, chunk ChunkRecord, embedding []float32, model string) (uuid.UUID, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	chunkID, err := upsertChunk(ctx, tx, chunk)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := tx.Exec(ctx, upsertEmbeddingSQL, chunkID, pgvector.NewVector(embedding), model); err != nil {
		return uuid.Nil, fmt.Errorf("upserting embedding: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("committing upsert: %w", err)
	}
	return chunkID, nil
}

// UpsertChunk stores a chunk without an embedding. The chunk stays out of
// search results until an embedding is attached later.
func (s *Store) UpsertChunk(ctx context.Context, chunk ChunkRecord) (uuid.UUID, error) {
	return upsertChunk(ctx, s.db, chunk)
}

// UpsertEmbedding attaches an embedding to an already stored chunk.
func (s *Store) UpsertEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32, model string) error {
	if _, err := s.db.Exec(ctx, upsertEmbeddingSQL, chunkID, pgvector.NewVector(embedding), model); err != nil {
		return fmt.Errorf("upserting embedding: %w", err)
	}
	return nil
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertChunk(ctx context.Context, q execQuerier, chunk ChunkRecord) (uuid.UUID, error) {
	meta := chunk.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encoding chunk metadata: %w", err)
	}

	var id uuid.UUID
	err = q.QueryRow(ctx, upsertChunkSQL,
		chunk.DocumentID, chunk.Index, chunk.Text, chunk.Start, chunk.End, metaJSON,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upserting chunk: %w", err)
	}
	return id, nil
}

// searchSQL filters by project, computes 1 - cosine_distance, filters by
// threshold, orders descending, then caps at the limit. Ties break by
// ascending chunk index, then ascending document creation time, keeping
// result order deterministic for fixtures.
const searchSQL = `
SELECT c.id, c.document_id, d.project_id, d.filename, c.chunk_index, c.content,
       1 - (e.embedding <=> $2) AS similarity
FROM chunk_embeddings e
JOIN document_chunks c ON c.id = e.chunk_id
JOIN project_documents d ON d.id = c.document_id
WHERE d.project_id = $1
  AND 1 - (e.embedding <=> $2) > $3
ORDER BY similarity DESC, c.chunk_index ASC, d.created_at ASC
LIMIT $4`

// Search returns at most topK chunks whose cosine similarity to queryVec
// strictly exceeds threshold, sorted descending by similarity. Results are
// always confined to projectID.
func (s *Store) Search(ctx context.Context, projectID uuid.UUID, queryVec []float32, threshold float64, topK int) ([]ScoredChunk, error) {
	rows, err := s.db.Query(ctx, searchSQL, projectID, pgvector.NewVector(queryVec), threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.ChunkID, &sc.DocumentID, &sc.ProjectID, &sc.Filename,
			&sc.ChunkIndex, &sc.Text, &sc.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		// The WHERE clause already scopes by project; verify anyway so a
		// future query change cannot silently leak cross-project chunks.
		if sc.ProjectID != projectID {
			return nil, fmt.Errorf("%w: chunk %s belongs to project %s, queried %s",
				ErrScopeViolation, sc.ChunkID, sc.ProjectID, projectID)
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}

	s.logger.Debug("similarity search", "project_id", projectID,
		"threshold", threshold, "top_k", topK, "results", len(results))
	return results, nil
}

const pendingChunksSQL = `
SELECT c.id, c.content
FROM document_chunks c
JOIN project_documents d ON d.id = c.document_id
LEFT JOIN chunk_embeddings e ON e.chunk_id = c.id
WHERE d.project_id = $1 AND e.id IS NULL
ORDER BY c.document_id, c.chunk_index`

// PendingChunks lists stored chunks in a project that still lack an
// embedding, in document order.
func (s *Store) PendingChunks(ctx context.Context, projectID uuid.UUID) ([]PendingChunk, error) {
	rows, err := s.db.Query(ctx, pendingChunksSQL, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing pending chunks: %w", err)
	}
	defer rows.Close()

	var pending []PendingChunk
	for rows.Next() {
		var p PendingChunk
		if err := rows.Scan(&p.ChunkID, &p.Text); err != nil {
			return nil, fmt.Errorf("scanning pending chunk: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading pending chunks: %w", err)
	}
	return pending, nil
}

// DeleteDocument removes a document with its chunks and embeddings as one
// unit; the schema cascades take the dependent rows.
func (s *Store) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM project_documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
