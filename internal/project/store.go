// Package project manages projects and their documents, and drives document
// ingestion: chunk, embed, store as one unit per document.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates the requested project or document does not exist.
var ErrNotFound = errors.New("not found")

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Project groups documents and carries optional instructions that are
// injected into every prompt assembled for its threads.
type Project struct {
	ID           uuid.UUID
	OwnerID      *uuid.UUID
	Name         string
	Instructions string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Document is an immutable stored source text. Deleting it removes its
// chunks and embeddings with it.
type Document struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Filename    string
	Content     string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

// Store manages project and document persistence.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store. logger may be nil.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create creates a project. ownerID may be nil for unowned projects.
func (s *Store) Create(ctx context.Context, ownerID *uuid.UUID, name, instructions string) (*Project, error) {
	p := &Project{OwnerID: ownerID, Name: name, Instructions: instructions}
	err := s.db.QueryRow(ctx,
		`INSERT INTO projects (owner_id, name, instructions)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		ownerID, name, instructions,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	s.logger.Debug("created project", "id", p.ID, "name", name)
	return p, nil
}

// Get retrieves a project by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, name, instructions, created_at, updated_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Instructions, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return &p, nil
}

// List returns projects for one owner, or all projects when ownerID is nil,
// newest first.
func (s *Store) List(ctx context.Context, ownerID *uuid.UUID) ([]Project, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, name, instructions, created_at, updated_at
		 FROM projects
		 WHERE $1::uuid IS NULL OR owner_id = $1
		 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Instructions, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading projects: %w", err)
	}
	return projects, nil
}

// UpdateInstructions replaces a project's instructions.
func (s *Store) UpdateInstructions(ctx context.Context, id uuid.UUID, instructions string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE projects SET instructions = $2, updated_at = now() WHERE id = $1`,
		id, instructions)
	if err != nil {
		return fmt.Errorf("updating instructions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a project. Documents, chunks, embeddings, and threads
// cascade with it.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	s.logger.Debug("deleted project", "id", id)
	return nil
}

// AddDocument stores a document's raw text. Content is immutable once
// stored; re-ingesting means delete and add.
func (s *Store) AddDocument(ctx context.Context, projectID uuid.UUID, filename, contentType, content string) (*Document, error) {
	d := &Document{
		ProjectID:   projectID,
		Filename:    filename,
		Content:     content,
		ContentType: contentType,
		SizeBytes:   int64(len(content)),
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO project_documents (project_id, filename, content, content_type, size_bytes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		projectID, filename, content, contentType, d.SizeBytes,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("adding document: %w", err)
	}
	s.logger.Debug("added document", "id", d.ID, "project_id", projectID,
		"filename", filename, "size", d.SizeBytes)
	return d, nil
}

// GetDocument retrieves a document by ID, including its raw text.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var d Document
	err := s.db.QueryRow(ctx,
		`SELECT id, project_id, filename, content, content_type, size_bytes, created_at
		 FROM project_documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.ProjectID, &d.Filename, &d.Content, &d.ContentType, &d.SizeBytes, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return &d, nil
}

// ListDocuments returns a project's documents without their raw text,
// oldest first.
func (s *Store) ListDocuments(ctx context.Context, projectID uuid.UUID) ([]Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, project_id, filename, content_type, size_bytes, created_at
		 FROM project_documents
		 WHERE project_id = $1
		 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}
