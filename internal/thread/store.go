// Package thread manages conversation threads and their append-only
// message history.
package thread

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

// ErrNotFound indicates the requested thread does not exist.
var ErrNotFound = errors.New("thread not found")

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Thread is a conversation. Ownership and project binding are optional.
type Thread struct {
	ID        uuid.UUID
	UserID    *uuid.UUID
	ProjectID *uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one finalized turn entry. Provider and Model record what
// produced an assistant message; they may differ message to message within
// one thread. Messages are append-only and never edited in place.
type Message struct {
	ID        uuid.UUID
	ThreadID  uuid.UUID
	Seq       int
	Role      Role
	Content   string
	Provider  *string
	Model     *string
	Aborted   bool
	CreatedAt time.Time
}

// NewMessage is the input for one appended message.
type NewMessage struct {
	Role     Role
	Content  string
	Provider string // empty for user/system messages
	Model    string
	Aborted  bool
}

// Store manages thread persistence.
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

// Create creates a thread. Both owners are optional; threads are created
// lazily on a first message.
func (s *Store) Create(ctx context.Context, userID, projectID *uuid.UUID) (*Thread, error) {
	t := &Thread{UserID: userID, ProjectID: projectID}
	err := s.db.QueryRow(ctx,
		`INSERT INTO threads (user_id, project_id)
		 VALUES ($1, $2)
		 RETURNING id, title, created_at, updated_at`,
		userID, projectID,
	).Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}
	s.logger.Debug("created thread", "id", t.ID)
	return t, nil
}

// Get retrieves a thread by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Thread, error) {
	var t Thread
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, project_id, title, created_at, updated_at
		 FROM threads WHERE id = $1`, id,
	).Scan(&t.ID, &t.UserID, &t.ProjectID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread: %w", err)
	}
	return &t, nil
}

// SetTitle updates a thread's title.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE threads SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("setting thread title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	return nil
}

// History returns all messages in a thread in creation order.
func (s *Store) History(ctx context.Context, threadID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, thread_id, seq, role, content, provider, model, aborted, created_at
		 FROM messages
		 WHERE thread_id = $1
		 ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Seq, &m.Role, &m.Content,
			&m.Provider, &m.Model, &m.Aborted, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return msgs, nil
}

// Append persists msgs as consecutive entries in one transaction. Sequence
// numbers continue from the current maximum; the thread row is locked for
// the duration so ordering stays strict even across processes.
func (s *Store) Append(ctx context.Context, threadID uuid.UUID, msgs ...NewMessage) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM threads WHERE id = $1 FOR UPDATE`, threadID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("locking thread: %w", err)
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE thread_id = $1`, threadID,
	).Scan(&next); err != nil {
		return nil, fmt.Errorf("computing next sequence: %w", err)
	}

	out := make([]Message, 0, len(msgs))
	for _, nm := range msgs {
		m := Message{
			ThreadID: threadID,
			Seq:      next,
			Role:     nm.Role,
			Content:  nm.Content,
			Aborted:  nm.Aborted,
		}
		if nm.Provider != "" {
			m.Provider = &nm.Provider
		}
		if nm.Model != "" {
			m.Model = &nm.Model
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO messages (thread_id, seq, role, content, provider, model, aborted)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at`,
			threadID, m.Seq, string(m.Role), m.Content, m.Provider, m.Model, m.Aborted,
		).Scan(&m.ID, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("appending message: %w", err)
		}
		out = append(out, m)
		next++
	}

	if _, err := tx.Exec(ctx,
		`UPDATE threads SET updated_at = now() WHERE id = $1`, threadID); err != nil {
		return nil, fmt.Errorf("touching thread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}
	return out, nil
}
