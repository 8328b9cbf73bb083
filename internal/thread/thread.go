// Package thread persists conversation threads and their message log.
package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotFound indicates the thread does not exist.
	ErrNotFound = errors.New("thread: not found")

	// ErrInvalidID indicates the supplied thread identifier is malformed.
	ErrInvalidID = errors.New("thread: invalid identifier")
)

// Message is one entry in a thread's log. Sources carries the serialized
// source references attached to assistant messages; nil for user messages.
type Message struct {
	ID        uuid.UUID
	ThreadID  uuid.UUID
	Role      string
	Content   string
	Sources   json.RawMessage
	CreatedAt time.Time
}

// DB is the pgx surface the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists threads in PostgreSQL. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create starts a new thread and returns its identifier.
func (s *Store) Create(ctx context.Context, ownerID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`INSERT INTO threads (owner_id) VALUES ($1) RETURNING id`, ownerID).
		Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating thread: %w", err)
	}
	return id, nil
}

// Resolve maps a caller-supplied thread identifier to an existing thread,
// creating a fresh one when the identifier is empty. A malformed identifier
// is ErrInvalidID; a well-formed identifier with no matching thread is
// ErrNotFound. Both are fatal to the request.
func (s *Store) Resolve(ctx context.Context, id, ownerID string) (uuid.UUID, error) {
	if id == "" {
		return s.Create(ctx, ownerID)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM threads WHERE id = $1)`, parsed).
		Scan(&exists)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolving thread %s: %w", parsed, err)
	}
	if !exists {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotFound, parsed)
	}
	return parsed, nil
}

// Append adds messages to a thread's log and bumps its updated_at.
func (s *Store) Append(ctx context.Context, threadID uuid.UUID, msgs ...Message) error {
	for _, m := range msgs {
		_, err := s.db.Exec(ctx,
			`INSERT INTO thread_messages (thread_id, role, content, sources)
			 VALUES ($1, $2, $3, $4)`,
			threadID, m.Role, m.Content, m.Sources)
		if err != nil {
			return fmt.Errorf("appending %s message to thread %s: %w", m.Role, threadID, err)
		}
	}

	_, err := s.db.Exec(ctx,
		`UPDATE threads SET updated_at = now() WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("touching thread %s: %w", threadID, err)
	}
	return nil
}

// History returns up to limit messages of a thread in chronological order.
// When the log exceeds limit, the most recent messages win: the model needs
// the latest turns, not the opening ones.
func (s *Store) History(ctx context.Context, threadID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, thread_id, role, content, sources, created_at
		 FROM thread_messages
		 WHERE thread_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.Sources, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading history for thread %s: %w", threadID, err)
	}

	// Rows arrive newest first; flip back to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
