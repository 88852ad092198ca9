// Package session persists chat sessions, messages and per-turn metrics to
// a local SQLite database.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    cwd TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    turns INTEGER DEFAULT 0,
    tool_calls INTEGER DEFAULT 0,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, sequence);
`

// Session is one recorded chat session.
type Session struct {
	ID           string
	Provider     string
	Model        string
	Cwd          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Turns        int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// Message is one recorded message.
type Message struct {
	SessionID string
	Role      string
	Content   string
	Sequence  int
	CreatedAt time.Time
}

// Store records sessions to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the session database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create starts a new session and returns its id.
func (s *Store) Create(ctx context.Context, provider, model, cwd string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, provider, model, cwd) VALUES (?, ?, ?, ?)`,
		id, provider, model, cwd)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// AppendMessage records one message with the next sequence number.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, sequence)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE session_id = ?))`,
		sessionID, role, content, sessionID)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecordTurn accumulates per-turn metrics onto the session row.
func (s *Store) RecordTurn(ctx context.Context, sessionID string, toolCalls, inputTokens, outputTokens int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			turns = turns + 1,
			tool_calls = tool_calls + ?,
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		toolCalls, inputTokens, outputTokens, sessionID)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// Get loads one session row.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, model, cwd, created_at, updated_at,
		       turns, tool_calls, input_tokens, output_tokens
		FROM sessions WHERE id = ?`, id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.Provider, &sess.Model, &sess.Cwd,
		&sess.CreatedAt, &sess.UpdatedAt,
		&sess.Turns, &sess.ToolCalls, &sess.InputTokens, &sess.OutputTokens)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// Messages returns a session's messages in sequence order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, role, content, sequence, created_at
		FROM messages WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.SessionID, &m.Role, &m.Content, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Recent lists the most recently updated sessions.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, model, cwd, created_at, updated_at,
		       turns, tool_calls, input_tokens, output_tokens
		FROM sessions ORDER BY updated_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Provider, &sess.Model, &sess.Cwd,
			&sess.CreatedAt, &sess.UpdatedAt,
			&sess.Turns, &sess.ToolCalls, &sess.InputTokens, &sess.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
