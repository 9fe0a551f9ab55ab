// Package journal keeps a durable, queryable record of agent work in
// SQLite: the task each session started with, the entries logged along the
// way, and periodic checkpoints that condense progress so far.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/parley-app/parley/internal/engine"
)

const (
	checkpointWindow = 20  // entries condensed into one checkpoint
	snippetLen       = 160 // content excerpt length inside a checkpoint
)

// Store is a SQLite-backed work journal.
type Store struct {
	db *sql.DB
}

var _ engine.Journal = (*Store)(nil)

// Open opens or creates the journal database at path. WAL mode with a busy
// timeout keeps concurrent readers from tripping over the single writer.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_sessions (
		session_id TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS work_entries (
		entry_id   INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind       TEXT NOT NULL,
		content    TEXT NOT NULL,
		importance INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES work_sessions(session_id)
	);

	CREATE TABLE IF NOT EXISTS work_checkpoints (
		checkpoint_id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL,
		entry_count   INTEGER NOT NULL,
		summary       TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES work_sessions(session_id)
	);

	CREATE INDEX IF NOT EXISTS idx_work_entries_session ON work_entries(session_id);
	CREATE INDEX IF NOT EXISTS idx_work_checkpoints_session ON work_checkpoints(session_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateSession opens a new journal session and returns its ID.
func (s *Store) CreateSession(ctx context.Context, title string) (string, error) {
	id := uuid.NewString()
	now := time.Now().Unix()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_sessions (session_id, title, status, created_at, updated_at) VALUES (?, ?, 'active', ?, ?)`,
		id, title, now, now)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// LogEntry appends one entry to a session.
func (s *Store) LogEntry(ctx context.Context, sessionID, kind, content string, importance int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_entries (session_id, kind, content, importance, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, kind, content, importance, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("log entry: %w", err)
	}
	return nil
}

// CreateCheckpoint condenses the session's recent entries into a stored
// snapshot, so a session can be understood without replaying every entry.
func (s *Store) CreateCheckpoint(ctx context.Context, sessionID string) error {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_entries WHERE session_id = ?`, sessionID).Scan(&total)
	if err != nil {
		return fmt.Errorf("count entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, content FROM work_entries WHERE session_id = ? ORDER BY entry_id DESC LIMIT ?`,
		sessionID, checkpointWindow)
	if err != nil {
		return fmt.Errorf("load recent entries: %w", err)
	}
	defer rows.Close()

	var recent []string
	for rows.Next() {
		var kind, content string
		if err := rows.Scan(&kind, &content); err != nil {
			return fmt.Errorf("scan entry: %w", err)
		}
		if len(content) > snippetLen {
			content = content[:snippetLen] + "..."
		}
		recent = append(recent, "["+kind+"] "+content)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entries: %w", err)
	}

	// Rows came back newest-first; checkpoints read chronologically.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_checkpoints (session_id, entry_count, summary, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, total, strings.Join(recent, "\n"), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	return nil
}

// UpdateSessionStatus sets the session's lifecycle status, one of active,
// completed, failed, or stopped.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		status, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	return nil
}

// Session is a stored work session.
type Session struct {
	ID        string
	Title     string
	Status    string
	CreatedAt int64
	UpdatedAt int64
}

// Sessions lists the most recent sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, status, created_at, updated_at FROM work_sessions ORDER BY created_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Entry is one stored journal entry.
type Entry struct {
	ID         int64
	SessionID  string
	Kind       string
	Content    string
	Importance int
	CreatedAt  int64
}

// Entries returns a session's entries in the order they were logged.
func (s *Store) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, session_id, kind, content, importance, created_at FROM work_entries WHERE session_id = ? ORDER BY entry_id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Content, &e.Importance, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Checkpoint is one stored snapshot of a session.
type Checkpoint struct {
	ID         int64
	SessionID  string
	EntryCount int
	Summary    string
	CreatedAt  int64
}

// Checkpoints returns a session's checkpoints in creation order.
func (s *Store) Checkpoints(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT checkpoint_id, session_id, entry_count, summary, created_at FROM work_checkpoints WHERE session_id = ? ORDER BY checkpoint_id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.ID, &cp.SessionID, &cp.EntryCount, &cp.Summary, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}
