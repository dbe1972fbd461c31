// Package store persists sessions and their transcripts in a local SQLite
// database so conversations survive restarts of the host process.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	cwd                TEXT NOT NULL,
	worker_session_id  TEXT NOT NULL DEFAULT '',
	context_tokens     INTEGER NOT NULL DEFAULT 0,
	cost_usd           REAL NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS transcript_entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	kind        TEXT NOT NULL,
	content     TEXT NOT NULL,
	tool_name   TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript_entries(session_id);
`

// Entry kinds stored in transcript_entries.
const (
	EntryPrompt = "prompt" // user prompt that started a query
	EntryText   = "text"   // one finalized assistant turn
	EntryTool   = "tool"   // one tool invocation summary
	EntryResult = "result" // terminal result text of a query
)

// SessionRecord mirrors one row of the sessions table.
type SessionRecord struct {
	ID              string
	Name            string
	Cwd             string
	WorkerSessionID string
	ContextTokens   int
	CostUSD         float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Entry is one transcript line.
type Entry struct {
	Kind      string
	Content   string
	ToolName  string
	CreatedAt time.Time
}

// Store wraps the archive database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database and ensures the schema is at
// the current version. An outdated schema is dropped and recreated; the
// archive is a convenience cache, the worker holds conversation state.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	ver, err := currentSchemaVersion(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}
	if ver < schemaVersion {
		if err := migrateSchema(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// currentSchemaVersion returns the schema version from schema_meta, or 0 for
// a fresh database.
func currentSchemaVersion(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_meta'
	`).Scan(&count)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	var ver int
	err = db.QueryRow("SELECT version FROM schema_meta LIMIT 1").Scan(&ver)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return ver, err
}

// migrateSchema drops all existing tables and recreates the current schema.
func migrateSchema(db *sql.DB) error {
	drops := []string{
		"DROP TABLE IF EXISTS transcript_entries",
		"DROP TABLE IF EXISTS sessions",
		"DROP TABLE IF EXISTS schema_meta",
	}
	for _, stmt := range drops {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}

	if _, err := db.Exec(schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := db.Exec("INSERT INTO schema_meta (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}

	return nil
}

// withTx runs fn in a transaction.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// now returns UTC time truncated to seconds (consistent with SQLite default).
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// UpsertSession inserts or updates a session row.
func (s *Store) UpsertSession(rec SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, name, cwd, worker_session_id, context_tokens, cost_usd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cwd = excluded.cwd,
			worker_session_id = excluded.worker_session_id,
			context_tokens = excluded.context_tokens,
			cost_usd = excluded.cost_usd,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Name, rec.Cwd, rec.WorkerSessionID, rec.ContextTokens, rec.CostUSD,
		rec.CreatedAt.Format(time.RFC3339), now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteSession removes a session and, via the foreign key cascade, its
// transcript.
func (s *Store) DeleteSession(id string) error {
	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// GetSession returns one session row, or nil when absent.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, name, cwd, worker_session_id, context_tokens, cost_usd, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions() ([]SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, name, cwd, worker_session_id, context_tokens, cost_usd, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var createdAt, updatedAt string
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Cwd, &rec.WorkerSessionID,
		&rec.ContextTokens, &rec.CostUSD, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

// AppendEntries appends several transcript lines atomically.
func (s *Store) AppendEntries(sessionID string, entries []Entry) error {
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO transcript_entries (session_id, kind, content, tool_name, created_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now()
			}
			if _, err := stmt.Exec(sessionID, e.Kind, e.Content, e.ToolName, e.CreatedAt.Format(time.RFC3339)); err != nil {
				return fmt.Errorf("append transcript entry: %w", err)
			}
		}
		return nil
	})
}

// AppendEntry appends one transcript line for a session.
func (s *Store) AppendEntry(sessionID string, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	_, err := s.db.Exec(`
		INSERT INTO transcript_entries (session_id, kind, content, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, e.Kind, e.Content, e.ToolName, e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

// Transcript returns a session's transcript in insertion order. A limit of 0
// returns everything; otherwise the most recent limit entries are returned.
func (s *Store) Transcript(sessionID string, limit int) ([]Entry, error) {
	query := `
		SELECT kind, content, tool_name, created_at
		FROM transcript_entries
		WHERE session_id = ?
		ORDER BY id
	`
	args := []any{sessionID}
	if limit > 0 {
		query = `
			SELECT kind, content, tool_name, created_at FROM (
				SELECT id, kind, content, tool_name, created_at
				FROM transcript_entries
				WHERE session_id = ?
				ORDER BY id DESC
				LIMIT ?
			) ORDER BY id
		`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.Kind, &e.Content, &e.ToolName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearTranscript removes a session's transcript but keeps the session row.
// Used after compaction when the caller chooses to archive only the summary.
func (s *Store) ClearTranscript(sessionID string) error {
	if _, err := s.db.Exec("DELETE FROM transcript_entries WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}
