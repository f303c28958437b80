// Package snapshot persists conversation state to SQLite so sessions
// survive process restarts. One row per session holds the latest
// gzipped JSON state; a companion table records consumed signal IDs so
// redelivered signals (the transports are at-least-once) are dropped
// instead of replayed.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voyagehq/concierge-agent/internal/conversation"
)

// Store handles snapshot persistence. Safe for concurrent use (SQLite
// serializes writes).
type Store struct {
	db *sql.DB
}

// Meta describes a stored session without its full state.
type Meta struct {
	SessionID    string
	Status       conversation.Status
	UpdatedAt    time.Time
	MessageCount int
	ByteSize     int64
}

// NewStore opens (or creates) the snapshot database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			state_gz BLOB NOT NULL,
			byte_size INTEGER NOT NULL,
			message_count INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_updated
			ON snapshots(updated_at DESC);

		CREATE TABLE IF NOT EXISTS consumed_signals (
			session_id TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			consumed_at TEXT NOT NULL,
			PRIMARY KEY (session_id, signal_id)
		);
	`)
	return err
}

// Save upserts the latest state for the session. Called after every
// completed turn; only the newest snapshot per session is kept.
func (s *Store) Save(state *conversation.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(stateJSON); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	compressed := buf.Bytes()

	_, err = s.db.Exec(`
		INSERT INTO snapshots (session_id, status, updated_at, state_gz, byte_size, message_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE
		SET status = excluded.status,
		    updated_at = excluded.updated_at,
		    state_gz = excluded.state_gz,
		    byte_size = excluded.byte_size,
		    message_count = excluded.message_count
	`, state.SessionID, string(state.Status), time.Now().UTC().Format(time.RFC3339),
		compressed, len(compressed), len(state.Messages))
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load returns the stored state for a session, or nil if none exists.
func (s *Store) Load(sessionID string) (*conversation.State, error) {
	var stateGz []byte
	err := s.db.QueryRow(
		`SELECT state_gz FROM snapshots WHERE session_id = ?`, sessionID,
	).Scan(&stateGz)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	gr, err := gzip.NewReader(bytes.NewReader(stateGz))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	stateJSON, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var state conversation.State
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// List returns session metadata ordered by most recently updated.
func (s *Store) List() ([]Meta, error) {
	rows, err := s.db.Query(`
		SELECT session_id, status, updated_at, byte_size, message_count
		FROM snapshots
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var sessions []Meta
	for rows.Next() {
		var m Meta
		var status, updated string
		if err := rows.Scan(&m.SessionID, &status, &updated, &m.ByteSize, &m.MessageCount); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		m.Status = conversation.Status(status)
		m.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		sessions = append(sessions, m)
	}
	return sessions, rows.Err()
}

// Delete removes a session's snapshot and its consumed-signal records.
func (s *Store) Delete(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM consumed_signals WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete consumed signals: %w", err)
	}
	return nil
}

// MarkConsumed records a signal ID as processed for the session.
// Recording the same ID twice is a no-op.
func (s *Store) MarkConsumed(sessionID, signalID string) error {
	_, err := s.db.Exec(`
		INSERT INTO consumed_signals (session_id, signal_id, consumed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id, signal_id) DO NOTHING
	`, sessionID, signalID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	return nil
}

// Consumed reports whether a signal ID was already processed.
func (s *Store) Consumed(sessionID, signalID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM consumed_signals WHERE session_id = ? AND signal_id = ?`,
		sessionID, signalID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query consumed: %w", err)
	}
	return true, nil
}
