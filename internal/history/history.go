// Package history persists lifecycle events (installs, starts, stops,
// crashes) in a small SQLite database so operators can reconstruct what
// happened to the server and when.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	kind   TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
`

// Event is one recorded lifecycle transition.
type Event struct {
	ID     int64     `json:"id"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Store records and queries events. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the event database at path. An empty
// path yields an in-memory store, useful for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	// SQLite behaves best with one writer connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("event store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record appends one event. Failures are logged, not returned; history
// must never block or fail a lifecycle operation.
func (s *Store) Record(kind, detail string) {
	_, err := s.db.Exec(
		`INSERT INTO events(kind, detail, at) VALUES (?, ?, ?)`,
		kind, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		slog.Warn("event record failed", "kind", kind, "err", err)
	}
}

// Recent returns up to limit events, newest first. A non-positive limit
// defaults to 50.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, detail, at FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		var at string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
