// Package store persists terminal registrations, inbox messages, and
// flow definitions in a local SQLite database. Status is never stored
// here; it is always recomputed from terminal output.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS terminals (
	id            TEXT PRIMARY KEY,
	session_name  TEXT NOT NULL,
	window_name   TEXT NOT NULL,
	provider      TEXT NOT NULL,
	agent_profile TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	last_active   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inbox_messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	message     TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inbox_receiver_status
	ON inbox_messages (receiver_id, status);

CREATE TABLE IF NOT EXISTS flows (
	name          TEXT PRIMARY KEY,
	file_path     TEXT NOT NULL,
	schedule      TEXT NOT NULL,
	agent_profile TEXT NOT NULL,
	provider      TEXT NOT NULL,
	script        TEXT NOT NULL DEFAULT '',
	enabled       INTEGER NOT NULL DEFAULT 1,
	last_run      TEXT,
	next_run      TEXT
);
`

// Store wraps the SQLite handle. All methods are safe for concurrent
// use; SQLite serializes writers underneath database/sql.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under concurrent
	// delivery and scheduler writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed-width so stored timestamps compare correctly as
// strings in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t := parseTime(value.String)
	return &t
}
