// Package store persists calendar sources and manual events in SQLite. The
// artifact directory, not this database, is the source of truth for
// extracted events; the database holds the configuration that drives
// extraction plus the admin-entered one-offs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/stefi19/roomsched/internal/logging"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite handle.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies
// migrations. WAL mode keeps the single writer from blocking readers.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: logging.Component("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the handle.
func (s *Store) Close() error { return s.db.Close() }

// migrate creates the schema and applies the additive column migrations.
// Everything here is idempotent so it runs unconditionally at startup.
func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS calendars (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	primary_url TEXT NOT NULL UNIQUE,
	ics_url TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_fetched_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS manual_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	start_at TIMESTAMP NOT NULL,
	end_at TIMESTAMP NOT NULL,
	title TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	raw TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_manual_events_start ON manual_events(start_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}

	// Columns added after the initial schema shipped.
	additive := []struct{ table, column, decl string }{
		{"calendars", "building", "TEXT NOT NULL DEFAULT ''"},
		{"calendars", "room", "TEXT NOT NULL DEFAULT ''"},
		{"calendars", "email_address", "TEXT NOT NULL DEFAULT ''"},
	}
	for _, a := range additive {
		if err := s.ensureColumn(a.table, a.column, a.decl); err != nil {
			return err
		}
	}
	return nil
}

// ensureColumn adds a column if the table does not already have it.
func (s *Store) ensureColumn(table, column, decl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	exists := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			exists = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if exists {
		return nil
	}

	s.log.Info().Str("table", table).Str("column", column).Msg("adding column")
	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}
