// Package index provides the SQLite-backed rule store: rules, the installed
// app inventory, per-rule matches and the app properties record.
package index

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS rules (
	id                TEXT PRIMARY KEY,
	path              TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL DEFAULT '',
	company           TEXT NOT NULL DEFAULT '',
	icon_url          TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	safe_to_block     INTEGER NOT NULL DEFAULT 0,
	side_effect       TEXT NOT NULL DEFAULT '',
	contributors      TEXT NOT NULL DEFAULT '[]',
	keywords          TEXT NOT NULL DEFAULT '[]',
	use_regex         INTEGER NOT NULL DEFAULT 0,
	matched_app_count INTEGER NOT NULL DEFAULT 0,
	checksum          TEXT NOT NULL DEFAULT '',
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS apps (
	package_name TEXT PRIMARY KEY,
	label        TEXT NOT NULL DEFAULT '',
	version      TEXT NOT NULL DEFAULT '',
	components   TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS rule_matches (
	rule_id      TEXT NOT NULL,
	package_name TEXT NOT NULL,
	UNIQUE(rule_id, package_name)
);

CREATE INDEX IF NOT EXISTS idx_rule_matches_rule ON rule_matches(rule_id);

CREATE TABLE IF NOT EXISTS properties (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);
`

// DB wraps a sql.DB with rule-store operations.
//
// Every mutation of the rules table bumps a change notification so that
// Search feeds re-emit.
type DB struct {
	conn *sql.DB

	mu      sync.Mutex
	changed chan struct{}
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn, changed: make(chan struct{})}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// changes returns a channel closed on the next rules mutation.
func (db *DB) changes() <-chan struct{} {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.changed
}

func (db *DB) notify() {
	db.mu.Lock()
	close(db.changed)
	db.changed = make(chan struct{})
	db.mu.Unlock()
}
