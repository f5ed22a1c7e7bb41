// Package index provides the SQLite-backed note index with optional FTS5
// full-text search. The index is derived state: every row can be rebuilt
// from the vault, so schema changes are handled by clearing the store and
// letting reconciliation repopulate it.
package index

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is bumped whenever the table layout changes. An index built
// by another version is dropped wholesale; see Open.
const schemaVersion = 3

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL DEFAULT '',
	filename     TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	path         TEXT NOT NULL UNIQUE,
	content_hash TEXT NOT NULL DEFAULT '',
	file_mtime   INTEGER NOT NULL DEFAULT 0,
	created      DATETIME,
	modified     DATETIME
);

CREATE TABLE IF NOT EXISTS note_links (
	source_id    TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	target_id    TEXT REFERENCES notes(id) ON DELETE SET NULL,
	target_title TEXT NOT NULL DEFAULT '',
	link_text    TEXT NOT NULL DEFAULT '',
	line_number  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_notes_type ON notes(type);
CREATE INDEX IF NOT EXISTS idx_notes_modified ON notes(modified);
CREATE INDEX IF NOT EXISTS idx_links_source ON note_links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON note_links(target_id);
CREATE INDEX IF NOT EXISTS idx_links_target_title ON note_links(target_title);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn  *sql.DB
	reset bool
}

// Open opens (or creates) the SQLite database and applies the schema. When
// the stored schema version does not match this build, all tables are
// dropped and recreated; WasReset reports that so the caller can log the
// rebuild it triggers.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	if err := db.applySchema(); err != nil {
		return err
	}

	var stored int
	err := db.conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Fresh database.
		return db.setVersion()
	case err != nil:
		return fmt.Errorf("index: read schema version: %w", err)
	case stored == schemaVersion:
		return nil
	}

	// Another version built this index. The layout may differ in ways
	// CREATE IF NOT EXISTS cannot fix, so drop everything; the next
	// reconciliation re-derives it all from disk.
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS note_links`,
		`DROP TABLE IF EXISTS notes`,
		`DROP TABLE IF EXISTS schema_version`,
	} {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("index: drop old schema: %w", err)
		}
	}
	ftsDrop(db.conn)
	if err := db.applySchema(); err != nil {
		return err
	}
	if err := db.setVersion(); err != nil {
		return err
	}
	db.reset = true
	return nil
}

func (db *DB) applySchema() error {
	if _, err := db.conn.Exec(coreSchemaSQL); err != nil {
		return fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(db.conn); err != nil {
		return fmt.Errorf("index: apply fts schema: %w", err)
	}
	return nil
}

func (db *DB) setVersion() error {
	if _, err := db.conn.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("index: set schema version: %w", err)
	}
	return nil
}

// WasReset reports whether Open discarded an index built by another schema
// version.
func (db *DB) WasReset() bool {
	return db.reset
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
