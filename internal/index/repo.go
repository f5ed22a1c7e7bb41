package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/models"
)

// UpsertNote writes a note row, its link rows and its FTS entry within one
// transaction. Link targets are resolved in the same transaction: exact id
// match first, then title match; unresolved references get a NULL target_id
// and stay queryable by target_title. Inbound links broken before this note
// appeared are healed when its id or title matches their reference.
func (db *DB) UpsertNote(n models.Note, links []models.Link) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	// A different note may still hold this path, e.g. when an external tool
	// replaced the file wholesale. The path column is UNIQUE, so evict the
	// stale row first; its links cascade away with it.
	if err := evictPath(tx, n.Path, n.ID); err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO notes (id, type, filename, title, content, path, content_hash, file_mtime, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type         = excluded.type,
			filename     = excluded.filename,
			title        = excluded.title,
			content      = excluded.content,
			path         = excluded.path,
			content_hash = excluded.content_hash,
			file_mtime   = excluded.file_mtime,
			created      = excluded.created,
			modified     = excluded.modified
	`, n.ID, n.Type, n.Filename, n.Title, n.Content, n.Path, n.ContentHash, n.FileMtime, n.Created, n.Modified)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}

	if err := ftsUpsert(tx, n.ID, n.Title, n.Content); err != nil {
		return err
	}

	// Replace links: delete old then insert resolved rows.
	if _, err := tx.Exec(`DELETE FROM note_links WHERE source_id = ?`, n.ID); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}
	if len(links) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO note_links (source_id, target_id, target_title, link_text, line_number)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range links {
			var target any
			resolved, err := resolveTarget(tx, l.TargetTitle)
			if err != nil {
				return err
			}
			if resolved != "" {
				target = resolved
			}
			if _, err := stmt.Exec(n.ID, target, l.TargetTitle, l.LinkText, l.LineNumber); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	// Broken links elsewhere heal when their reference matches this note.
	_, err = tx.Exec(`
		UPDATE note_links SET target_id = ?
		WHERE target_id IS NULL AND (target_title = ? OR target_title = ?)
	`, n.ID, n.ID, n.Title)
	if err != nil {
		return fmt.Errorf("index: heal links: %w", err)
	}

	return tx.Commit()
}

// evictPath removes any note other than keepID that occupies path.
func evictPath(tx *sql.Tx, path, keepID string) error {
	var staleID string
	err := tx.QueryRow(`SELECT id FROM notes WHERE path = ? AND id <> ?`, path, keepID).Scan(&staleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: find stale path row: %w", err)
	}
	ftsDelete(tx, staleID)
	if _, err := tx.Exec(`DELETE FROM notes WHERE id = ?`, staleID); err != nil {
		return fmt.Errorf("index: evict stale path row: %w", err)
	}
	return nil
}

// resolveTarget maps a raw reference to a note id: exact id match first,
// then title match (ordered by path so ambiguous titles resolve stably).
// Returns "" when nothing matches.
func resolveTarget(tx *sql.Tx, ref string) (string, error) {
	var id string
	err := tx.QueryRow(`SELECT id FROM notes WHERE id = ?`, ref).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("index: resolve link target: %w", err)
	}
	err = tx.QueryRow(`SELECT id FROM notes WHERE title = ? ORDER BY path LIMIT 1`, ref).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: resolve link target: %w", err)
	}
	return id, nil
}

// DeleteNote removes a note and its FTS entry. Outgoing links cascade away;
// inbound links keep their rows with target_id set NULL so they heal if the
// note ever comes back.
func (db *DB) DeleteNote(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	res, err := tx.Exec(`DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: delete note %s: %w", id, apperr.ErrNotFound)
	}

	return tx.Commit()
}

// TouchNote records a new file mtime (unix nanoseconds) without rewriting
// anything else. Used when a file was rewritten with identical content.
func (db *DB) TouchNote(id string, mtime int64) error {
	res, err := db.conn.Exec(`UPDATE notes SET file_mtime = ? WHERE id = ?`, mtime, id)
	if err != nil {
		return fmt.Errorf("index: touch note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: touch note %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// RenameNote moves a note to a new path without touching content or links.
func (db *DB) RenameNote(id, path, filename, noteType string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := evictPath(tx, path, id); err != nil {
		return err
	}
	res, err := tx.Exec(`UPDATE notes SET path = ?, filename = ?, type = ? WHERE id = ?`,
		path, filename, noteType, id)
	if err != nil {
		return fmt.Errorf("index: rename note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: rename note %s: %w", id, apperr.ErrNotFound)
	}

	return tx.Commit()
}
