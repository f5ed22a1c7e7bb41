package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/models"
)

// Entry is the cheap per-note record the reconciler diffs against the
// filesystem: enough to decide whether a file needs reading at all.
type Entry struct {
	ID    string
	Path  string
	Mtime int64
	Hash  string
}

// GraphNode is one note in the link graph.
type GraphNode struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
	Path  string `json:"path,omitempty"`
}

// GraphLink is one resolved edge in the link graph.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

const noteColumns = `id, type, filename, title, content, path, content_hash, file_mtime, created, modified`

func scanNote(row *sql.Row) (models.Note, error) {
	var n models.Note
	err := row.Scan(&n.ID, &n.Type, &n.Filename, &n.Title, &n.Content, &n.Path,
		&n.ContentHash, &n.FileMtime, &n.Created, &n.Modified)
	return n, err
}

// GetNote returns the indexed note with the given id.
func (db *DB) GetNote(id string) (models.Note, error) {
	n, err := scanNote(db.conn.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Note{}, fmt.Errorf("index: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Note{}, fmt.Errorf("index: get note: %w", err)
	}
	return n, nil
}

// GetByPath returns the indexed note at the given vault-relative path.
func (db *DB) GetByPath(path string) (models.Note, error) {
	n, err := scanNote(db.conn.QueryRow(`SELECT `+noteColumns+` FROM notes WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Note{}, fmt.Errorf("index: note at %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Note{}, fmt.Errorf("index: get note by path: %w", err)
	}
	return n, nil
}

// AllEntries returns id, path, mtime and hash for every indexed note.
func (db *DB) AllEntries() ([]Entry, error) {
	rows, err := db.conn.Query(`SELECT id, path, file_mtime, content_hash FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.Mtime, &e.Hash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListNotes returns a page of note summaries plus the total count for the
// filter. An empty noteType matches all notes. Sort is one of "modified",
// "created", "title" or "path"; anything else falls back to modified.
func (db *DB) ListNotes(limit, offset int, noteType, sort string) ([]models.NoteSummary, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var order string
	switch sort {
	case "created":
		order = `created DESC`
	case "title":
		order = `title COLLATE NOCASE ASC`
	case "path":
		order = `path ASC`
	default:
		order = `modified DESC`
	}

	where := ``
	args := []any{}
	if noteType != "" {
		where = `WHERE type = ?`
		args = append(args, noteType)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count notes: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := db.conn.Query(`
		SELECT id, type, filename, title, path, created, modified
		FROM notes `+where+`
		ORDER BY `+order+`
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list notes: %w", err)
	}
	defer rows.Close()

	var out []models.NoteSummary
	for rows.Next() {
		var s models.NoteSummary
		if err := rows.Scan(&s.ID, &s.Type, &s.Filename, &s.Title, &s.Path, &s.Created, &s.Modified); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// Backlinks returns every resolved inbound reference to the note.
func (db *DB) Backlinks(id string) ([]models.Backlink, error) {
	rows, err := db.conn.Query(`
		SELECT l.source_id, s.title, s.path, l.link_text, l.line_number
		FROM note_links l
		JOIN notes s ON s.id = l.source_id
		WHERE l.target_id = ?
		ORDER BY s.path, l.line_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []models.Backlink
	for rows.Next() {
		var b models.Backlink
		if err := rows.Scan(&b.SourceID, &b.SourceTitle, &b.SourcePath, &b.LinkText, &b.LineNumber); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Graph returns all notes as nodes and all resolved links as edges.
// Unresolved references are not edges; they surface only through backlinks
// once they heal.
func (db *DB) Graph() ([]GraphNode, []GraphLink, error) {
	nodeRows, err := db.conn.Query(`SELECT id, title, type, path FROM notes ORDER BY path`)
	if err != nil {
		return nil, nil, fmt.Errorf("index: graph nodes: %w", err)
	}
	defer nodeRows.Close()

	var nodes []GraphNode
	for nodeRows.Next() {
		var n GraphNode
		if err := nodeRows.Scan(&n.ID, &n.Title, &n.Type, &n.Path); err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, err
	}

	linkRows, err := db.conn.Query(`SELECT source_id, target_id FROM note_links WHERE target_id IS NOT NULL`)
	if err != nil {
		return nil, nil, fmt.Errorf("index: graph links: %w", err)
	}
	defer linkRows.Close()

	var links []GraphLink
	for linkRows.Next() {
		var l GraphLink
		if err := linkRows.Scan(&l.Source, &l.Target); err != nil {
			return nil, nil, err
		}
		links = append(links, l)
	}
	return nodes, links, linkRows.Err()
}
