package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/identity"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/notefile"
)

// maxSlugVariants bounds the -2, -3, ... probe for a free filename.
const maxSlugVariants = 1000

// Write replaces the note's file content. The id header may be omitted from
// content (it is re-stamped) but never changed.
func (e *Engine) Write(ctx context.Context, id, content string) (models.Note, error) {
	var n models.Note
	err := e.do(ctx, func() error {
		var err error
		n, err = e.write(id, content)
		return err
	})
	return n, err
}

func (e *Engine) write(id, content string) (models.Note, error) {
	row, err := e.idx.GetNote(id)
	if err != nil {
		return models.Note{}, err
	}
	doc, _ := notefile.Parse([]byte(content))
	switch docID := doc.ID(); {
	case docID == "":
		doc.SetID(id)
	case docID != id:
		return models.Note{}, fmt.Errorf("engine: header id %s does not match %s: %w",
			docID, id, apperr.ErrIdentityImmutable)
	}
	now := time.Now()
	doc.SetTime("updated", now)

	data, info, err := e.writeBack(row.Path, doc, models.FileInfo{Path: row.Path})
	if err != nil {
		return models.Note{}, err
	}
	n := e.buildNote(id, row.Path, doc, checksum.Sum(data), info.Mtime.UnixNano(), row)
	if err := e.idx.UpsertNote(n, buildLinks(id, doc.Body())); err != nil {
		return models.Note{}, err
	}
	e.tracker.RefreshOpen(id, now)
	e.publish(models.Change{ID: id, Kind: models.ChangeModified, Path: row.Path})
	return n, nil
}

// Create mints a new note of the given type. The filename is derived from
// the title; collisions get a numeric suffix.
func (e *Engine) Create(ctx context.Context, noteType, title, body string) (models.Note, error) {
	var n models.Note
	err := e.do(ctx, func() error {
		var err error
		n, err = e.create(noteType, title, body)
		return err
	})
	return n, err
}

func (e *Engine) create(typ, title, body string) (models.Note, error) {
	dir := ""
	if typ != "" {
		dir = slugify(typ)
	}
	p, _, err := e.uniquePath(dir, slugify(title))
	if err != nil {
		return models.Note{}, err
	}

	id := identity.New()
	now := time.Now()
	doc := notefile.New()
	doc.SetID(id)
	if title != "" {
		doc.Set("title", title)
	}
	doc.SetTime("created", now)
	doc.SetTime("updated", now)
	doc.SetBody(body)

	data, info, err := e.writeBack(p, doc, models.FileInfo{Path: p})
	if err != nil {
		return models.Note{}, err
	}
	n := e.buildNote(id, p, doc, checksum.Sum(data), info.Mtime.UnixNano(), models.Note{})
	if err := e.idx.UpsertNote(n, buildLinks(id, doc.Body())); err != nil {
		return models.Note{}, err
	}
	e.publish(models.Change{ID: id, Kind: models.ChangeCreated, Path: p})
	return n, nil
}

// Rename retitles the note and moves its file to the matching slug. The id
// survives the move.
func (e *Engine) Rename(ctx context.Context, id, newTitle string) (models.Note, error) {
	var n models.Note
	err := e.do(ctx, func() error {
		var err error
		n, err = e.rename(id, newTitle)
		return err
	})
	return n, err
}

func (e *Engine) rename(id, newTitle string) (models.Note, error) {
	row, err := e.idx.GetNote(id)
	if err != nil {
		return models.Note{}, err
	}
	data, err := e.store.Read(row.Path)
	if err != nil {
		return models.Note{}, err
	}
	doc, _ := notefile.Parse(data)
	if doc.ID() == "" {
		doc.SetID(id)
	}
	doc.Set("title", newTitle)
	now := time.Now()
	doc.SetTime("updated", now)

	slug := slugify(newTitle)
	newPath := slug + ".md"
	if row.Type != "" {
		newPath = row.Type + "/" + newPath
	}

	if newPath == row.Path {
		// The new title lands on the same filename: a plain content write.
		wdata, info, err := e.writeBack(row.Path, doc, models.FileInfo{Path: row.Path})
		if err != nil {
			return models.Note{}, err
		}
		n := e.buildNote(id, row.Path, doc, checksum.Sum(wdata), info.Mtime.UnixNano(), row)
		if err := e.idx.UpsertNote(n, buildLinks(id, doc.Body())); err != nil {
			return models.Note{}, err
		}
		e.tracker.RefreshOpen(id, now)
		e.publish(models.Change{ID: id, Kind: models.ChangeModified, Path: row.Path})
		return n, nil
	}

	if free, err := e.pathFree(newPath); err != nil {
		return models.Note{}, err
	} else if !free {
		if newPath, _, err = e.uniquePath(row.Type, slug); err != nil {
			return models.Note{}, err
		}
	}

	// Write the new path first, then drop the old one. Both are tracked so
	// neither echo comes back as external.
	wdata, info, err := e.writeBack(newPath, doc, models.FileInfo{Path: newPath})
	if err != nil {
		return models.Note{}, err
	}
	e.tracker.BeginWrite(row.Path, now)
	if err := e.store.Delete(row.Path); err != nil {
		e.tracker.AbortWrite(row.Path)
		e.logger.Warn("engine: old file left behind after rename",
			slog.String("path", row.Path),
			slog.String("error", err.Error()))
	} else {
		e.tracker.FinishWrite(row.Path, time.Time{}, time.Now())
	}
	e.tracker.Rename(row.Path, newPath)

	n := e.buildNote(id, newPath, doc, checksum.Sum(wdata), info.Mtime.UnixNano(), row)
	if err := e.idx.UpsertNote(n, buildLinks(id, doc.Body())); err != nil {
		return models.Note{}, err
	}
	e.tracker.RefreshOpen(id, now)
	e.publish(models.Change{ID: id, Kind: models.ChangeRenamed, Path: newPath, OldPath: row.Path})
	return n, nil
}

// Move relocates the note into another type folder, keeping its filename
// and content.
func (e *Engine) Move(ctx context.Context, id, newType string) (models.Note, error) {
	var n models.Note
	err := e.do(ctx, func() error {
		var err error
		n, err = e.move(id, newType)
		return err
	})
	return n, err
}

func (e *Engine) move(id, typ string) (models.Note, error) {
	row, err := e.idx.GetNote(id)
	if err != nil {
		return models.Note{}, err
	}
	dir := ""
	if typ != "" {
		dir = slugify(typ)
	}
	if dir == row.Type {
		return row, nil
	}

	newPath := row.Filename
	if dir != "" {
		newPath = dir + "/" + row.Filename
	}
	newFilename := row.Filename
	if free, err := e.pathFree(newPath); err != nil {
		return models.Note{}, err
	} else if !free {
		stem := strings.TrimSuffix(row.Filename, ".md")
		if newPath, newFilename, err = e.uniquePath(dir, stem); err != nil {
			return models.Note{}, err
		}
	}

	now := time.Now()
	oldPath := row.Path
	e.tracker.BeginWrite(oldPath, now)
	e.tracker.BeginWrite(newPath, now)
	if err := e.store.Move(oldPath, newPath); err != nil {
		e.tracker.AbortWrite(oldPath)
		e.tracker.AbortWrite(newPath)
		return models.Note{}, err
	}
	e.tracker.FinishWrite(oldPath, time.Time{}, time.Now())
	info, statErr := e.store.Stat(newPath)
	if statErr == nil {
		e.tracker.FinishWrite(newPath, info.Mtime, time.Now())
	} else {
		e.tracker.FinishWrite(newPath, time.Time{}, time.Now())
	}
	e.tracker.Rename(oldPath, newPath)

	if err := e.idx.RenameNote(id, newPath, newFilename, dir); err != nil {
		return models.Note{}, err
	}
	// rename(2) keeps the mtime, but a cross-device move may not.
	if statErr == nil && info.Mtime.UnixNano() != row.FileMtime {
		if err := e.idx.TouchNote(id, info.Mtime.UnixNano()); err != nil {
			return models.Note{}, err
		}
		row.FileMtime = info.Mtime.UnixNano()
	}
	row.Path = newPath
	row.Filename = newFilename
	row.Type = dir
	e.publish(models.Change{ID: id, Kind: models.ChangeRenamed, Path: newPath, OldPath: oldPath})
	return row, nil
}

// Delete removes the note's file and its index row.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.do(ctx, func() error {
		return e.deleteNote(id)
	})
}

func (e *Engine) deleteNote(id string) error {
	row, err := e.idx.GetNote(id)
	if err != nil {
		return err
	}
	e.tracker.BeginWrite(row.Path, time.Now())
	if err := e.store.Delete(row.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.tracker.AbortWrite(row.Path)
		return err
	}
	e.tracker.FinishWrite(row.Path, time.Time{}, time.Now())
	e.tracker.ReleaseOpen(id)
	if err := e.idx.DeleteNote(id); err != nil {
		return err
	}
	e.publish(models.Change{ID: id, Kind: models.ChangeDeleted, Path: row.Path})
	return nil
}

// RegisterOpenNote marks the note as open in an editor, widening the
// internal-write window for its path.
func (e *Engine) RegisterOpenNote(ctx context.Context, id string) error {
	return e.do(ctx, func() error {
		row, err := e.idx.GetNote(id)
		if err != nil {
			return err
		}
		e.tracker.RegisterOpen(id, row.Path, time.Now())
		return nil
	})
}

// ReleaseOpenNote drops the open mark. Unknown ids are a no-op.
func (e *Engine) ReleaseOpenNote(ctx context.Context, id string) error {
	return e.do(ctx, func() error {
		e.tracker.ReleaseOpen(id)
		return nil
	})
}

// uniquePath returns the first free path under dir for the given slug,
// probing slug.md, slug-2.md, slug-3.md, ...
func (e *Engine) uniquePath(dir, slug string) (p, filename string, err error) {
	for i := 1; i <= maxSlugVariants; i++ {
		name := slug
		if i > 1 {
			name = fmt.Sprintf("%s-%d", slug, i)
		}
		filename = name + ".md"
		p = filename
		if dir != "" {
			p = dir + "/" + filename
		}
		free, err := e.pathFree(p)
		if err != nil {
			return "", "", err
		}
		if free {
			return p, filename, nil
		}
	}
	return "", "", fmt.Errorf("engine: no free filename for %q: %w", slug, apperr.ErrConflict)
}

// pathFree reports whether p is unclaimed on disk and in the index.
func (e *Engine) pathFree(p string) (bool, error) {
	if _, err := e.store.Stat(p); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if _, err := e.idx.GetByPath(p); err == nil {
		return false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	return true, nil
}

// slugify turns a title into a filesystem-safe stem: lowercase, ASCII
// alphanumerics, runs of anything else collapsed to a single dash.
func slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	if b.Len() == 0 {
		return "note"
	}
	return b.String()
}
