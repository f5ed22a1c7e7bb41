package engine

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/classifier"
	"github.com/starford/othala/internal/identity"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/notefile"
)

func (e *Engine) handleFileEvent(ctx context.Context, ev models.FileEvent) {
	switch ev.Op {
	case models.FileResync:
		e.logger.Warn("engine: watcher overflow, reconciling vault")
		if _, err := e.reconcile(ctx); err != nil {
			e.logger.Error("engine: resync failed", slog.String("error", err.Error()))
		}
	case models.FileRemoved:
		e.handleRemoved(ev)
	case models.FileWritten:
		e.handleWritten(ev)
	}
}

func (e *Engine) handleWritten(ev models.FileEvent) {
	info, err := e.store.Stat(ev.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Gone between the debounce firing and us getting here.
			e.handleRemoved(ev)
			return
		}
		e.logger.Warn("engine: stat failed",
			slog.String("path", ev.Path),
			slog.String("error", err.Error()))
		return
	}
	if e.tracker.Classify(ev.Path, info.Mtime, time.Now()) == classifier.VerdictInternal {
		e.logger.Debug("engine: own write echo", slog.String("path", ev.Path))
		return
	}
	if _, err := e.syncFile(ev.Path, info); err != nil {
		e.logger.Warn("engine: sync failed",
			slog.String("path", ev.Path),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) handleRemoved(ev models.FileEvent) {
	now := time.Now()
	if e.tracker.Classify(ev.Path, time.Time{}, now) == classifier.VerdictInternal {
		return
	}
	row, err := e.idx.GetByPath(ev.Path)
	if err != nil {
		// Nothing indexed at this path.
		return
	}
	// Park instead of deleting: a write carrying the same id inside the
	// window turns this into a rename, otherwise the expiry tick applies it.
	e.renames.Add(row.ID, ev.Path, now)
}

// syncFile brings one on-disk file into the index. The caller has already
// ruled the event external.
func (e *Engine) syncFile(p string, info models.FileInfo) (models.ChangeKind, error) {
	row, err := e.idx.GetByPath(p)
	if err == nil && row.FileMtime == info.Mtime.UnixNano() {
		// First tier: same mtime as stored, nothing to read.
		return "", nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}
	data, err := e.store.Read(p)
	if err != nil {
		return "", err
	}
	_, kind, err := e.applyFile(p, info, data, checksum.Sum(data))
	return kind, err
}

// applyFile reconciles the given file content with the index and publishes
// the resulting change. It is the single sink for external writes, both
// event-driven and reconciliation-driven, and returns the note id with the
// primary change kind ("" when the index already matched).
func (e *Engine) applyFile(p string, info models.FileInfo, data []byte, hash string) (string, models.ChangeKind, error) {
	now := time.Now()
	mtime := info.Mtime.UnixNano()

	row, rowErr := e.idx.GetByPath(p)
	if rowErr != nil && !errors.Is(rowErr, apperr.ErrNotFound) {
		return "", "", rowErr
	}
	haveRow := rowErr == nil

	// Second tier: same content at the same path. At most the mtime moved.
	if haveRow && row.ContentHash == hash {
		if row.FileMtime == mtime {
			return row.ID, "", nil
		}
		if err := e.idx.TouchNote(row.ID, mtime); err != nil {
			return "", "", err
		}
		e.publish(models.Change{ID: row.ID, Kind: models.ChangeTouched, Path: p})
		return row.ID, models.ChangeTouched, nil
	}

	doc, _ := notefile.Parse(data)
	id, generated := identity.Ensure(doc)
	if generated {
		var err error
		if data, info, err = e.writeBack(p, doc, info); err != nil {
			return "", "", err
		}
		hash = checksum.Sum(data)
		mtime = info.Mtime.UnixNano()
		e.logger.Info("engine: stamped note id",
			slog.String("id", id),
			slog.String("path", p))
	}

	existing, exErr := e.idx.GetNote(id)
	if exErr != nil && !errors.Is(exErr, apperr.ErrNotFound) {
		return "", "", exErr
	}

	kind := models.ChangeCreated
	oldPath := ""
	switch {
	case exErr == nil && existing.Path == p:
		kind = models.ChangeModified
	case exErr == nil:
		// The id lives at another path.
		if _, ok := e.renames.Take(id, now); ok {
			kind = models.ChangeRenamed
			oldPath = existing.Path
		} else if _, statErr := e.store.Stat(existing.Path); statErr == nil {
			// Both files exist: the note was copied. First writer keeps the
			// id; the newcomer gets a fresh one.
			fresh := identity.New()
			e.logger.Warn("engine: duplicate note id",
				slog.String("id", id),
				slog.String("kept", existing.Path),
				slog.String("restamped", p))
			doc.SetID(fresh)
			var err error
			if data, info, err = e.writeBack(p, doc, info); err != nil {
				return "", "", err
			}
			hash = checksum.Sum(data)
			mtime = info.Mtime.UnixNano()
			id = fresh
		} else {
			// Old file gone without a correlated remove event (missed,
			// expired, or an offline move found by reconciliation).
			kind = models.ChangeRenamed
			oldPath = existing.Path
		}
	}

	// A different note may have owned this path before; the index eviction
	// happens inside the upsert or rename below, the announcement here.
	evicted := ""
	if haveRow && row.ID != id {
		evicted = row.ID
	}

	if kind == models.ChangeRenamed {
		e.tracker.Rename(oldPath, p)
		if existing.ContentHash == hash {
			// Pure move, content untouched: update the row in place.
			if err := e.idx.RenameNote(id, p, path.Base(p), noteType(p)); err != nil {
				return "", "", err
			}
			if existing.FileMtime != mtime {
				if err := e.idx.TouchNote(id, mtime); err != nil {
					return "", "", err
				}
			}
			if evicted != "" {
				e.publish(models.Change{ID: evicted, Kind: models.ChangeDeleted, Path: p})
			}
			e.publish(models.Change{ID: id, Kind: models.ChangeRenamed, Path: p, OldPath: oldPath})
			return id, models.ChangeRenamed, nil
		}
		// Moved and edited: fall through to the full upsert. The rename
		// publish carries both facts.
	}

	var prev models.Note
	if exErr == nil && existing.ID == id {
		prev = existing
	}
	n := e.buildNote(id, p, doc, hash, mtime, prev)
	if err := e.idx.UpsertNote(n, buildLinks(id, doc.Body())); err != nil {
		return "", "", err
	}
	if evicted != "" {
		e.publish(models.Change{ID: evicted, Kind: models.ChangeDeleted, Path: p})
	}
	e.publish(models.Change{ID: id, Kind: kind, Path: p, OldPath: oldPath})
	return id, kind, nil
}

// writeBack serializes doc to p through the tracked write path, so the
// watcher echo classifies as internal. It returns the written bytes and
// fresh file metadata.
func (e *Engine) writeBack(p string, doc *notefile.Document, info models.FileInfo) ([]byte, models.FileInfo, error) {
	data := doc.Serialize()
	e.tracker.BeginWrite(p, time.Now())
	if err := e.store.Write(p, data); err != nil {
		e.tracker.AbortWrite(p)
		return nil, info, err
	}
	st, err := e.store.Stat(p)
	if err != nil {
		// Keep the stale metadata; the next event will re-read the file.
		st = info
	}
	e.tracker.FinishWrite(p, st.Mtime, time.Now())
	return data, st, nil
}

// buildNote derives the index row from a parsed document. prev is the
// note's previous row, zero for a new note; it anchors the created time
// when the header has none.
func (e *Engine) buildNote(id, p string, doc *notefile.Document, hash string, mtime int64, prev models.Note) models.Note {
	filename := path.Base(p)
	body := doc.Body()

	title := doc.Title()
	if title == "" {
		title = notefile.FirstHeading(body)
	}
	if title == "" {
		title = strings.TrimSuffix(filename, ".md")
	}

	created := doc.Created()
	if created.IsZero() {
		created = prev.Created
	}
	if created.IsZero() {
		created = time.Unix(0, mtime)
	}
	modified := doc.Updated()
	if modified.IsZero() {
		modified = time.Unix(0, mtime)
	}

	return models.Note{
		ID:          id,
		Type:        noteType(p),
		Filename:    filename,
		Title:       title,
		Content:     body,
		Path:        p,
		ContentHash: hash,
		FileMtime:   mtime,
		Created:     created,
		Modified:    modified,
	}
}

// noteType is the top-level folder a note lives in, "" at the vault root.
func noteType(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

func buildLinks(sourceID, body string) []models.Link {
	refs := notefile.ExtractLinks(body)
	if len(refs) == 0 {
		return nil
	}
	links := make([]models.Link, 0, len(refs))
	for _, r := range refs {
		links = append(links, models.Link{
			SourceID:    sourceID,
			TargetTitle: r.Target,
			LinkText:    r.Display,
			LineNumber:  r.Line,
		})
	}
	return links
}
