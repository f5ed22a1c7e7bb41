package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
)

// reconcileReadRetries bounds re-reads of files that are mid-save when the
// pass reaches them.
const reconcileReadRetries = 3

// Stats summarizes one reconciliation pass.
type Stats struct {
	Scanned   int
	Unchanged int
	Created   int
	Modified  int
	Touched   int
	Renamed   int
	Deleted   int
	// Degraded lists paths that could not be read or applied; their index
	// rows are kept as-is.
	Degraded []string
}

// Reconcile walks the whole vault and converges the index on it: new files
// are indexed, edits re-indexed, vanished rows deleted. Call it before Run
// to absorb offline changes, or on a fresh index to build it; the event
// loop triggers its own passes after watcher overflow. The pass is
// idempotent, a second run right after performs no writes.
func (e *Engine) Reconcile(ctx context.Context) (Stats, error) {
	return e.reconcile(ctx)
}

type readResult struct {
	data    []byte
	hash    string
	err     error
	missing bool
}

func (e *Engine) reconcile(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	files, err := e.store.List("")
	if err != nil {
		return stats, fmt.Errorf("engine: list vault: %w", err)
	}
	entries, err := e.idx.AllEntries()
	if err != nil {
		return stats, fmt.Errorf("engine: list index: %w", err)
	}
	stats.Scanned = len(files)

	byPath := make(map[string]index.Entry, len(entries))
	for _, en := range entries {
		byPath[en.Path] = en
	}

	onDisk := make(map[string]bool, len(files))
	seen := make(map[string]bool)

	// First tier: a stored mtime that matches the file needs no read at all.
	var toRead []models.FileInfo
	for _, fi := range files {
		onDisk[fi.Path] = true
		if en, ok := byPath[fi.Path]; ok && en.Mtime == fi.Mtime.UnixNano() {
			seen[en.ID] = true
			stats.Unchanged++
			continue
		}
		toRead = append(toRead, fi)
	}

	// Read and hash candidates in parallel; all index writes stay serial on
	// the calling goroutine below.
	results := make([]readResult, len(toRead))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ReconcileWorkers)
	for i, fi := range toRead {
		g.Go(func() error {
			data, err := e.readFile(gctx, fi.Path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				results[i] = readResult{missing: true}
			case err != nil:
				results[i] = readResult{err: err}
			default:
				results[i] = readResult{data: data, hash: checksum.Sum(data)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	for i, fi := range toRead {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		res := results[i]
		switch {
		case res.missing:
			// Deleted while the pass ran; the delete sweep below picks it up.
			delete(onDisk, fi.Path)
			continue
		case res.err != nil:
			stats.Degraded = append(stats.Degraded, fi.Path)
			e.logger.Warn("engine: reconcile read failed",
				slog.String("path", fi.Path),
				slog.String("error", res.err.Error()))
			// An unreadable file is not a deleted one; keep its row.
			if en, ok := byPath[fi.Path]; ok {
				seen[en.ID] = true
			}
			continue
		}
		id, kind, err := e.applyFile(fi.Path, fi, res.data, res.hash)
		if err != nil {
			stats.Degraded = append(stats.Degraded, fi.Path)
			e.logger.Warn("engine: reconcile apply failed",
				slog.String("path", fi.Path),
				slog.String("error", err.Error()))
			if en, ok := byPath[fi.Path]; ok {
				seen[en.ID] = true
			}
			continue
		}
		seen[id] = true
		switch kind {
		case models.ChangeCreated:
			stats.Created++
		case models.ChangeModified:
			stats.Modified++
		case models.ChangeTouched:
			stats.Touched++
		case models.ChangeRenamed:
			stats.Renamed++
		default:
			stats.Unchanged++
		}
	}

	// Deletes last: a row whose id resurfaced at another path was a rename
	// the applies above already recorded.
	for _, en := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if onDisk[en.Path] || seen[en.ID] {
			continue
		}
		if err := e.idx.DeleteNote(en.ID); err != nil {
			e.logger.Warn("engine: reconcile delete failed",
				slog.String("id", en.ID),
				slog.String("error", err.Error()))
			continue
		}
		stats.Deleted++
		e.publish(models.Change{ID: en.ID, Kind: models.ChangeDeleted, Path: en.Path})
	}

	e.logger.Info("engine: reconcile complete",
		slog.Int("scanned", stats.Scanned),
		slog.Int("created", stats.Created),
		slog.Int("modified", stats.Modified),
		slog.Int("touched", stats.Touched),
		slog.Int("renamed", stats.Renamed),
		slog.Int("deleted", stats.Deleted),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("degraded", len(stats.Degraded)),
		slog.Duration("took", time.Since(start)))
	return stats, nil
}

// readFile reads one vault file, retrying transient errors with backoff. A
// missing file is permanent, the delete sweep owns that case.
func (e *Engine) readFile(ctx context.Context, p string) ([]byte, error) {
	// BackOff implementations are stateful; always build a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond

	var data []byte
	op := func() error {
		var err error
		data, err = e.store.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, reconcileReadRetries), ctx))
	if err != nil {
		return nil, err
	}
	return data, nil
}
