// Package watcher turns raw fsnotify events into debounced per-file
// observations. Editors produce bursts (create, several writes, chmod) for
// one logical save; a trailing per-path debounce collapses each burst into a
// single FileEvent for the engine.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/storage"
)

// DefaultDebounce is the trailing quiet period per path.
const DefaultDebounce = 100 * time.Millisecond

type pendingEvent struct {
	op    models.FileOp
	timer *time.Timer
}

// Watcher watches a vault root and emits debounced FileEvents.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

// New creates a watcher for the vault root. Debounce defaults when zero.
func New(root string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		logger:   logger,
		pending:  map[string]*pendingEvent{},
	}
}

// Run starts the fsnotify watcher on the vault root and emits events on out
// until ctx is cancelled. New directories created at runtime are added to
// the watch list, and markdown files inside them are announced as writes so
// that a directory moved into the vault is picked up whole. A kernel event
// queue overflow degrades to a single FileResync event; the engine answers
// with a full reconciliation pass.
func (w *Watcher) Run(ctx context.Context, out chan<- models.FileEvent) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.root); err != nil {
		return err
	}

	w.logger.Info("watcher: started", slog.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			w.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, ev, out)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(watchErr, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher: event queue overflowed, requesting resync")
				w.emit(ctx, out, models.FileEvent{Op: models.FileResync, At: time.Now()})
				continue
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event, out chan<- models.FileEvent) {
	absPath := ev.Name

	// New directories: add to the watch list and announce their files.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
			if storage.SkipDir(filepath.Base(absPath)) {
				return
			}
			if addErr := addDirsRecursive(fw, absPath); addErr != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", absPath),
					slog.String("error", addErr.Error()))
			} else {
				w.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
			}
			w.scheduleDir(ctx, absPath, out)
			return
		}
	}

	if !strings.HasSuffix(absPath, ".md") {
		return
	}
	rel, relErr := filepath.Rel(w.root, absPath)
	if relErr != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// Chmod matters: `touch` surfaces as an attribute change, and the
	// engine's mtime-then-hash filter makes processing it cheap.
	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.schedule(ctx, rel, models.FileRemoved, out)
	case ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Chmod) != 0:
		w.schedule(ctx, rel, models.FileWritten, out)
	}
}

// schedule arms (or re-arms) the trailing debounce timer for rel. Within a
// burst the latest op wins: a remove right after a write is a remove.
func (w *Watcher) schedule(ctx context.Context, rel string, op models.FileOp, out chan<- models.FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[rel]; ok {
		p.op = op
		p.timer.Reset(w.debounce)
		return
	}
	p := &pendingEvent{op: op}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx, rel, out) })
	w.pending[rel] = p
}

func (w *Watcher) fire(ctx context.Context, rel string, out chan<- models.FileEvent) {
	w.mu.Lock()
	p, ok := w.pending[rel]
	if ok {
		delete(w.pending, rel)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	w.emit(ctx, out, models.FileEvent{Path: rel, Op: p.op, At: time.Now()})
}

func (w *Watcher) emit(ctx context.Context, out chan<- models.FileEvent, ev models.FileEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, rel)
	}
}

// scheduleDir announces every markdown file under a newly watched directory.
func (w *Watcher) scheduleDir(ctx context.Context, dir string, out chan<- models.FileEvent) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && storage.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		w.schedule(ctx, filepath.ToSlash(rel), models.FileWritten, out)
		return nil
	})
}

// addDirsRecursive adds root and all its non-skipped subdirectories to the
// watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && storage.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
