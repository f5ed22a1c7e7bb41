// Package engine owns every mutation of the vault and the index. A single
// goroutine started by Run serializes filesystem events and client commands,
// so no mutex guards the tracker, the rename correlator or the write paths.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/othala/internal/classifier"
	"github.com/starford/othala/internal/correlator"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/notify"
	"github.com/starford/othala/internal/storage"
)

// ErrStopped is returned for commands submitted after Run has returned.
var ErrStopped = errors.New("engine: stopped")

const (
	// DefaultExpireTick is how often parked delete candidates are checked
	// against the rename window.
	DefaultExpireTick = 250 * time.Millisecond
	// DefaultReconcileWorkers bounds parallel file reads during a
	// reconciliation pass. Index writes stay on the engine goroutine.
	DefaultReconcileWorkers = 8
)

// Config tunes the engine. Zero values take the defaults.
type Config struct {
	SettleWindow     time.Duration
	WriteCeiling     time.Duration
	OpenNoteTTL      time.Duration
	RenameWindow     time.Duration
	ExpireTick       time.Duration
	ReconcileWorkers int
}

func (c Config) withDefaults() Config {
	if c.SettleWindow <= 0 {
		c.SettleWindow = classifier.DefaultSettleWindow
	}
	if c.WriteCeiling <= 0 {
		c.WriteCeiling = classifier.DefaultWriteCeiling
	}
	if c.OpenNoteTTL <= 0 {
		c.OpenNoteTTL = classifier.DefaultOpenTTL
	}
	if c.RenameWindow <= 0 {
		c.RenameWindow = correlator.DefaultWindow
	}
	if c.ExpireTick <= 0 {
		c.ExpireTick = DefaultExpireTick
	}
	if c.ReconcileWorkers <= 0 {
		c.ReconcileWorkers = DefaultReconcileWorkers
	}
	return c
}

// command is one client operation executed on the engine goroutine. The
// reply channel is buffered so the loop never blocks on a caller.
type command struct {
	fn  func() error
	err chan error
}

// Engine synchronizes the vault with the index. External file events arrive
// through Run's channel; client mutations arrive through the exported
// methods and are executed on the same goroutine.
type Engine struct {
	store  storage.Provider
	idx    index.NoteIndex
	bus    *notify.Bus
	logger *slog.Logger
	cfg    Config

	tracker *classifier.Tracker
	renames *correlator.Correlator

	cmds    chan command
	stopped chan struct{}
}

// New builds an engine over the given vault and index. bus may be nil when
// no subscriber cares about change notifications (the rebuild command).
func New(store storage.Provider, idx index.NoteIndex, bus *notify.Bus, logger *slog.Logger, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		store:  store,
		idx:    idx,
		bus:    bus,
		logger: logger,
		cfg:    cfg,
		tracker: classifier.New(classifier.Config{
			SettleWindow: cfg.SettleWindow,
			WriteCeiling: cfg.WriteCeiling,
			OpenTTL:      cfg.OpenNoteTTL,
		}),
		renames: correlator.New(cfg.RenameWindow),
		cmds:    make(chan command),
		stopped: make(chan struct{}),
	}
}

// Run processes events and commands until ctx is cancelled or events is
// closed. It may be called once; afterwards every command returns
// ErrStopped.
func (e *Engine) Run(ctx context.Context, events <-chan models.FileEvent) error {
	defer close(e.stopped)

	tick := time.NewTicker(e.cfg.ExpireTick)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drainCommands()
			return nil
		case ev, ok := <-events:
			if !ok {
				e.drainCommands()
				return nil
			}
			e.handleFileEvent(ctx, ev)
		case c := <-e.cmds:
			c.err <- c.fn()
		case <-tick.C:
			e.expireCandidates(time.Now())
		}
	}
}

// do runs fn on the engine goroutine and waits for its result. The cmds
// channel is unbuffered, so a submission accepted before shutdown is always
// executed and replied to.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	c := command{fn: fn, err: make(chan error, 1)}
	select {
	case e.cmds <- c:
		return <-c.err
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainCommands rejects commands that raced with shutdown, between the loop
// exiting and stopped closing.
func (e *Engine) drainCommands() {
	for {
		select {
		case c := <-e.cmds:
			c.err <- ErrStopped
		default:
			return
		}
	}
}

// expireCandidates applies parked deletes whose rename window ran out.
func (e *Engine) expireCandidates(now time.Time) {
	for _, cand := range e.renames.Expire(now) {
		row, err := e.idx.GetNote(cand.ID)
		if err != nil {
			continue
		}
		if row.Path != cand.OldPath {
			// The note moved on while parked; the rename was recorded by the
			// event that moved it.
			continue
		}
		if _, err := e.store.Stat(cand.OldPath); err == nil {
			// The file came back (editor save cycle); nothing to delete.
			continue
		}
		if err := e.idx.DeleteNote(cand.ID); err != nil {
			e.logger.Warn("engine: delete after remove failed",
				slog.String("id", cand.ID),
				slog.String("error", err.Error()))
			continue
		}
		e.publish(models.Change{ID: cand.ID, Kind: models.ChangeDeleted, Path: cand.OldPath})
	}
}

func (e *Engine) publish(c models.Change) {
	c.At = time.Now()
	e.logger.Debug("engine: change",
		slog.String("kind", string(c.Kind)),
		slog.String("id", c.ID),
		slog.String("path", c.Path))
	if e.bus != nil {
		e.bus.Publish(c)
	}
}
