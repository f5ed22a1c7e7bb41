// Package classifier decides whether a filesystem event was caused by this
// process or by an external program. The engine announces its own writes
// before touching disk; when the corresponding watcher event arrives it is
// matched against that record and suppressed instead of re-synced.
package classifier

import "time"

// Verdict is the origin of a filesystem event.
type Verdict int

const (
	// VerdictExternal means another program changed the file.
	VerdictExternal Verdict = iota
	// VerdictInternal means the event echoes one of our own writes.
	VerdictInternal
)

func (v Verdict) String() string {
	if v == VerdictInternal {
		return "internal"
	}
	return "external"
}

const (
	// DefaultSettleWindow is how long after a finished write its echo event
	// is still recognized.
	DefaultSettleWindow = 2 * time.Second
	// DefaultWriteCeiling bounds the life of any write record. A write that
	// never finishes must not suppress external edits forever.
	DefaultWriteCeiling = 3 * time.Second
	// DefaultOpenTTL bounds the open-note registry for clients that never
	// release.
	DefaultOpenTTL = 30 * time.Minute
)

// Config tunes the tracker windows. Zero values take the defaults.
type Config struct {
	SettleWindow time.Duration
	WriteCeiling time.Duration
	OpenTTL      time.Duration
}

type writeState int

const (
	writeInFlight writeState = iota
	writeSettled
)

type pending struct {
	state    writeState
	mtime    time.Time
	deadline time.Time
}

type openNote struct {
	path     string
	deadline time.Time
}

// Tracker holds the per-path write state machine and the open-note registry.
// It is not safe for concurrent use: the engine loop owns it, and every
// method takes the loop's clock explicitly. Records self-expire and are
// pruned on each call, so a missed FinishWrite or ReleaseOpen degrades to a
// short window of suppression, never a leak.
type Tracker struct {
	settleWindow time.Duration
	writeCeiling time.Duration
	openTTL      time.Duration

	writes map[string]pending  // keyed by vault-relative path
	open   map[string]openNote // keyed by note id
}

// New returns a tracker with cfg's windows, defaulting any that are zero.
func New(cfg Config) *Tracker {
	if cfg.SettleWindow <= 0 {
		cfg.SettleWindow = DefaultSettleWindow
	}
	if cfg.WriteCeiling <= 0 {
		cfg.WriteCeiling = DefaultWriteCeiling
	}
	if cfg.OpenTTL <= 0 {
		cfg.OpenTTL = DefaultOpenTTL
	}
	return &Tracker{
		settleWindow: cfg.SettleWindow,
		writeCeiling: cfg.WriteCeiling,
		openTTL:      cfg.OpenTTL,
		writes:       map[string]pending{},
		open:         map[string]openNote{},
	}
}

// BeginWrite records that a write to path is about to happen. Events on the
// path classify as internal until FinishWrite settles it or the ceiling
// expires it.
func (t *Tracker) BeginWrite(path string, now time.Time) {
	t.prune(now)
	t.writes[path] = pending{state: writeInFlight, deadline: now.Add(t.writeCeiling)}
}

// FinishWrite records the mtime the write left behind. For deletes the mtime
// is the zero time, matching the zero mtime a remove event classifies with.
func (t *Tracker) FinishWrite(path string, mtime time.Time, now time.Time) {
	t.prune(now)
	t.writes[path] = pending{state: writeSettled, mtime: mtime, deadline: now.Add(t.settleWindow)}
}

// AbortWrite drops the record for a write that failed before reaching disk.
func (t *Tracker) AbortWrite(path string) {
	delete(t.writes, path)
}

// Classify reports whether an event on path with the observed mtime is an
// echo of our own write. Remove events classify with the zero mtime. The
// open-note registry wins over all timing state.
func (t *Tracker) Classify(path string, mtime time.Time, now time.Time) Verdict {
	t.prune(now)
	for _, o := range t.open {
		if o.path == path {
			return VerdictInternal
		}
	}
	p, ok := t.writes[path]
	if !ok {
		return VerdictExternal
	}
	if p.state == writeInFlight {
		return VerdictInternal
	}
	if p.mtime.Equal(mtime) {
		return VerdictInternal
	}
	// Settled, but the file changed again after our write.
	return VerdictExternal
}

// RegisterOpen marks a note as held open by a client. All events on its path
// are internal until release or TTL expiry. Registering again refreshes the
// TTL and the path.
func (t *Tracker) RegisterOpen(id, path string, now time.Time) {
	t.prune(now)
	t.open[id] = openNote{path: path, deadline: now.Add(t.openTTL)}
}

// ReleaseOpen removes a note from the open registry.
func (t *Tracker) ReleaseOpen(id string) {
	delete(t.open, id)
}

// RefreshOpen extends the TTL of an open note. A no-op when the note is not
// registered, so callers can refresh unconditionally on sanctioned writes.
func (t *Tracker) RefreshOpen(id string, now time.Time) {
	if o, ok := t.open[id]; ok {
		o.deadline = now.Add(t.openTTL)
		t.open[id] = o
	}
}

// Rename re-keys open registrations when a note's file moves.
func (t *Tracker) Rename(oldPath, newPath string) {
	for id, o := range t.open {
		if o.path == oldPath {
			o.path = newPath
			t.open[id] = o
		}
	}
}

func (t *Tracker) prune(now time.Time) {
	for path, p := range t.writes {
		if !now.Before(p.deadline) {
			delete(t.writes, path)
		}
	}
	for id, o := range t.open {
		if !now.Before(o.deadline) {
			delete(t.open, id)
		}
	}
}
