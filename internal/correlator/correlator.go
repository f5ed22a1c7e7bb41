// Package correlator pairs delete and create events that belong to one
// rename. Editors and file managers move files by removing the old path and
// writing the new one; the watcher reports two events. The engine parks the
// delete here, and when a create with the same note id arrives inside the
// window the pair collapses into a rename. Deletes that stay unclaimed past
// the window are real.
package correlator

import (
	"sort"
	"time"
)

// DefaultWindow is how long a delete waits for its matching create.
const DefaultWindow = time.Second

// Candidate is a parked delete.
type Candidate struct {
	ID      string
	OldPath string
}

type parked struct {
	oldPath  string
	deadline time.Time
}

// Correlator holds pending delete candidates keyed by note id. Matching by
// id means concurrent renames of different notes never cross-pair. Not safe
// for concurrent use: the engine loop owns it.
type Correlator struct {
	window  time.Duration
	pending map[string]parked
}

// New returns a correlator with the given window, defaulting when zero.
func New(window time.Duration) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Correlator{window: window, pending: map[string]parked{}}
}

// Add parks a delete of id at oldPath. A later delete of the same id
// replaces the earlier one.
func (c *Correlator) Add(id, oldPath string, now time.Time) {
	c.pending[id] = parked{oldPath: oldPath, deadline: now.Add(c.window)}
}

// Take claims the parked delete for id, if one is still inside the window.
func (c *Correlator) Take(id string, now time.Time) (oldPath string, ok bool) {
	p, found := c.pending[id]
	if !found {
		return "", false
	}
	delete(c.pending, id)
	if !now.Before(p.deadline) {
		return "", false
	}
	return p.oldPath, true
}

// Expire removes and returns every candidate past its deadline, sorted by id
// for stable processing. The caller applies them as true deletes.
func (c *Correlator) Expire(now time.Time) []Candidate {
	var out []Candidate
	for id, p := range c.pending {
		if !now.Before(p.deadline) {
			out = append(out, Candidate{ID: id, OldPath: p.oldPath})
			delete(c.pending, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports how many deletes are parked.
func (c *Correlator) Len() int {
	return len(c.pending)
}
