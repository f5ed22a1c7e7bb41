package models

import "time"

// ChangeKind names the kind of mutation observed on a note.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
	// ChangeTouched means the file's mtime moved but its content hash did not.
	ChangeTouched ChangeKind = "touched"
)

// Change describes one observed note mutation as published to subscribers.
type Change struct {
	ID      string     `json:"id"`
	Kind    ChangeKind `json:"kind"`
	Path    string     `json:"path"`
	OldPath string     `json:"old_path,omitempty"`
	At      time.Time  `json:"at"`
}

// FileOp classifies a debounced filesystem observation.
type FileOp int

const (
	// FileWritten covers both creation and modification; the engine stats the
	// path to tell them apart.
	FileWritten FileOp = iota
	FileRemoved
	// FileResync is emitted when the watcher lost events (kernel queue
	// overflow) and the engine must fall back to a full reconciliation pass.
	FileResync
)

// FileEvent is one debounced observation delivered by the watcher.
type FileEvent struct {
	Path string
	Op   FileOp
	At   time.Time
}
