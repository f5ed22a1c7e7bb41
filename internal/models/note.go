// Package models defines the domain types for Othala.
package models

import "time"

// Note is the indexed representation of a vault note. Content carries the
// body text as last indexed; the authoritative bytes always live on disk.
type Note struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	FileMtime   int64     `json:"file_mtime"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// NoteSummary is a lightweight representation returned by list operations.
type NoteSummary struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`
	Path     string    `json:"path"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Link is one wiki-style reference extracted from a note body. TargetID is
// empty while the reference is unresolved; the row is kept so the link heals
// when a note with a matching id or title appears.
type Link struct {
	SourceID    string `json:"source_id"`
	TargetID    string `json:"target_id,omitempty"`
	TargetTitle string `json:"target_title"`
	LinkText    string `json:"link_text,omitempty"`
	LineNumber  int    `json:"line_number"`
}

// Backlink is a resolved inbound reference to a note.
type Backlink struct {
	SourceID    string `json:"source_id"`
	SourceTitle string `json:"source_title"`
	SourcePath  string `json:"source_path"`
	LinkText    string `json:"link_text,omitempty"`
	LineNumber  int    `json:"line_number"`
}

// FileInfo is the cheap per-file metadata returned by list and stat
// operations. Reconciliation compares Mtime against the stored value before
// deciding whether a file needs to be read at all.
type FileInfo struct {
	Path  string
	Mtime time.Time
	Size  int64
}
