package index

import "github.com/starford/othala/internal/models"

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// NoteIndex defines the interface for note indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	UpsertNote(n models.Note, links []models.Link) error
	DeleteNote(id string) error
	TouchNote(id string, mtime int64) error
	RenameNote(id, path, filename, noteType string) error
	GetNote(id string) (models.Note, error)
	GetByPath(path string) (models.Note, error)
	AllEntries() ([]Entry, error)
	ListNotes(limit, offset int, noteType, sort string) ([]models.NoteSummary, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(id string) ([]models.Backlink, error)
	Graph() ([]GraphNode, []GraphLink, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
