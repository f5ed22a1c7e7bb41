// Package noteservice is the facade the HTTP and MCP surfaces share. Reads
// are answered from the index; every mutation goes through the engine so the
// vault stays the source of truth and the write is tracked as internal.
package noteservice

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/engine"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/storage"
)

// NoteDetail is the full representation of a note. Content is the note body
// as indexed; Raw returns the exact file bytes including the header.
type NoteDetail struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Path      string            `json:"path"`
	Content   string            `json:"content"`
	Checksum  string            `json:"checksum"`
	Backlinks []models.Backlink `json:"backlinks"`
	Created   time.Time         `json:"created"`
	Modified  time.Time         `json:"modified"`
}

// Service coordinates index reads and engine writes.
type Service struct {
	store storage.Provider
	idx   index.NoteIndex
	eng   *engine.Engine
}

// NewService creates a new note service.
func NewService(store storage.Provider, idx index.NoteIndex, eng *engine.Engine) *Service {
	return &Service{store: store, idx: idx, eng: eng}
}

// GetNote returns the indexed note enriched with backlinks.
func (s *Service) GetNote(_ context.Context, id string) (*NoteDetail, error) {
	n, err := s.idx.GetNote(id)
	if err != nil {
		return nil, err
	}
	return s.detail(n)
}

// RawNote returns the note's file bytes, header included.
func (s *Service) RawNote(_ context.Context, id string) ([]byte, error) {
	n, err := s.idx.GetNote(id)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(n.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Row exists but the file vanished; reconciliation will catch up.
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// CreateNote mints a new note of the given type.
func (s *Service) CreateNote(ctx context.Context, noteType, title, content string) (*NoteDetail, error) {
	n, err := s.eng.Create(ctx, noteType, title, content)
	if err != nil {
		return nil, err
	}
	return s.detail(n)
}

// UpdateNote replaces a note's content with optimistic concurrency: when
// ifMatch is set it must equal the stored content checksum.
func (s *Service) UpdateNote(ctx context.Context, id, content, ifMatch string) (*NoteDetail, error) {
	if ifMatch != "" {
		current, err := s.idx.GetNote(id)
		if err != nil {
			return nil, err
		}
		if current.ContentHash != ifMatch {
			return nil, apperr.ErrConflict
		}
	}
	n, err := s.eng.Write(ctx, id, content)
	if err != nil {
		return nil, err
	}
	return s.detail(n)
}

// RenameNote retitles the note; the file follows the new title's slug.
func (s *Service) RenameNote(ctx context.Context, id, newTitle string) (*NoteDetail, error) {
	n, err := s.eng.Rename(ctx, id, newTitle)
	if err != nil {
		return nil, err
	}
	return s.detail(n)
}

// MoveNote relocates the note into another type folder.
func (s *Service) MoveNote(ctx context.Context, id, newType string) (*NoteDetail, error) {
	n, err := s.eng.Move(ctx, id, newType)
	if err != nil {
		return nil, err
	}
	return s.detail(n)
}

// DeleteNote removes the note's file and index row.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	return s.eng.Delete(ctx, id)
}

// OpenNote marks the note as held open by an editor client.
func (s *Service) OpenNote(ctx context.Context, id string) error {
	return s.eng.RegisterOpenNote(ctx, id)
}

// CloseNote releases the open mark.
func (s *Service) CloseNote(ctx context.Context, id string) error {
	return s.eng.ReleaseOpenNote(ctx, id)
}

// ListNotes returns paginated note summaries with optional type filter.
func (s *Service) ListNotes(_ context.Context, limit, offset int, noteType, sort string) ([]models.NoteSummary, int, error) {
	rows, total, err := s.idx.ListNotes(limit, offset, noteType, sort)
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(rows), total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	res, err := s.idx.Search(query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Graph returns all nodes and resolved links for graph visualization.
func (s *Service) Graph(_ context.Context) ([]index.GraphNode, []index.GraphLink, error) {
	nodes, links, err := s.idx.Graph()
	if err != nil {
		return nil, nil, err
	}
	return nonNilSlice(nodes), nonNilSlice(links), nil
}

// Backlinks returns inbound references to the note.
func (s *Service) Backlinks(_ context.Context, id string) ([]models.Backlink, error) {
	if _, err := s.idx.GetNote(id); err != nil {
		return nil, err
	}
	back, err := s.idx.Backlinks(id)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(back), nil
}

func (s *Service) detail(n models.Note) (*NoteDetail, error) {
	back, err := s.idx.Backlinks(n.ID)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Path:      n.Path,
		Content:   n.Content,
		Checksum:  n.ContentHash,
		Backlinks: nonNilSlice(back),
		Created:   n.Created,
		Modified:  n.Modified,
	}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
