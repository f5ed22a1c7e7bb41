package api

import (
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Type    string `json:"type" example:"notes"`
	Title   string `json:"title" example:"My first note" validate:"required"`
	Content string `json:"content" example:"# Hello\nWorld"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// RenameNoteRequest is the request body for retitling a note.
type RenameNoteRequest struct {
	Title string `json:"title" example:"Better title" validate:"required"`
}

// MoveNoteRequest is the request body for moving a note between types.
type MoveNoteRequest struct {
	Type string `json:"type" example:"archive"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteSummary is a lightweight item in a list response (aliased from the domain layer).
type NoteSummary = models.NoteSummary

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteSummary `json:"notes" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	ID      string `json:"id" example:"n-4f21ab09" validate:"required"`
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Title   string `json:"title" example:"Hello" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// GraphNode is a node in the note graph.
type GraphNode struct {
	ID    string `json:"id" example:"n-4f21ab09" validate:"required"`
	Title string `json:"title,omitempty" example:"Hello"`
	Type  string `json:"type,omitempty" example:"notes"`
	Path  string `json:"path,omitempty" example:"notes/hello.md"`
}

// GraphLink is an edge in the note graph.
type GraphLink struct {
	Source string `json:"source" example:"n-4f21ab09" validate:"required"`
	Target string `json:"target" example:"n-9c03de55" validate:"required"`
}

// GraphResponse wraps the note graph.
type GraphResponse struct {
	Nodes []GraphNode `json:"nodes" validate:"required"`
	Links []GraphLink `json:"links" validate:"required"`
}

// BacklinksResponse wraps inbound references to one note.
type BacklinksResponse struct {
	Backlinks []models.Backlink `json:"backlinks" validate:"required"`
}

// AttachmentUploadResponse is returned after a successful attachment upload.
type AttachmentUploadResponse struct {
	Filename string `json:"filename" example:"image.png" validate:"required"`
	Size     int64  `json:"size" example:"12345" validate:"required"`
	URL      string `json:"url" example:"/attachments/image.png" validate:"required"`
}
