package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/noteservice"
)

// maxNoteBytes bounds note request bodies.
const maxNoteBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// noteID extracts the note id from the URL.
func noteID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes with optional pagination and filtering
//	@Tags			notes
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			type	query		string	false	"Filter by note type (top-level folder)"
//	@Param			sort	query		string	false	"Sort field"	Enums(modified, created, title, path)
//	@Success		200		{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	noteType := q.Get("type")
	sort := q.Get("sort")

	items, total, err := h.svc.ListNotes(r.Context(), limit, offset, noteType, sort)
	if err != nil {
		writeServiceError(w, err, "list notes failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes": items,
		"total": total,
	})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note by id
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	note, err := h.svc.GetNote(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get note failed", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// RawNote handles GET /api/notes/{id}/raw.
//
//	@Summary		Get the note's file bytes, header included
//	@Tags			notes
//	@Produce		text/markdown
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{string}	string
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/raw [get]
func (h *Handler) RawNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	data, err := h.svc.RawNote(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "raw note failed", slog.String("id", id))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNoteBytes)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	note, err := h.svc.CreateNote(r.Context(), req.Type, req.Title, req.Content)
	if err != nil {
		writeServiceError(w, err, "create note failed", slog.String("title", req.Title))
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Update a note with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Note id"
//	@Param			If-Match	header		string				false	"Content checksum for optimistic concurrency"
//	@Param			body		body		UpdateNoteRequest	true	"Updated content"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNoteBytes)
	id := noteID(r)
	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	note, err := h.svc.UpdateNote(r.Context(), id, req.Content, ifMatch)
	if err != nil {
		writeServiceError(w, err, "update note failed", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// RenameNote handles POST /api/notes/{id}/rename.
//
//	@Summary		Retitle a note; its file follows the new slug, the id stays
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Note id"
//	@Param			body	body		RenameNoteRequest	true	"New title"
//	@Success		200		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/rename [post]
func (h *Handler) RenameNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	var req RenameNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	note, err := h.svc.RenameNote(r.Context(), id, req.Title)
	if err != nil {
		writeServiceError(w, err, "rename note failed", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// MoveNote handles POST /api/notes/{id}/move.
//
//	@Summary		Move a note into another type folder
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Note id"
//	@Param			body	body		MoveNoteRequest	true	"Target type"
//	@Success		200		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/move [post]
func (h *Handler) MoveNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	var req MoveNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	note, err := h.svc.MoveNote(r.Context(), id, req.Type)
	if err != nil {
		writeServiceError(w, err, "move note failed", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.svc.DeleteNote(r.Context(), id); err != nil {
		writeServiceError(w, err, "delete note failed", slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OpenNote handles POST /api/notes/{id}/open.
//
//	@Summary		Mark a note as held open by an editor
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note registered"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/open [post]
func (h *Handler) OpenNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.svc.OpenNote(r.Context(), id); err != nil {
		writeServiceError(w, err, "open note failed", slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseNote handles DELETE /api/notes/{id}/open.
//
//	@Summary		Release the open mark on a note
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note released"
//	@Security		BearerAuth
//	@Router			/notes/{id}/open [delete]
func (h *Handler) CloseNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	if err := h.svc.CloseNote(r.Context(), id); err != nil {
		writeServiceError(w, err, "close note failed", slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backlinks handles GET /api/notes/{id}/backlinks.
//
//	@Summary		List inbound references to a note
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	BacklinksResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	back, err := h.svc.Backlinks(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "backlinks failed", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backlinks": back,
	})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeServiceError(w, err, "search failed", slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the note graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	nodes, links, err := h.svc.Graph(r.Context())
	if err != nil {
		writeServiceError(w, err, "graph failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"links": links,
	})
}
