package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/othala/internal/engine"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/noteservice"
	"github.com/starford/othala/internal/storage"
)

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()

	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}

	dbFile, err := os.CreateTemp("", "othala-mcp-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eng := engine.New(store, db, nil, logger, engine.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, make(chan models.FileEvent)) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := noteservice.NewService(store, db, eng)
	return New(svc, store), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we call
	// the handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "update_note":
		result, err = srv.updateNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "get_note_contract":
		result, err = srv.getNoteContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// createViaTool creates a note and returns its minted id.
func createViaTool(t *testing.T, srv *Server, noteType, title, content string) string {
	t.Helper()
	r := callTool(t, srv, "create_note", map[string]interface{}{
		"type": noteType, "title": title, "content": content,
	})
	if r.IsError {
		t.Fatalf("create_note failed: %s", resultText(r))
	}
	var note struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &note); err != nil {
		t.Fatalf("create_note result not JSON: %v", err)
	}
	if note.ID == "" {
		t.Fatal("create_note returned no id")
	}
	return note.ID
}

func TestCreateAndReadNote(t *testing.T) {
	srv, _ := testServer(t)

	id := createViaTool(t, srv, "notes", "Test Note", "Hello body.")

	r := callTool(t, srv, "read_note", map[string]interface{}{"id": id})
	text := resultText(r)
	if !strings.Contains(text, "id: "+id) {
		t.Errorf("read result missing identity header: %q", text)
	}
	if !strings.Contains(text, "Hello body.") {
		t.Errorf("read result missing body: %q", text)
	}
}

func TestUpdateNote(t *testing.T) {
	srv, _ := testServer(t)
	id := createViaTool(t, srv, "", "Mutable", "First draft.")

	r := callTool(t, srv, "update_note", map[string]interface{}{
		"id": id, "content": "Second draft.",
	})
	if r.IsError {
		t.Fatalf("update_note failed: %s", resultText(r))
	}

	r = callTool(t, srv, "read_note", map[string]interface{}{"id": id})
	if text := resultText(r); !strings.Contains(text, "Second draft.") {
		t.Errorf("read after update = %q", text)
	}
}

func TestUpdateNote_ForeignIDRejected(t *testing.T) {
	srv, _ := testServer(t)
	id := createViaTool(t, srv, "", "Pinned", "body")

	r := callTool(t, srv, "update_note", map[string]interface{}{
		"id": id, "content": "---\nid: n-ffffffff\n---\n\nHijack.\n",
	})
	if !r.IsError {
		t.Error("expected error when content carries a foreign id")
	}
}

func TestListNotes(t *testing.T) {
	srv, _ := testServer(t)
	a := createViaTool(t, srv, "notes", "Alpha", "a")
	b := createViaTool(t, srv, "journal", "Beta", "b")

	r := callTool(t, srv, "list_notes", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, a) || !strings.Contains(text, b) {
		t.Errorf("list missing ids: %q", text)
	}

	r = callTool(t, srv, "list_notes", map[string]interface{}{"type": "journal"})
	text = resultText(r)
	if strings.Contains(text, a) || !strings.Contains(text, b) {
		t.Errorf("filtered list = %q, want only %s", text, b)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"id": "n-00000000"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestSearchNotes(t *testing.T) {
	srv, _ := testServer(t)
	id := createViaTool(t, srv, "", "Findable", "contains quintessence here")

	r := callTool(t, srv, "search_notes", map[string]interface{}{"query": "quintessence"})
	if text := resultText(r); !strings.Contains(text, id) {
		t.Errorf("search result = %q, want id %s", text, id)
	}
}

func TestGetBacklinks(t *testing.T) {
	srv, _ := testServer(t)
	target := createViaTool(t, srv, "", "Target", "I get linked to.")
	source := createViaTool(t, srv, "", "Source", "links to [["+target+"]]")

	r := callTool(t, srv, "get_backlinks", map[string]interface{}{"id": target})
	if text := resultText(r); !strings.Contains(text, source) {
		t.Errorf("backlinks = %q, want source %s", text, source)
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"id": source})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks for source = %q", text)
	}
}

func TestNoteContractMentionsIdentity(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_note_contract", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "id: n-") {
		t.Errorf("contract does not show the id header: %q", text)
	}
	if !strings.Contains(text, "upload_asset") {
		t.Error("contract does not mention the upload_asset tool")
	}
}
