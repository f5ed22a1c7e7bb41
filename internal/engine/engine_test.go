package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/identity"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/notify"
	"github.com/starford/othala/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testIndex(t *testing.T) *index.DB {
	t.Helper()
	f, err := os.CreateTemp("", "othala-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := index.Open(f.Name())
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type harness struct {
	dir     string
	store   *storage.FS
	idx     *index.DB
	eng     *Engine
	events  chan models.FileEvent
	changes chan models.Change
}

// startEngine runs an engine loop against a real vault directory and a real
// index, with a short rename window so expiry-driven tests stay fast.
func startEngine(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatalf("storage.NewFS: %v", err)
	}
	idx := testIndex(t)
	bus := notify.NewBus()
	t.Cleanup(bus.Close)

	eng := New(store, idx, bus, testLogger(), Config{
		RenameWindow: 150 * time.Millisecond,
		ExpireTick:   20 * time.Millisecond,
	})
	events := make(chan models.FileEvent, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{
		dir:     dir,
		store:   store,
		idx:     idx,
		eng:     eng,
		events:  events,
		changes: bus.Subscribe(),
	}
}

func (h *harness) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(h.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) readFile(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func (h *harness) send(rel string, op models.FileOp) {
	h.events <- models.FileEvent{Path: rel, Op: op, At: time.Now()}
}

func waitChange(t *testing.T, ch <-chan models.Change) models.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a change")
		return models.Change{}
	}
}

func expectQuiet(t *testing.T, ch <-chan models.Change, d time.Duration) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected %s change for %s", c.Kind, c.ID)
	case <-time.After(d):
	}
}

func TestEngine_ExternalCreate(t *testing.T) {
	h := startEngine(t)

	h.writeFile(t, "first.md", "---\nid: n-11111111\ntitle: First\n---\n\nHello there.\n")
	h.send("first.md", models.FileWritten)

	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeCreated {
		t.Fatalf("kind = %s, want created", c.Kind)
	}
	if c.ID != "n-11111111" {
		t.Errorf("id = %q, want n-11111111", c.ID)
	}
	n, err := h.idx.GetNote("n-11111111")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Title != "First" || n.Path != "first.md" {
		t.Errorf("note = %q at %q, want First at first.md", n.Title, n.Path)
	}
}

func TestEngine_StampsMissingID(t *testing.T) {
	h := startEngine(t)

	h.writeFile(t, "x.md", "# Captured thought\n\nJust a body.\n")
	h.send("x.md", models.FileWritten)

	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeCreated {
		t.Fatalf("kind = %s, want created", c.Kind)
	}
	if !identity.Valid(c.ID) {
		t.Fatalf("stamped id %q is not canonical", c.ID)
	}
	if got := h.readFile(t, "x.md"); !strings.Contains(got, "id: "+c.ID) {
		t.Errorf("file was not rewritten with the id:\n%s", got)
	}
	n, err := h.idx.GetNote(c.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Title != "Captured thought" {
		t.Errorf("title = %q, want heading fallback", n.Title)
	}

	// The write-back echo must classify as internal.
	h.send("x.md", models.FileWritten)
	expectQuiet(t, h.changes, 300*time.Millisecond)
}

func TestEngine_SuppressesOwnWriteEcho(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	n, err := h.eng.Create(ctx, "", "Quiet", "body")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c := waitChange(t, h.changes); c.Kind != models.ChangeCreated {
		t.Fatalf("kind = %s, want created", c.Kind)
	}

	if _, err := h.eng.Write(ctx, n.ID, "updated body"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if c := waitChange(t, h.changes); c.Kind != models.ChangeModified {
		t.Fatalf("kind = %s, want modified", c.Kind)
	}

	// What the watcher would deliver for our own save.
	h.send(n.Path, models.FileWritten)
	expectQuiet(t, h.changes, 300*time.Millisecond)
}

func TestEngine_TouchedOnMtimeOnlyChange(t *testing.T) {
	h := startEngine(t)

	h.writeFile(t, "t.md", "---\nid: n-22222222\n---\n\nStable content.\n")
	h.send("t.md", models.FileWritten)
	waitChange(t, h.changes)
	before, err := h.idx.GetNote("n-22222222")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}

	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(h.dir, "t.md"), later, later); err != nil {
		t.Fatal(err)
	}
	h.send("t.md", models.FileWritten)

	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeTouched {
		t.Fatalf("kind = %s, want touched", c.Kind)
	}
	after, err := h.idx.GetNote("n-22222222")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if after.ContentHash != before.ContentHash {
		t.Error("content hash changed on a touch")
	}
	if after.FileMtime == before.FileMtime {
		t.Error("file mtime was not updated")
	}
}

func TestEngine_ModifiedOnContentChange(t *testing.T) {
	h := startEngine(t)

	h.writeFile(t, "m.md", "---\nid: n-33333333\n---\n\nVersion one.\n")
	h.send("m.md", models.FileWritten)
	waitChange(t, h.changes)

	h.writeFile(t, "m.md", "---\nid: n-33333333\n---\n\nVersion two.\n")
	h.send("m.md", models.FileWritten)

	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeModified {
		t.Fatalf("kind = %s, want modified", c.Kind)
	}
	n, err := h.idx.GetNote("n-33333333")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if !strings.Contains(n.Content, "Version two.") {
		t.Errorf("content = %q, want the new version", n.Content)
	}
}

func TestEngine_CorrelatesRename(t *testing.T) {
	h := startEngine(t)

	h.writeFile(t, "old.md", "---\nid: n-44444444\n---\n\nMoving day.\n")
	h.send("old.md", models.FileWritten)
	waitChange(t, h.changes)

	if err := os.Rename(filepath.Join(h.dir, "old.md"), filepath.Join(h.dir, "new.md")); err != nil {
		t.Fatal(err)
	}
	h.send("old.md", models.FileRemoved)
	h.send("new.md", models.FileWritten)

	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeRenamed {
		t.Fatalf("kind = %s, want renamed", c.Kind)
	}
	if c.ID != "n-44444444" || c.OldPath != "old.md" || c.Path != "new.md" {
		t.Errorf("change = %+v, want n-44444444 old.md -> new.md", c)
	}
	n, err := h.idx.GetNote("n-44444444")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Path != "new.md" {
		t.Errorf("path = %q, want new.md", n.Path)
	}
	// No delete may surface once the window expires.
	expectQuiet(t, h.changes, 400*time.Millisecond)
}

func TestEngine_DeleteAfterWindowExpires(t *testing.T) {
	h := startEngine(t)

	h.writeFile(t, "gone.md", "---\nid: n-55555555\n---\n\nSoon gone.\n")
	h.send("gone.md", models.FileWritten)
	waitChange(t, h.changes)

	if err := os.Remove(filepath.Join(h.dir, "gone.md")); err != nil {
		t.Fatal(err)
	}
	h.send("gone.md", models.FileRemoved)

	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeDeleted {
		t.Fatalf("kind = %s, want deleted", c.Kind)
	}
	if _, err := h.idx.GetNote("n-55555555"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetNote after delete = %v, want ErrNotFound", err)
	}
}

func TestEngine_RestampsDuplicateID(t *testing.T) {
	h := startEngine(t)

	content := "---\nid: n-66666666\n---\n\nOriginal.\n"
	h.writeFile(t, "a.md", content)
	h.send("a.md", models.FileWritten)
	waitChange(t, h.changes)

	// A copy, not a rename: both files exist.
	h.writeFile(t, "b.md", content)
	h.send("b.md", models.FileWritten)

	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeCreated {
		t.Fatalf("kind = %s, want created", c.Kind)
	}
	if c.ID == "n-66666666" || !identity.Valid(c.ID) {
		t.Fatalf("copy id = %q, want a fresh canonical id", c.ID)
	}
	if got := h.readFile(t, "b.md"); !strings.Contains(got, "id: "+c.ID) {
		t.Errorf("copy was not restamped:\n%s", got)
	}
	orig, err := h.idx.GetNote("n-66666666")
	if err != nil {
		t.Fatalf("GetNote original: %v", err)
	}
	if orig.Path != "a.md" {
		t.Errorf("original path = %q, want a.md", orig.Path)
	}
}

func TestEngine_CreateDerivesSlugAndSuffix(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	n, err := h.eng.Create(ctx, "notes", "My First Note!", "Hello.")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.Path != "notes/my-first-note.md" {
		t.Errorf("path = %q, want notes/my-first-note.md", n.Path)
	}
	if !identity.Valid(n.ID) {
		t.Errorf("id = %q, want canonical", n.ID)
	}
	if got := h.readFile(t, n.Path); !strings.Contains(got, "id: "+n.ID) {
		t.Errorf("file missing id header:\n%s", got)
	}

	again, err := h.eng.Create(ctx, "notes", "My First Note!", "Second.")
	if err != nil {
		t.Fatalf("Create again: %v", err)
	}
	if again.Path != "notes/my-first-note-2.md" {
		t.Errorf("second path = %q, want notes/my-first-note-2.md", again.Path)
	}
}

func TestEngine_WriteRejectsForeignID(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	n, err := h.eng.Create(ctx, "", "Pinned", "body")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = h.eng.Write(ctx, n.ID, "---\nid: n-ffffffff\n---\n\nHijack.\n")
	if !errors.Is(err, apperr.ErrIdentityImmutable) {
		t.Errorf("Write = %v, want ErrIdentityImmutable", err)
	}
}

func TestEngine_RenameMovesFile(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	n, err := h.eng.Create(ctx, "notes", "Alpha", "body")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitChange(t, h.changes)

	renamed, err := h.eng.Rename(ctx, n.ID, "Beta Gamma")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if renamed.Path != "notes/beta-gamma.md" || renamed.Title != "Beta Gamma" {
		t.Errorf("renamed = %q %q, want notes/beta-gamma.md Beta Gamma", renamed.Path, renamed.Title)
	}
	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeRenamed || c.OldPath != "notes/alpha.md" {
		t.Errorf("change = %+v, want renamed from notes/alpha.md", c)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "notes", "alpha.md")); !errors.Is(err, os.ErrNotExist) {
		t.Error("old file still on disk")
	}
	if got := h.readFile(t, "notes/beta-gamma.md"); !strings.Contains(got, "id: "+n.ID) {
		t.Error("id did not survive the rename")
	}

	// Neither echo may come back as external.
	h.send("notes/alpha.md", models.FileRemoved)
	h.send("notes/beta-gamma.md", models.FileWritten)
	expectQuiet(t, h.changes, 400*time.Millisecond)
}

func TestEngine_MoveChangesType(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	n, err := h.eng.Create(ctx, "notes", "Wanderer", "body")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitChange(t, h.changes)

	moved, err := h.eng.Move(ctx, n.ID, "archive")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if moved.Path != "archive/wanderer.md" || moved.Type != "archive" {
		t.Errorf("moved = %q type %q, want archive/wanderer.md archive", moved.Path, moved.Type)
	}
	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeRenamed || c.OldPath != "notes/wanderer.md" {
		t.Errorf("change = %+v, want renamed from notes/wanderer.md", c)
	}
	if got := h.readFile(t, "archive/wanderer.md"); !strings.Contains(got, "id: "+n.ID) {
		t.Error("id did not survive the move")
	}
	got, err := h.idx.GetNote(n.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.Type != "archive" {
		t.Errorf("indexed type = %q, want archive", got.Type)
	}
}

func TestEngine_DeleteRemovesFileAndRow(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	n, err := h.eng.Create(ctx, "", "Doomed", "body")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitChange(t, h.changes)

	if err := h.eng.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	c := waitChange(t, h.changes)
	if c.Kind != models.ChangeDeleted || c.ID != n.ID {
		t.Errorf("change = %+v, want deleted %s", c, n.ID)
	}
	if _, err := os.Stat(filepath.Join(h.dir, n.Path)); !errors.Is(err, os.ErrNotExist) {
		t.Error("file still on disk")
	}
	if _, err := h.idx.GetNote(n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetNote = %v, want ErrNotFound", err)
	}

	// The remove echo is ours; no second delete may surface.
	h.send(n.Path, models.FileRemoved)
	expectQuiet(t, h.changes, 400*time.Millisecond)
}

func TestEngine_OpenNoteRegistry(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	n, err := h.eng.Create(ctx, "", "Held open", "body")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.eng.RegisterOpenNote(ctx, n.ID); err != nil {
		t.Errorf("RegisterOpenNote: %v", err)
	}
	if err := h.eng.RegisterOpenNote(ctx, "n-deadbeef"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("RegisterOpenNote unknown = %v, want ErrNotFound", err)
	}
	if err := h.eng.ReleaseOpenNote(ctx, n.ID); err != nil {
		t.Errorf("ReleaseOpenNote: %v", err)
	}
}

func TestEngine_StoppedAfterShutdown(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatalf("storage.NewFS: %v", err)
	}
	eng := New(store, testIndex(t), nil, testLogger(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, make(chan models.FileEvent)) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := eng.Create(context.Background(), "", "Too late", ""); !errors.Is(err, ErrStopped) {
		t.Errorf("Create after shutdown = %v, want ErrStopped", err)
	}
}
