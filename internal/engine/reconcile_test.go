package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/storage"
)

// reconcileHarness builds an engine without a running loop; Reconcile is
// documented for exactly that state.
func reconcileHarness(t *testing.T) (*Engine, string, *index.DB) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatalf("storage.NewFS: %v", err)
	}
	idx := testIndex(t)
	return New(store, idx, nil, testLogger(), Config{}), dir, idx
}

func seedFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func seedThree(t *testing.T, dir string) {
	t.Helper()
	seedFile(t, dir, "notes/a.md", "---\nid: n-aaaa1111\ntitle: Alpha\n---\n\nFirst note.\n")
	seedFile(t, dir, "notes/b.md", "---\nid: n-bbbb2222\ntitle: Beta\n---\n\nSee [[n-aaaa1111|Alpha]].\n")
	seedFile(t, dir, "inbox.md", "# Inbox\n\nNo header yet.\n")
}

func TestReconcile_BuildsIndexFromVault(t *testing.T) {
	eng, dir, idx := reconcileHarness(t)
	seedThree(t, dir)

	stats, err := eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if stats.Scanned != 3 || stats.Created != 3 {
		t.Errorf("stats = %+v, want 3 scanned, 3 created", stats)
	}

	entries, err := idx.AllEntries()
	if err != nil {
		t.Fatalf("AllEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}

	// The id-less file got stamped on disk and indexed.
	data, err := os.ReadFile(filepath.Join(dir, "inbox.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "id: n-") {
		t.Errorf("inbox.md was not stamped:\n%s", data)
	}
	inbox, err := idx.GetByPath("inbox.md")
	if err != nil {
		t.Fatalf("GetByPath inbox: %v", err)
	}
	if inbox.Title != "Inbox" {
		t.Errorf("title = %q, want Inbox", inbox.Title)
	}

	// The link from b resolved against a.
	back, err := idx.Backlinks("n-aaaa1111")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(back) != 1 || back[0].SourceID != "n-bbbb2222" {
		t.Errorf("backlinks = %+v, want one from n-bbbb2222", back)
	}
}

func TestReconcile_SecondPassIsNoOp(t *testing.T) {
	eng, dir, _ := reconcileHarness(t)
	seedThree(t, dir)

	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	stats, err := eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Created != 0 || stats.Modified != 0 || stats.Touched != 0 ||
		stats.Renamed != 0 || stats.Deleted != 0 || len(stats.Degraded) != 0 {
		t.Errorf("second pass made changes: %+v", stats)
	}
	if stats.Unchanged != 3 {
		t.Errorf("unchanged = %d, want 3", stats.Unchanged)
	}
}

func TestReconcile_AppliesOfflineEdit(t *testing.T) {
	eng, dir, idx := reconcileHarness(t)
	seedThree(t, dir)
	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	seedFile(t, dir, "notes/a.md", "---\nid: n-aaaa1111\ntitle: Alpha\n---\n\nEdited offline.\n")
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(dir, "notes", "a.md"), later, later); err != nil {
		t.Fatal(err)
	}

	stats, err := eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Modified != 1 || stats.Unchanged != 2 {
		t.Errorf("stats = %+v, want 1 modified, 2 unchanged", stats)
	}
	n, err := idx.GetNote("n-aaaa1111")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if !strings.Contains(n.Content, "Edited offline.") {
		t.Errorf("content = %q, want the offline edit", n.Content)
	}
}

func TestReconcile_DetectsOfflineRename(t *testing.T) {
	eng, dir, idx := reconcileHarness(t)
	seedThree(t, dir)
	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	from := filepath.Join(dir, "notes", "a.md")
	to := filepath.Join(dir, "notes", "alpha-renamed.md")
	if err := os.Rename(from, to); err != nil {
		t.Fatal(err)
	}

	stats, err := eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Renamed != 1 || stats.Deleted != 0 {
		t.Errorf("stats = %+v, want 1 renamed, 0 deleted", stats)
	}
	n, err := idx.GetNote("n-aaaa1111")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Path != "notes/alpha-renamed.md" {
		t.Errorf("path = %q, want notes/alpha-renamed.md", n.Path)
	}
}

func TestReconcile_DeletesVanishedRows(t *testing.T) {
	eng, dir, idx := reconcileHarness(t)
	seedThree(t, dir)
	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "notes", "b.md")); err != nil {
		t.Fatal(err)
	}
	stats, err := eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", stats.Deleted)
	}
	if _, err := idx.GetNote("n-bbbb2222"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetNote = %v, want ErrNotFound", err)
	}
}

func TestReconcile_TouchedOnMtimeOnlyChange(t *testing.T) {
	eng, dir, idx := reconcileHarness(t)
	seedThree(t, dir)
	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	before, err := idx.GetNote("n-aaaa1111")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}

	later := time.Now().Add(3 * time.Second)
	if err := os.Chtimes(filepath.Join(dir, "notes", "a.md"), later, later); err != nil {
		t.Fatal(err)
	}
	stats, err := eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Touched != 1 {
		t.Errorf("touched = %d, want 1", stats.Touched)
	}
	after, err := idx.GetNote("n-aaaa1111")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if after.ContentHash != before.ContentHash {
		t.Error("content hash changed on a touch")
	}
}

func TestReconcile_HonorsCancelledContext(t *testing.T) {
	eng, dir, _ := reconcileHarness(t)
	seedThree(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.Reconcile(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Reconcile = %v, want context.Canceled", err)
	}
}
