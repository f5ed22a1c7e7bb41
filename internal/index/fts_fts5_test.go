//go:build sqlite_fts5

package index

import (
	"strings"
	"testing"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes_fts`).Scan(&count); err != nil {
		t.Fatalf("notes_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	n := testNote("n-aaaa1111", "notes/fts.md", "FTS Note")
	n.Content = "Othala provides powerful full-text search capabilities."
	if err := db.UpsertNote(n, nil); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "n-aaaa1111" || results[0].Path != "notes/fts.md" {
		t.Errorf("hit = %+v", results[0])
	}
	if !strings.Contains(results[0].Snippet, "<b>powerful</b>") {
		t.Errorf("snippet = %q, want highlighted match", results[0].Snippet)
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	n := testNote("n-aaaa1111", "notes/gone.md", "Gone")
	n.Content = "vanishing content"
	_ = db.UpsertNote(n, nil)
	_ = db.DeleteNote("n-aaaa1111")

	results, _ := db.Search("vanishing", 10)
	if len(results) != 0 {
		t.Error("deleted note still in FTS index")
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	n := testNote("n-aaaa1111", "notes/evo.md", "Old")
	n.Content = "original text"
	_ = db.UpsertNote(n, nil)
	n.Title = "New"
	n.Content = "replacement text"
	_ = db.UpsertNote(n, nil)

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Title != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
