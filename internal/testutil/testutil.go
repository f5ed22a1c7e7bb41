// Package testutil provides shared test helpers for setting up vaults,
// databases and a running sync engine.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/othala/internal/engine"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/notify"
	"github.com/starford/othala/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "othala-test-*.db")
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
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// Logger returns a JSON logger to stderr that only surfaces errors, so
// test output stays readable.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// StartEngine builds an engine over store and db, starts its event loop
// and stops it on test cleanup. The returned bus carries the engine's
// change notifications; the events channel feeds it filesystem events.
func StartEngine(t *testing.T, store storage.Provider, db *index.DB, cfg engine.Config) (*engine.Engine, *notify.Bus, chan<- models.FileEvent) {
	t.Helper()

	bus := notify.NewBus()
	t.Cleanup(bus.Close)

	eng := engine.New(store, db, bus, Logger(), cfg)
	events := make(chan models.FileEvent, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("engine run: %v", err)
		}
	})

	return eng, bus, events
}
