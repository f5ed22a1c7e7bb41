// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/api"
	"github.com/starford/othala/internal/engine"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/mcpserver"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/noteservice"
	"github.com/starford/othala/internal/notify"
	"github.com/starford/othala/internal/sse"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/watcher"
)

// Run starts the HTTP server and the sync engine with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, db, eng, bus, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	defer bus.Close()

	// Absorb whatever happened to the vault while we were not running. The
	// event loop is not started yet, so the pass owns the index exclusively.
	if _, err := eng.Reconcile(ctx); err != nil {
		logger.Warn("initial reconciliation failed", slog.String("error", err.Error()))
	}

	// SSE broker, fed from the engine's change bus.
	broker := sse.NewBroker(cfg.Engine.GraphThrottle())
	defer broker.Close()

	changes := bus.Subscribe()
	go func() {
		for c := range changes {
			broker.PublishChange(c)
		}
	}()

	// Build API service and router.
	svc := noteservice.NewService(store, db, eng)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, http.HandlerFunc(broker.ServeHTTP), cfg.Vault.Path)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Attachment downloads live outside /api so the /attachments/{filename}
	// URLs written into note bodies resolve as-is in rendered markdown.
	attachments := api.NewAttachmentHandler(cfg.Vault.Path)
	r.Get("/attachments/{filename}", attachments.ServeFile)

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	events := make(chan models.FileEvent, 128)

	// Sync engine event loop.
	g.Go(func() error {
		return eng.Run(gCtx, events)
	})

	// Filesystem watcher feeding the engine.
	g.Go(func() error {
		w := watcher.New(cfg.Vault.Path, cfg.Engine.Debounce(), logger)
		if err := w.Run(gCtx, events); err != nil {
			return fmt.Errorf("run watcher: %w", err)
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stops the watcher and the engine once in-flight requests are done.
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdio with the full sync engine behind
// it: the watcher and reconciliation run exactly as in serve mode, so an
// LLM client sees the same vault semantics the HTTP API provides. Logs go
// to stderr because stdout carries the MCP transport.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	store, db, eng, bus, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	defer bus.Close()

	if _, err := eng.Reconcile(ctx); err != nil {
		logger.Warn("initial reconciliation failed", slog.String("error", err.Error()))
	}

	svc := noteservice.NewService(store, db, eng)
	srv := mcpserver.New(svc, store)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	events := make(chan models.FileEvent, 128)

	g.Go(func() error {
		return eng.Run(gCtx, events)
	})

	g.Go(func() error {
		w := watcher.New(cfg.Vault.Path, cfg.Engine.Debounce(), logger)
		if err := w.Run(gCtx, events); err != nil {
			return fmt.Errorf("run watcher: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// ServeStdio returns when stdin closes or on SIGINT/SIGTERM; take
		// the engine and the watcher down with it.
		defer stop()
		if err := srv.ServeStdio(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp serve: %w", err)
		}
		return nil
	})

	logger.Info("MCP server listening on stdio", slog.String("vault_path", cfg.Vault.Path))
	return g.Wait()
}

// RunRebuild deletes the index database and rebuilds it from the vault.
func RunRebuild(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	if err := os.Remove(cfg.SQLite.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove index: %w", err)
	}

	_, db, eng, bus, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	defer bus.Close()

	// No event loop here: a bare reconciliation pass over a fresh database
	// rebuilds every row.
	stats, err := eng.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	logger.Info("Index rebuilt",
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("notes", stats.Created),
		slog.Int("degraded", len(stats.Degraded)))
	return nil
}

// buildEngine wires the storage, the index, the change bus and the engine.
func buildEngine(cfg *Config, logger *slog.Logger) (storage.Provider, *index.DB, *engine.Engine, *notify.Bus, error) {
	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("index unavailable, run rebuild to re-derive it: %w", err)
	}
	if db.WasReset() {
		logger.Warn("index schema changed, rebuilding from vault",
			slog.String("sqlite_path", cfg.SQLite.Path))
	}

	bus := notify.NewBus()
	eng := engine.New(store, db, bus, logger, engine.Config{
		SettleWindow:     cfg.Engine.SettleWindow(),
		WriteCeiling:     cfg.Engine.WriteCeiling(),
		OpenNoteTTL:      cfg.Engine.OpenNoteTTL(),
		RenameWindow:     cfg.Engine.RenameWindow(),
		ReconcileWorkers: cfg.Engine.ReconcileWorkers,
	})
	return store, db, eng, bus, nil
}
