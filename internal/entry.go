// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/starford/memtree/internal/api"
	"github.com/starford/memtree/internal/mcpserver"
	"github.com/starford/memtree/internal/memstore"
	"github.com/starford/memtree/internal/models"
	"github.com/starford/memtree/internal/sse"
	"github.com/starford/memtree/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Stdout carries the stdio transport, so logs always go to stderr.
	logger := slog.New(slog.NewJSONHandler(app.stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("transport", cfg.App.Transport),
		slog.String("memory_file", cfg.Memory.File),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.Bool("watch", cfg.Memory.Watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	backend, err := openProvider(cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	store, err := memstore.Open(ctx, backend.provider, backend.name,
		memstore.WithLogger(logger),
		memstore.WithCorruptBackup(cfg.Memory.BackupCorrupt),
		memstore.WithEventCallback(func(kind string, position models.Position) {
			logger.Debug("memory changed", slog.String("kind", kind), slog.Any("position", position))
			broker.PublishMemoryEvent(kind, position)
		}),
	)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	mcpSrv := mcpserver.New(store, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Memory.Watch {
		g.Go(func() error {
			return memstore.Watch(gCtx, store, backend.watchPath, logger)
		})
	}

	var httpServer *http.Server
	switch cfg.App.Transport {
	case TransportHTTP:
		httpServer = &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           newHTTPHandler(cfg, store, broker, mcpSrv),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	default:
		g.Go(func() error {
			// Closing stdin ends the session and the process with it.
			defer cancel()
			logger.Info("Serving MCP on stdio")
			if err := mcpSrv.ServeStdio(gCtx, app.stdin, app.stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stdio server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if httpServer != nil {
			logger.Info("Shutting down server...")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully", slog.Int("memories", store.Count()))
	return nil
}

// storageBackend is the opened persistence target for the memory tree.
// watchPath is the file the watcher follows and stays empty for sqlite.
type storageBackend struct {
	provider  storage.Provider
	name      string
	watchPath string
	close     func()
}

// openProvider builds the storage backend and the snapshot name inside it.
func openProvider(cfg *Config) (*storageBackend, error) {
	name := filepath.Base(cfg.Memory.File)

	switch cfg.Storage.Driver {
	case DriverSQLite:
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		return &storageBackend{provider: db, name: name, close: func() { _ = db.Close() }}, nil
	default:
		dir := filepath.Dir(cfg.Memory.File)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		fs, err := storage.NewFS(dir)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		path, err := fs.Path(name)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		return &storageBackend{provider: fs, name: name, watchPath: path, close: func() {}}, nil
	}
}

// newHTTPHandler mounts health checks, the REST API, the event stream and
// the streamable MCP endpoint.
func newHTTPHandler(cfg *Config, store *memstore.Store, broker *sse.Broker, mcpSrv *mcpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(api.PreserveEscapedPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slogPrinter{slog.Default()},
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, map[string]any{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, map[string]any{"status": "ok", "memories": store.Count()})
	})

	r.Mount("/api", api.NewRouter(store, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	mcpHTTP := server.NewStreamableHTTPServer(mcpSrv.MCPServer())
	r.With(api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)).Handle("/mcp", mcpHTTP)

	return r
}

func writeHealth(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// slogPrinter routes chi's request log lines through slog.
type slogPrinter struct{ logger *slog.Logger }

func (p slogPrinter) Print(v ...any) {
	p.logger.Info(fmt.Sprint(v...))
}
