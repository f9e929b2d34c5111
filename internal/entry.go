// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/duetology/internal/api"
	"github.com/starford/duetology/internal/mcpserver"
	"github.com/starford/duetology/internal/metrics"
	"github.com/starford/duetology/internal/recordstore"
	"github.com/starford/duetology/internal/service"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// log returns the configured logger, or a JSON logger writing to w at the
// configured level.
func (a *application) log(w io.Writer) *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
}

func (a *application) openService(logger *slog.Logger) (*service.Service, *recordstore.DB, error) {
	cfg := a.config
	db, err := recordstore.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init record store: %w", err)
	}
	svc := service.New(db,
		service.WithLogger(logger),
		service.WithMetrics(metrics.NewManager()),
		service.WithGuardTimeout(cfg.Guard.Timeout),
		service.WithKeepAlive(cfg.Events.KeepAlive),
		service.WithEventBuffer(cfg.Events.Buffer),
	)
	return svc, db, nil
}

// NewHTTPHandler builds the full HTTP surface: health checks, metrics and the
// API mounted under /api.
func NewHTTPHandler(cfg *Config, svc *service.Service) http.Handler {
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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := svc.Ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", svc.Metrics().Handler())

	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token))
	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.log(os.Stdout)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, db, err := app.openService(logger)
	if err != nil {
		return err
	}
	defer db.Close()
	defer svc.Close()

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: NewHTTPHandler(cfg, svc),
	}

	g, gCtx := errgroup.WithContext(ctx)

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

		// SSE streams never finish on their own.
		svc.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout against the local record store.
// Logs go to stderr since stdout carries the protocol.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.log(os.Stderr)

	svc, db, err := app.openService(logger)
	if err != nil {
		return err
	}
	defer db.Close()
	defer svc.Close()

	logger.Info("Starting MCP server", slog.String("sqlite_path", app.config.SQLite.Path))
	return mcpserver.New(svc).ServeStdio()
}

// Seed imports the records of a YAML fixtures file. Records whose id already
// exists are skipped, so seeding twice is harmless.
func Seed(ctx context.Context, path string, opts ...Option) (map[string]int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	logger := app.log(os.Stderr)

	fixtures, err := recordstore.LoadFixtures(path)
	if err != nil {
		return nil, err
	}
	db, err := recordstore.Open(app.config.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init record store: %w", err)
	}
	defer db.Close()

	counts, err := db.Seed(ctx, fixtures)
	if err != nil {
		return nil, err
	}
	for collection, n := range counts {
		logger.Info("Seeded collection", slog.String("collection", collection), slog.Int("inserted", n))
	}
	return counts, nil
}
