package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/ragdesk/internal/api"
	"github.com/nikhilbhutani/ragdesk/internal/api/handlers"
	"github.com/nikhilbhutani/ragdesk/internal/app"
	"github.com/nikhilbhutani/ragdesk/internal/config"
	"github.com/nikhilbhutani/ragdesk/internal/document"
	"github.com/nikhilbhutani/ragdesk/internal/metrics"
	"github.com/nikhilbhutani/ragdesk/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// Ingest queue: in-process goroutines, or asynq for cmd/worker.
	var q queue.Enqueuer
	if cfg.Ingest.Queue == "asynq" {
		q = queue.NewClient(cfg.Redis)
	} else {
		q = queue.NewInline(backend.Processor, cfg.Ingest.Concurrency, logger)
	}

	docs := document.NewService(backend.Store, backend.Blobs, q,
		document.WithMaxBytes(cfg.Ingest.MaxUploadBytes),
		document.WithLogger(logger),
		document.OnChange(backend.InvalidateSearch),
	)

	checks := map[string]handlers.Check{"store": backend.Store.Ping}
	if backend.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return backend.Redis.Ping(ctx).Err() }
	}

	router := api.NewRouter(cfg, api.Deps{
		Store:  backend.Store,
		Docs:   docs,
		RAG:    backend.Pipeline,
		Checks: checks,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting API server", "addr", cfg.Addr(), "queue", cfg.Ingest.Queue, "llm_providers", backend.Gateway.Providers())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced shutdown", "error", err)
		}
		if inline, ok := q.(*queue.Inline); ok {
			if err := inline.Shutdown(shutdownCtx); err != nil {
				slog.Warn("ingest jobs cancelled at shutdown", "error", err)
			}
			return nil
		}
		return q.Close()
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
