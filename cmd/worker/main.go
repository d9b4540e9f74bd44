package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/ragdesk/internal/app"
	"github.com/nikhilbhutani/ragdesk/internal/config"
	"github.com/nikhilbhutani/ragdesk/internal/metrics"
	"github.com/nikhilbhutani/ragdesk/internal/queue"
	"github.com/nikhilbhutani/ragdesk/internal/queue/workers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.Addr == "" {
		slog.Error("REDIS_ADDR is required by the worker")
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

	concurrency := max(cfg.Ingest.Concurrency, 1)
	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
	)

	registry := queue.NewHandlersRegistry()

	// Register workers
	ingestWorker := workers.NewIngestWorker(backend.Processor)
	registry.Register(queue.TypeIngestDocument, asynq.HandlerFunc(ingestWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", concurrency, "task_types", registry.Types())
	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutting down worker...")
	srv.Shutdown()
	slog.Info("worker stopped")
}
