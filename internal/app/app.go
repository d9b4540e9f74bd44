// Package app assembles the backend services shared by cmd/api and
// cmd/worker from configuration.
package app

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/ragdesk/internal/cache"
	"github.com/nikhilbhutani/ragdesk/internal/config"
	"github.com/nikhilbhutani/ragdesk/internal/database"
	"github.com/nikhilbhutani/ragdesk/internal/ingest"
	"github.com/nikhilbhutani/ragdesk/internal/llm"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/rag"
	"github.com/nikhilbhutani/ragdesk/internal/storage"
	"github.com/nikhilbhutani/ragdesk/internal/store"
	"github.com/nikhilbhutani/ragdesk/migrations"
	"github.com/nikhilbhutani/ragdesk/pkg/chunker"
)

type Backend struct {
	Store     store.Store
	Blobs     storage.Storage
	Redis     *redis.Client // nil without REDIS_ADDR
	Gateway   *llm.Gateway
	Pipeline  *rag.Pipeline
	Processor *ingest.Processor
}

// Open connects to Postgres when DATABASE_URL is set and to Redis when
// REDIS_ADDR is set; otherwise it falls back to in-memory state and no
// search cache.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}

	if cfg.Database.URL != "" {
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		var files fs.FS = migrations.FS
		if cfg.Database.MigrationsPath != "" {
			files = os.DirFS(cfg.Database.MigrationsPath)
		}
		if err := database.RunMigrations(ctx, pool, files); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		b.Store = store.NewPostgres(pool)
	} else {
		logger.Warn("DATABASE_URL not set, keeping data in memory")
		b.Store = store.NewMemory()
	}

	blobs, err := storage.New(cfg.Storage)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Blobs = blobs

	retrieverOpts := []rag.RetrieverOption{rag.WithRetrieverLogger(logger)}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, running without search cache", "error", err)
		}
		b.Redis = rdb
		retrieverOpts = append(retrieverOpts, rag.WithCache(cache.NewCache(rdb, "ragdesk:"), cfg.Ingest.SearchCacheTTL))
	}

	b.Gateway = llm.NewGateway(cfg.LLM, logger)
	if !b.Gateway.Available() {
		logger.Warn("no LLM provider configured, chat answers will be extractive")
	}
	b.Pipeline = rag.NewPipeline(
		rag.NewRetriever(b.Store, retrieverOpts...),
		rag.NewGenerator(b.Gateway, logger),
		rag.NewCondenser(b.Gateway),
	)

	b.Processor = ingest.NewProcessor(b.Store, b.Blobs,
		ingest.WithChunkOptions(chunker.ChunkOptions{
			ChunkSize:    cfg.Ingest.ChunkSize,
			ChunkOverlap: cfg.Ingest.ChunkOverlap,
			Strategy:     chunker.StrategyRecursive,
		}),
		ingest.WithMaxBytes(cfg.Ingest.MaxUploadBytes),
		ingest.WithLogger(logger),
		ingest.OnComplete(func(ctx context.Context, doc *models.Document) {
			b.InvalidateSearch(ctx, doc.WorkspaceID)
		}),
	)
	return b, nil
}

// InvalidateSearch drops cached searches for the workspace, logging failures.
func (b *Backend) InvalidateSearch(ctx context.Context, workspaceID string) {
	if err := b.Pipeline.Invalidate(ctx, workspaceID); err != nil {
		slog.Warn("search cache invalidation failed", "workspace_id", workspaceID, "error", err)
	}
}

func (b *Backend) Close() {
	if b.Store != nil {
		b.Store.Close()
	}
	if b.Redis != nil {
		b.Redis.Close()
	}
}
