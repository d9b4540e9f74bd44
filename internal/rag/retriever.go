// Package rag answers questions from a workspace's documents: keyword search
// over stored chunks, then generation with cited sources.
package rag

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/store"
)

const (
	DefaultTopK = 5
	MaxTopK     = 50
)

// SearchCache holds search responses between ingests. *cache.Cache satisfies it.
type SearchCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type Retriever struct {
	store  store.Store
	cache  SearchCache
	ttl    time.Duration
	logger *slog.Logger
}

type RetrieverOption func(*Retriever)

// WithCache caches search responses for ttl. A zero ttl disables caching.
func WithCache(c SearchCache, ttl time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if c != nil && ttl > 0 {
			r.cache = c
			r.ttl = ttl
		}
	}
}

func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

func NewRetriever(st store.Store, opts ...RetrieverOption) *Retriever {
	r := &Retriever{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns the best matching chunks in the workspace. Results below
// MinScore are dropped after ranking, so fewer than TopK may come back.
func (r *Retriever) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.store.GetWorkspace(ctx, req.WorkspaceID); err != nil {
		return nil, err
	}
	req.TopK = clampTopK(req.TopK)

	key := cacheKey(req)
	if r.cache != nil {
		var cached models.SearchResponse
		ok, err := r.cache.Get(ctx, key, &cached)
		if err != nil {
			r.logger.Warn("search cache read failed", "workspace_id", req.WorkspaceID, "error", err)
		}
		if ok {
			return &cached, nil
		}
	}

	hits, err := r.store.SearchChunks(ctx, req.WorkspaceID, req.Query, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < req.MinScore {
			continue
		}
		results = append(results, models.SearchResult{
			DocumentID:   h.DocumentID,
			DocumentName: h.DocumentName,
			ChunkID:      h.ID,
			ChunkIndex:   h.ChunkIndex,
			Content:      h.Content,
			Score:        h.Score,
		})
	}
	resp := &models.SearchResponse{Results: results, Count: len(results)}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, resp, r.ttl); err != nil {
			r.logger.Warn("search cache write failed", "workspace_id", req.WorkspaceID, "error", err)
		}
	}
	return resp, nil
}

// Invalidate drops every cached search for the workspace.
func (r *Retriever) Invalidate(ctx context.Context, workspaceID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.DeletePrefix(ctx, "search:"+workspaceID+":")
}

func clampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultTopK
	case k > MaxTopK:
		return MaxTopK
	}
	return k
}

func cacheKey(req models.SearchRequest) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%d\x00%g", req.Query, req.TopK, req.MinScore))
	return fmt.Sprintf("search:%s:%x", req.WorkspaceID, sum[:12])
}
