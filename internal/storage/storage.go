// Package storage keeps the original bytes of uploaded documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nikhilbhutani/ragdesk/internal/config"
)

var ErrNotFound = errors.New("blob not found")

// Storage addresses blobs by slash-separated paths inside one bucket.
type Storage interface {
	// Put stores data at path, replacing what was there, and returns the
	// number of bytes written.
	Put(ctx context.Context, path string, data io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocal(cfg.LocalDir)
	case "supabase":
		return NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
