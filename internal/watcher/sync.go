package watcher

import (
	"context"
	"errors"
	"log/slog"
)

// UploadFunc sends one file to the backend.
type UploadFunc func(ctx context.Context, path string) error

// Syncer uploads every matching file in a folder once, then keeps uploading
// files as they are created or changed. Deletions are only logged; removing
// a document is an explicit action.
type Syncer struct {
	w      *Watcher
	upload UploadFunc
	logger *slog.Logger
}

func NewSyncer(w *Watcher, upload UploadFunc) *Syncer {
	return &Syncer{w: w, upload: upload, logger: w.logger}
}

// Run blocks until ctx is done. Individual upload failures are logged and do
// not stop the sync.
func (s *Syncer) Run(ctx context.Context, dir string) error {
	events, err := s.w.Watch(ctx, dir)
	if err != nil {
		return err
	}

	existing, err := s.w.Existing(dir)
	if err != nil {
		return err
	}
	for _, path := range existing {
		s.send(ctx, path)
	}
	s.logger.Info("watching folder", "dir", dir, "initial_files", len(existing))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Op == Deleted {
				s.logger.Info("file removed locally; document kept", "path", ev.Path)
				continue
			}
			s.send(ctx, ev.Path)
		}
	}
}

func (s *Syncer) send(ctx context.Context, path string) {
	if err := s.upload(ctx, path); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("upload failed", "path", path, "error", err)
		return
	}
	s.logger.Info("uploaded", "path", path)
}
