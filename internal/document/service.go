// Package document accepts uploads into workspaces and hands them to the
// ingest queue.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/queue"
	"github.com/nikhilbhutani/ragdesk/internal/storage"
	"github.com/nikhilbhutani/ragdesk/internal/store"
	"github.com/nikhilbhutani/ragdesk/pkg/textextract"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrEmptyFile       = errors.New("file is empty")
)

// ChangeFunc is told when a workspace's searchable content changes outside
// the ingest processor (deletes).
type ChangeFunc func(ctx context.Context, workspaceID string)

type Service struct {
	store    store.Store
	blobs    storage.Storage
	queue    queue.Enqueuer
	maxBytes int64
	onChange []ChangeFunc
	logger   *slog.Logger
}

type Option func(*Service)

func WithMaxBytes(n int64) Option {
	return func(s *Service) { s.maxBytes = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func OnChange(fn ChangeFunc) Option {
	return func(s *Service) { s.onChange = append(s.onChange, fn) }
}

func NewService(st store.Store, blobs storage.Storage, q queue.Enqueuer, opts ...Option) *Service {
	s := &Service{
		store:    st,
		blobs:    blobs,
		queue:    q,
		maxBytes: 50 << 20,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores the file, records a pending document and queues ingestion.
func (s *Service) Upload(ctx context.Context, req models.UploadDocumentRequest) (*models.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if textextract.Detect(req.Name, req.ContentType) == "" {
		return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedType, req.Name, strings.Join(textextract.SupportedTypes(), ", "))
	}
	if _, err := s.store.GetWorkspace(ctx, req.WorkspaceID); err != nil {
		return nil, err
	}

	var metadata json.RawMessage
	if len(req.Metadata) > 0 {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = data
	}

	doc := &models.Document{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		ContentType: req.ContentType,
		Metadata:    metadata,
	}
	doc.BlobPath = fmt.Sprintf("%s/%s/%s", doc.WorkspaceID, doc.ID, blobName(req.Name))

	n, err := s.blobs.Put(ctx, doc.BlobPath, io.LimitReader(req.File, s.maxBytes+1), req.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}
	switch {
	case n > s.maxBytes:
		s.removeBlob(ctx, doc.BlobPath)
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	case n == 0:
		s.removeBlob(ctx, doc.BlobPath)
		return nil, ErrEmptyFile
	}
	doc.SizeBytes = n

	return s.create(ctx, doc)
}

// IngestText stores raw text as a new plain-text document.
func (s *Service) IngestText(ctx context.Context, workspaceID, name, text string) (*models.Document, error) {
	return s.Upload(ctx, models.UploadDocumentRequest{
		WorkspaceID: workspaceID,
		Name:        name,
		ContentType: "text/plain",
		File:        strings.NewReader(text),
	})
}

// Ingest handles the ingest endpoint: raw text becomes a new document, and
// listed documents are queued again.
func (s *Service) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	resp := &models.IngestResponse{WorkspaceID: req.WorkspaceID, Queued: []string{}}

	if len(req.DocumentIDs) > 0 {
		queued, err := s.Reingest(ctx, req.WorkspaceID, req.DocumentIDs)
		if err != nil {
			return nil, err
		}
		resp.Queued = append(resp.Queued, queued...)
	}
	if req.Text != "" {
		doc, err := s.IngestText(ctx, req.WorkspaceID, req.Name, req.Text)
		if err != nil {
			return nil, err
		}
		resp.Queued = append(resp.Queued, doc.ID)
	}
	return resp, nil
}

// Reingest resets documents to pending and queues them. Every id must exist
// in the workspace before anything is queued.
func (s *Service) Reingest(ctx context.Context, workspaceID string, ids []string) ([]string, error) {
	docs := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.store.GetDocument(ctx, workspaceID, id)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		docs = append(docs, doc)
	}

	queued := make([]string, 0, len(docs))
	for _, doc := range docs {
		if err := s.store.UpdateDocumentStatus(ctx, doc.ID, models.DocStatusPending, "", doc.ChunkCount); err != nil {
			return queued, fmt.Errorf("reset document %s: %w", doc.ID, err)
		}
		if err := s.enqueue(ctx, doc); err != nil {
			return queued, err
		}
		queued = append(queued, doc.ID)
	}
	return queued, nil
}

func (s *Service) Get(ctx context.Context, workspaceID, id string) (*models.Document, error) {
	return s.store.GetDocument(ctx, workspaceID, id)
}

// List returns one page of documents. Count is the total matching the
// filter, not the page length.
func (s *Service) List(ctx context.Context, req models.ListDocumentsRequest) (*models.DocumentList, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetWorkspace(ctx, req.WorkspaceID); err != nil {
		return nil, err
	}
	docs, total, err := s.store.ListDocuments(ctx, req.WorkspaceID, store.DocumentFilter{
		Status: req.Status,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return &models.DocumentList{Documents: docs, Count: total}, nil
}

// Delete removes the document and its chunks, then its blob.
func (s *Service) Delete(ctx context.Context, workspaceID, id string) error {
	doc, err := s.store.GetDocument(ctx, workspaceID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, workspaceID, id); err != nil {
		return err
	}
	s.removeBlob(ctx, doc.BlobPath)
	s.changed(ctx, workspaceID)
	return nil
}

// DeleteWorkspace removes the workspace with everything in it.
func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	var blobs []string
	for offset := 0; ; {
		page, total, err := s.store.ListDocuments(ctx, workspaceID, store.DocumentFilter{Limit: 500, Offset: offset})
		if err != nil {
			return err
		}
		for _, d := range page {
			blobs = append(blobs, d.BlobPath)
		}
		offset += len(page)
		if len(page) == 0 || offset >= total {
			break
		}
	}

	if err := s.store.DeleteWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	for _, p := range blobs {
		s.removeBlob(ctx, p)
	}
	s.changed(ctx, workspaceID)
	return nil
}

func (s *Service) create(ctx context.Context, doc *models.Document) (*models.Document, error) {
	doc.Status = models.DocStatusPending
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		s.removeBlob(ctx, doc.BlobPath)
		return nil, fmt.Errorf("create document: %w", err)
	}
	if err := s.enqueue(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("document uploaded",
		"document_id", doc.ID,
		"workspace_id", doc.WorkspaceID,
		"name", doc.Name,
		"size_bytes", doc.SizeBytes,
	)
	return doc, nil
}

// enqueue marks the document failed when the queue rejects it, so it does
// not sit in pending forever.
func (s *Service) enqueue(ctx context.Context, doc *models.Document) error {
	err := s.queue.EnqueueIngest(ctx, queue.IngestPayload{DocumentID: doc.ID, WorkspaceID: doc.WorkspaceID})
	if err == nil {
		return nil
	}
	msg := "enqueue ingest: " + err.Error()
	if uerr := s.store.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, models.DocStatusFailed, msg, 0); uerr != nil {
		s.logger.Error("failed to mark document failed", "document_id", doc.ID, "error", uerr)
	}
	return fmt.Errorf("enqueue ingest for %s: %w", doc.ID, err)
}

func (s *Service) removeBlob(ctx context.Context, p string) {
	if p == "" {
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), p); err != nil {
		s.logger.Warn("failed to delete blob", "path", p, "error", err)
	}
}

func (s *Service) changed(ctx context.Context, workspaceID string) {
	for _, fn := range s.onChange {
		fn(ctx, workspaceID)
	}
}

// blobName keeps only the final element of a client supplied file name.
func blobName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}
