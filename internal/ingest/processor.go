// Package ingest turns an uploaded blob into searchable chunks.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nikhilbhutani/ragdesk/internal/metrics"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/storage"
	"github.com/nikhilbhutani/ragdesk/internal/store"
	"github.com/nikhilbhutani/ragdesk/pkg/chunker"
	"github.com/nikhilbhutani/ragdesk/pkg/textextract"
)

// ErrUnprocessable marks failures that retrying cannot fix: unsupported
// formats, corrupt files, documents without text.
var ErrUnprocessable = errors.New("document cannot be processed")

// CompleteFunc is called after a document reaches a terminal status.
type CompleteFunc func(ctx context.Context, doc *models.Document)

type Processor struct {
	store      store.Store
	blobs      storage.Storage
	chunker    chunker.Chunker
	opts       chunker.ChunkOptions
	maxBytes   int64
	onComplete []CompleteFunc
	logger     *slog.Logger
}

type Option func(*Processor)

func WithChunkOptions(opts chunker.ChunkOptions) Option {
	return func(p *Processor) { p.opts = opts }
}

// WithMaxBytes caps how much of a blob is read; larger files fail.
func WithMaxBytes(n int64) Option {
	return func(p *Processor) { p.maxBytes = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func OnComplete(fn CompleteFunc) Option {
	return func(p *Processor) { p.onComplete = append(p.onComplete, fn) }
}

func NewProcessor(st store.Store, blobs storage.Storage, opts ...Option) *Processor {
	p := &Processor{
		store:    st,
		blobs:    blobs,
		chunker:  chunker.New(),
		opts:     chunker.DefaultOptions(),
		maxBytes: 50 << 20,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process moves a document through processing to processed or failed. The
// error is also recorded on the document.
func (p *Processor) Process(ctx context.Context, documentID string) error {
	doc, err := p.store.GetDocument(ctx, "", documentID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted before the job ran.
		p.logger.Info("skipping ingest for missing document", "document_id", documentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}

	p.logger.Info("processing document", "document_id", doc.ID, "workspace_id", doc.WorkspaceID, "name", doc.Name)
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, models.DocStatusProcessing, "", 0); err != nil {
		return fmt.Errorf("update status to processing: %w", err)
	}

	count, err := p.run(ctx, doc)
	if err != nil {
		p.finish(ctx, doc, models.DocStatusFailed, err.Error(), 0)
		return err
	}
	p.finish(ctx, doc, models.DocStatusProcessed, "", count)
	p.logger.Info("document processed", "document_id", doc.ID, "chunks", count)
	return nil
}

func (p *Processor) run(ctx context.Context, doc *models.Document) (int, error) {
	fileType := textextract.Detect(doc.Name, doc.ContentType)
	if fileType == "" {
		return 0, fmt.Errorf("%w: unsupported file type for %q", ErrUnprocessable, doc.Name)
	}

	rc, err := p.blobs.Open(ctx, doc.BlobPath)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: original file missing", ErrUnprocessable)
	}
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, p.maxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return 0, fmt.Errorf("%w: file exceeds %d bytes", ErrUnprocessable, p.maxBytes)
	}

	extracted, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), fileType)
	if err != nil {
		return 0, fmt.Errorf("%w: extract text: %v", ErrUnprocessable, err)
	}

	pieces := p.chunker.Chunk(extracted.Content, p.opts)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("%w: no text found", ErrUnprocessable)
	}

	chunks := make([]models.DocumentChunk, len(pieces))
	for i, c := range pieces {
		chunks[i] = models.DocumentChunk{ChunkIndex: c.Index, Content: c.Content}
	}
	if err := p.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	return len(chunks), nil
}

func (p *Processor) finish(ctx context.Context, doc *models.Document, status, errMsg string, chunks int) {
	metrics.DocumentsIngested.WithLabelValues(status).Inc()

	// Record the outcome even if the job's context was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, status, errMsg, chunks); err != nil {
		p.logger.Error("failed to record ingest status", "document_id", doc.ID, "status", status, "error", err)
		return
	}
	doc.Status, doc.Error, doc.ChunkCount = status, errMsg, chunks
	for _, fn := range p.onComplete {
		fn(ctx, doc)
	}
}
