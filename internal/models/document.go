package models

import (
	"encoding/json"
	"io"
	"time"
)

type Document struct {
	ID          string          `json:"id" db:"id" validate:"required"`
	WorkspaceID string          `json:"workspace_id" db:"workspace_id" validate:"required"`
	Name        string          `json:"name" db:"name"`
	ContentType string          `json:"content_type,omitempty" db:"content_type"`
	SizeBytes   int64           `json:"size_bytes,omitempty" db:"size_bytes" validate:"gte=0"`
	Status      string          `json:"status" db:"status" validate:"oneof=pending processing processed failed"`
	Error       string          `json:"error,omitempty" db:"error"`
	BlobPath    string          `json:"-" db:"blob_path"`
	ChunkCount  int             `json:"chunk_count" db:"chunk_count" validate:"gte=0"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// DocumentChunk is a retrievable slice of a processed document.
type DocumentChunk struct {
	ID          string    `json:"id" db:"id"`
	DocumentID  string    `json:"document_id" db:"document_id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	ChunkIndex  int       `json:"chunk_index" db:"chunk_index"`
	Content     string    `json:"content" db:"content"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusProcessed  = "processed"
	DocStatusFailed     = "failed"
)

// Terminal reports whether no further status transition is expected.
func (d *Document) Terminal() bool {
	return d.Status == DocStatusProcessed || d.Status == DocStatusFailed
}

func (d *Document) Validate() error { return check(d) }

// UploadDocumentRequest carries the file bytes alongside structured metadata.
// File is streamed as the "file" part of a multipart body.
type UploadDocumentRequest struct {
	WorkspaceID string         `json:"workspace_id" validate:"required"`
	Name        string         `json:"name" validate:"required"`
	ContentType string         `json:"content_type,omitempty"`
	File        io.Reader      `json:"-" validate:"required,nostructlevel"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r UploadDocumentRequest) Validate() error { return check(r) }

type ListDocumentsRequest struct {
	WorkspaceID string `json:"workspace_id" validate:"required"`
	Status      string `json:"status,omitempty" validate:"omitempty,oneof=pending processing processed failed"`
	Limit       int    `json:"limit,omitempty" validate:"gte=0"`
	Offset      int    `json:"offset,omitempty" validate:"gte=0"`
}

func (r ListDocumentsRequest) Validate() error { return check(r) }

type DocumentList struct {
	Documents []Document `json:"documents" validate:"dive"`
	Count     int        `json:"count" validate:"gte=0"`
}

func (l *DocumentList) Validate() error { return check(l) }

// Pending reports whether any listed document is still being ingested.
func (l *DocumentList) Pending() bool {
	for i := range l.Documents {
		if !l.Documents[i].Terminal() {
			return true
		}
	}
	return false
}
