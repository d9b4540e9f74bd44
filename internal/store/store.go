// Package store persists workspaces, documents and their chunks for the
// reference backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"github.com/nikhilbhutani/ragdesk/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionMismatch = errors.New("version mismatch")
)

// WorkspacePatch is a partial update; nil fields are left as they are.
type WorkspacePatch struct {
	Name        *string
	Description *string
	Metadata    json.RawMessage
}

type DocumentFilter struct {
	Status string
	Limit  int
	Offset int
}

// ScoredChunk is a search hit. Score is in (0, 1].
type ScoredChunk struct {
	models.DocumentChunk
	DocumentName string
	Score        float64
}

type Store interface {
	ListWorkspaces(ctx context.Context) ([]models.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
	// UpdateWorkspace applies patch and bumps the version. A non-zero
	// expectVersion must match the stored version or ErrVersionMismatch is
	// returned.
	UpdateWorkspace(ctx context.Context, id string, patch WorkspacePatch, expectVersion int64) (*models.Workspace, error)
	// DeleteWorkspace removes the workspace with its documents and chunks.
	DeleteWorkspace(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, workspaceID, id string) (*models.Document, error)
	// ListDocuments returns one page, newest first, and the total number of
	// documents matching the filter.
	ListDocuments(ctx context.Context, workspaceID string, f DocumentFilter) ([]models.Document, int, error)
	UpdateDocumentStatus(ctx context.Context, id, status, errMsg string, chunkCount int) error
	DeleteDocument(ctx context.Context, workspaceID, id string) error

	ReplaceChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	SearchChunks(ctx context.Context, workspaceID, query string, topK int) ([]ScoredChunk, error)

	Ping(ctx context.Context) error
	Close()
}

// Terms splits a search query into lowercase, de-duplicated words.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	terms := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
