package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragdesk/internal/models"
)

// Memory keeps everything in process. It backs the API when no database is
// configured and in tests.
type Memory struct {
	mu         sync.RWMutex
	workspaces map[string]models.Workspace
	documents  map[string]models.Document
	chunks     map[string][]models.DocumentChunk
	seq        map[string]int64
	next       int64
	closed     bool
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		workspaces: make(map[string]models.Workspace),
		documents:  make(map[string]models.Document),
		chunks:     make(map[string][]models.DocumentChunk),
		seq:        make(map[string]int64),
		now:        time.Now,
	}
}

var errClosed = errors.New("store closed")

func (m *Memory) stamp(id string) {
	m.next++
	m.seq[id] = m.next
}

func (m *Memory) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}

	list := make([]models.Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		list = append(list, ws)
	}
	sort.Slice(list, func(i, j int) bool { return m.seq[list[i].ID] < m.seq[list[j].ID] })
	return list, nil
}

func (m *Memory) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return &ws, nil
}

func (m *Memory) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	now := m.now().UTC()
	ws.Version = 1
	ws.CreatedAt, ws.UpdatedAt = now, now
	m.workspaces[ws.ID] = *ws
	m.stamp(ws.ID)
	return nil
}

func (m *Memory) UpdateWorkspace(ctx context.Context, id string, patch WorkspacePatch, expectVersion int64) (*models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	if expectVersion != 0 && ws.Version != expectVersion {
		return nil, fmt.Errorf("workspace %s at version %d: %w", id, ws.Version, ErrVersionMismatch)
	}
	if patch.Name != nil {
		ws.Name = *patch.Name
	}
	if patch.Description != nil {
		ws.Description = *patch.Description
	}
	if patch.Metadata != nil {
		ws.Metadata = patch.Metadata
	}
	ws.Version++
	ws.UpdatedAt = m.now().UTC()
	m.workspaces[id] = ws
	return &ws, nil
}

func (m *Memory) DeleteWorkspace(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[id]; !ok {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	delete(m.workspaces, id)
	delete(m.seq, id)
	for docID, doc := range m.documents {
		if doc.WorkspaceID == id {
			delete(m.documents, docID)
			delete(m.chunks, docID)
			delete(m.seq, docID)
		}
	}
	return nil
}

func (m *Memory) CreateDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if _, ok := m.workspaces[doc.WorkspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", doc.WorkspaceID, ErrNotFound)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.DocStatusPending
	}
	now := m.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	m.documents[doc.ID] = *doc
	m.stamp(doc.ID)
	return nil
}

func (m *Memory) GetDocument(ctx context.Context, workspaceID, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok || (workspaceID != "" && doc.WorkspaceID != workspaceID) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &doc, nil
}

func (m *Memory) ListDocuments(ctx context.Context, workspaceID string, f DocumentFilter) ([]models.Document, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.workspaces[workspaceID]; !ok {
		return nil, 0, fmt.Errorf("workspace %s: %w", workspaceID, ErrNotFound)
	}

	var docs []models.Document
	for _, doc := range m.documents {
		if doc.WorkspaceID != workspaceID {
			continue
		}
		if f.Status != "" && doc.Status != f.Status {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return m.seq[docs[i].ID] > m.seq[docs[j].ID] })

	total := len(docs)
	if f.Offset >= len(docs) {
		return []models.Document{}, total, nil
	}
	docs = docs[f.Offset:]
	if f.Limit > 0 && f.Limit < len(docs) {
		docs = docs[:f.Limit]
	}
	return docs, total, nil
}

func (m *Memory) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	doc.Status = status
	doc.Error = errMsg
	doc.ChunkCount = chunkCount
	doc.UpdatedAt = m.now().UTC()
	m.documents[id] = doc
	return nil
}

func (m *Memory) DeleteDocument(ctx context.Context, workspaceID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.WorkspaceID != workspaceID {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	delete(m.documents, id)
	delete(m.chunks, id)
	delete(m.seq, id)
	return nil
}

func (m *Memory) ReplaceChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	now := m.now().UTC()
	stored := make([]models.DocumentChunk, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.DocumentID = documentID
		c.WorkspaceID = doc.WorkspaceID
		c.CreatedAt = now
		stored[i] = c
	}
	m.chunks[documentID] = stored
	return nil
}

// SearchChunks scores each chunk by the share of query terms it contains.
func (m *Memory) SearchChunks(ctx context.Context, workspaceID, query string, topK int) ([]ScoredChunk, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return []ScoredChunk{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := []ScoredChunk{}
	for docID, chunks := range m.chunks {
		doc := m.documents[docID]
		if doc.WorkspaceID != workspaceID {
			continue
		}
		for _, c := range chunks {
			words := make(map[string]bool)
			for _, w := range Terms(c.Content) {
				words[w] = true
			}
			matched := 0
			for _, t := range terms {
				if words[t] {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			hits = append(hits, ScoredChunk{
				DocumentChunk: c,
				DocumentName:  doc.Name,
				Score:         float64(matched) / float64(len(terms)),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocumentName != hits[j].DocumentName {
			return strings.Compare(hits[i].DocumentName, hits[j].DocumentName) < 0
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
