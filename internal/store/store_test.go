package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nikhilbhutani/ragdesk/internal/models"
)

// runStoreTests exercises the behaviour every Store implementation shares.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("WorkspaceLifecycle", func(t *testing.T) {
		s := newStore(t)
		ws := &models.Workspace{Name: "Research", Metadata: json.RawMessage(`{"team":"ml"}`)}
		if err := s.CreateWorkspace(ctx, ws); err != nil {
			t.Fatalf("create: %v", err)
		}
		if ws.ID == "" || ws.Version != 1 || ws.CreatedAt.IsZero() {
			t.Fatalf("created workspace = %+v", ws)
		}

		name := "Renamed"
		updated, err := s.UpdateWorkspace(ctx, ws.ID, WorkspacePatch{Name: &name}, 0)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.Name != "Renamed" || updated.Version != 2 {
			t.Errorf("updated = %+v", updated)
		}

		list, err := s.ListWorkspaces(ctx)
		if err != nil || len(list) != 1 {
			t.Fatalf("list = %v, %v", list, err)
		}

		if err := s.DeleteWorkspace(ctx, ws.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.GetWorkspace(ctx, ws.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("get after delete = %v", err)
		}
		if err := s.DeleteWorkspace(ctx, ws.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete = %v", err)
		}
	})

	t.Run("VersionCheck", func(t *testing.T) {
		s := newStore(t)
		ws := &models.Workspace{Name: "A"}
		s.CreateWorkspace(ctx, ws)

		desc := "first"
		if _, err := s.UpdateWorkspace(ctx, ws.ID, WorkspacePatch{Description: &desc}, 1); err != nil {
			t.Fatalf("update at current version: %v", err)
		}
		desc = "stale"
		if _, err := s.UpdateWorkspace(ctx, ws.ID, WorkspacePatch{Description: &desc}, 1); !errors.Is(err, ErrVersionMismatch) {
			t.Errorf("stale update = %v", err)
		}
		if _, err := s.UpdateWorkspace(ctx, "missing", WorkspacePatch{Description: &desc}, 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing update = %v", err)
		}
		got, _ := s.GetWorkspace(ctx, ws.ID)
		if got.Description != "first" || got.Version != 2 {
			t.Errorf("workspace = %+v", got)
		}
	})

	t.Run("DocumentsAndStatus", func(t *testing.T) {
		s := newStore(t)
		ws := &models.Workspace{Name: "Docs"}
		s.CreateWorkspace(ctx, ws)

		for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
			if err := s.CreateDocument(ctx, &models.Document{WorkspaceID: ws.ID, Name: name}); err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
		}
		if err := s.CreateDocument(ctx, &models.Document{WorkspaceID: "missing", Name: "x"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("document in missing workspace = %v", err)
		}

		docs, total, err := s.ListDocuments(ctx, ws.ID, DocumentFilter{Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if total != 3 || len(docs) != 2 {
			t.Fatalf("page = %d docs, total %d", len(docs), total)
		}
		if docs[0].Status != models.DocStatusPending {
			t.Errorf("new document status = %q", docs[0].Status)
		}

		if err := s.UpdateDocumentStatus(ctx, docs[0].ID, models.DocStatusProcessed, "", 4); err != nil {
			t.Fatal(err)
		}
		processed, total, _ := s.ListDocuments(ctx, ws.ID, DocumentFilter{Status: models.DocStatusProcessed})
		if total != 1 || processed[0].ChunkCount != 4 {
			t.Errorf("processed = %+v (total %d)", processed, total)
		}

		if _, err := s.GetDocument(ctx, "other", docs[0].ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("document read through wrong workspace = %v", err)
		}
		if err := s.DeleteDocument(ctx, ws.ID, docs[0].ID); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetDocument(ctx, ws.ID, docs[0].ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("get deleted document = %v", err)
		}
	})

	t.Run("SearchRanksByTermCoverage", func(t *testing.T) {
		s := newStore(t)
		ws := &models.Workspace{Name: "Search"}
		s.CreateWorkspace(ctx, ws)
		other := &models.Workspace{Name: "Other"}
		s.CreateWorkspace(ctx, other)

		doc := &models.Document{WorkspaceID: ws.ID, Name: "guide.md"}
		s.CreateDocument(ctx, doc)
		err := s.ReplaceChunks(ctx, doc.ID, []models.DocumentChunk{
			{ChunkIndex: 0, Content: "Postgres stores the vectors."},
			{ChunkIndex: 1, Content: "Redis caches query results and postgres rows."},
			{ChunkIndex: 2, Content: "Nothing relevant here."},
		})
		if err != nil {
			t.Fatalf("replace chunks: %v", err)
		}
		foreign := &models.Document{WorkspaceID: other.ID, Name: "x.md"}
		s.CreateDocument(ctx, foreign)
		s.ReplaceChunks(ctx, foreign.ID, []models.DocumentChunk{{ChunkIndex: 0, Content: "redis postgres"}})

		hits, err := s.SearchChunks(ctx, ws.ID, "Redis postgres", 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 2 {
			t.Fatalf("hits = %+v", hits)
		}
		if hits[0].ChunkIndex != 1 || hits[0].DocumentName != "guide.md" {
			t.Errorf("top hit = %+v", hits[0])
		}
		if hits[0].Score <= hits[1].Score || hits[1].Score <= 0 {
			t.Errorf("scores = %v, %v", hits[0].Score, hits[1].Score)
		}

		if hits, _ := s.SearchChunks(ctx, ws.ID, "  ?! ", 5); len(hits) != 0 {
			t.Errorf("empty query hits = %v", hits)
		}

		s.ReplaceChunks(ctx, doc.ID, nil)
		if hits, _ := s.SearchChunks(ctx, ws.ID, "redis", 5); len(hits) != 0 {
			t.Errorf("hits after replace = %v", hits)
		}
	})

	t.Run("DeleteWorkspaceCascades", func(t *testing.T) {
		s := newStore(t)
		ws := &models.Workspace{Name: "Gone"}
		s.CreateWorkspace(ctx, ws)
		doc := &models.Document{WorkspaceID: ws.ID, Name: "a.txt"}
		s.CreateDocument(ctx, doc)
		s.ReplaceChunks(ctx, doc.ID, []models.DocumentChunk{{Content: "alpha"}})

		if err := s.DeleteWorkspace(ctx, ws.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetDocument(ctx, "", doc.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("document survived workspace delete: %v", err)
		}
		if hits, _ := s.SearchChunks(ctx, ws.ID, "alpha", 5); len(hits) != 0 {
			t.Errorf("chunks survived workspace delete: %v", hits)
		}
	})
}

func TestMemory(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s := NewMemory()
		t.Cleanup(s.Close)
		return s
	})
}

func TestMemory_ClosedRejectsWrites(t *testing.T) {
	s := NewMemory()
	s.Close()
	if err := s.CreateWorkspace(context.Background(), &models.Workspace{Name: "x"}); err == nil {
		t.Error("expected error after close")
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("ping should fail after close")
	}
}

func TestTerms(t *testing.T) {
	got := Terms("What is RAG? rag, re-ranking!")
	want := []string{"what", "is", "rag", "re", "ranking"}
	if len(got) != len(want) {
		t.Fatalf("Terms = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Terms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
