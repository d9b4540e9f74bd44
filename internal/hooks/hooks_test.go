package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/ragdesk/internal/client"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/query"
	"github.com/nikhilbhutani/ragdesk/internal/transport"
)

// fakeBackend is an in-memory stand-in for the RAG API.
type fakeBackend struct {
	mu         sync.Mutex
	workspaces map[string]*models.Workspace
	documents  map[string][]*models.Document
	hits       map[string]int
	chats      []models.ChatRequest
	// processAfter is how many document list reads a pending document
	// survives before it shows up processed.
	processAfter int
	listReads    map[string]int
	nextID       int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		workspaces: map[string]*models.Workspace{},
		documents:  map[string][]*models.Document{},
		hits:       map[string]int{},
		listReads:  map[string]int{},
	}
}

func (b *fakeBackend) hit(name string) {
	b.mu.Lock()
	b.hits[name]++
	b.mu.Unlock()
}

func (b *fakeBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[name]
}

func (b *fakeBackend) id(prefix string) string {
	b.nextID++
	return prefix + strconv.Itoa(b.nextID)
}

func (b *fakeBackend) addWorkspace(id, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.workspaces[id] = &models.Workspace{ID: id, Name: name, Version: 1, CreatedAt: now, UpdatedAt: now}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/workspaces", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			b.hit("list_workspaces")
			b.mu.Lock()
			defer b.mu.Unlock()
			list := models.WorkspaceList{Workspaces: []models.Workspace{}}
			for _, ws := range b.workspaces {
				list.Workspaces = append(list.Workspaces, *ws)
			}
			list.Count = len(list.Workspaces)
			writeJSON(w, http.StatusOK, list)
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			b.hit("create_workspace")
			var req models.CreateWorkspaceRequest
			json.NewDecoder(r.Body).Decode(&req)
			b.mu.Lock()
			defer b.mu.Unlock()
			ws := &models.Workspace{ID: b.id("w"), Name: req.Name, Version: 1, CreatedAt: time.Now(), UpdatedAt: time.Now()}
			b.workspaces[ws.ID] = ws
			writeJSON(w, http.StatusCreated, ws)
		})
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				b.hit("get_workspace")
				b.mu.Lock()
				defer b.mu.Unlock()
				ws, ok := b.workspaces[chi.URLParam(r, "id")]
				if !ok {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "workspace not found"})
					return
				}
				writeJSON(w, http.StatusOK, ws)
			})
			r.Patch("/", func(w http.ResponseWriter, r *http.Request) {
				b.hit("update_workspace")
				var req models.UpdateWorkspaceRequest
				json.NewDecoder(r.Body).Decode(&req)
				b.mu.Lock()
				defer b.mu.Unlock()
				ws, ok := b.workspaces[chi.URLParam(r, "id")]
				if !ok {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "workspace not found"})
					return
				}
				if m := r.Header.Get("If-Match"); m != "" && m != strconv.Quote(strconv.FormatInt(ws.Version, 10)) {
					writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "version mismatch", "code": "conflict"})
					return
				}
				if req.Name != nil {
					ws.Name = *req.Name
				}
				if req.Description != nil {
					ws.Description = *req.Description
				}
				ws.Version++
				writeJSON(w, http.StatusOK, ws)
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				b.hit("delete_workspace")
				b.mu.Lock()
				defer b.mu.Unlock()
				id := chi.URLParam(r, "id")
				delete(b.workspaces, id)
				delete(b.documents, id)
				w.WriteHeader(http.StatusNoContent)
			})
			r.Get("/documents", b.listDocuments)
			r.Post("/documents", b.uploadDocument)
			r.Get("/documents/{doc}", func(w http.ResponseWriter, r *http.Request) {
				b.hit("get_document")
				b.mu.Lock()
				defer b.mu.Unlock()
				for _, d := range b.documents[chi.URLParam(r, "id")] {
					if d.ID == chi.URLParam(r, "doc") {
						writeJSON(w, http.StatusOK, d)
						return
					}
				}
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
			})
			r.Post("/chat", func(w http.ResponseWriter, r *http.Request) {
				b.hit("chat")
				var req models.ChatRequest
				json.NewDecoder(r.Body).Decode(&req)
				b.mu.Lock()
				b.chats = append(b.chats, req)
				b.mu.Unlock()
				writeJSON(w, http.StatusOK, models.ChatResponse{
					Answer:  "answer to " + req.Message,
					Sources: []models.SourceRef{{DocumentID: "d1", Content: "passage", Score: 0.9}},
				})
			})
			r.Post("/search", func(w http.ResponseWriter, r *http.Request) {
				b.hit("search")
				writeJSON(w, http.StatusOK, models.SearchResponse{Results: []models.SearchResult{}})
			})
			r.Post("/ingest", func(w http.ResponseWriter, r *http.Request) {
				b.hit("ingest")
				writeJSON(w, http.StatusAccepted, models.IngestResponse{WorkspaceID: chi.URLParam(r, "id"), Queued: []string{}})
			})
		})
	})
	return r
}

func (b *fakeBackend) listDocuments(w http.ResponseWriter, r *http.Request) {
	b.hit("list_documents")
	b.mu.Lock()
	defer b.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := b.workspaces[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workspace not found"})
		return
	}
	b.listReads[id]++
	list := models.DocumentList{Documents: []models.Document{}}
	for _, d := range b.documents[id] {
		if d.Status == models.DocStatusPending && b.listReads[id] > b.processAfter {
			d.Status = models.DocStatusProcessed
			d.ChunkCount = 3
		}
		list.Documents = append(list.Documents, *d)
	}
	list.Count = len(list.Documents)
	writeJSON(w, http.StatusOK, list)
}

func (b *fakeBackend) uploadDocument(w http.ResponseWriter, r *http.Request) {
	b.hit("upload_document")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "file is required", "fields": map[string]string{"file": "required"}})
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	b.mu.Lock()
	defer b.mu.Unlock()
	id := chi.URLParam(r, "id")
	doc := &models.Document{
		ID:          b.id("d"),
		WorkspaceID: id,
		Name:        r.FormValue("name"),
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   int64(len(data)),
		Status:      models.DocStatusPending,
		CreatedAt:   time.Now(),
	}
	b.documents[id] = append(b.documents[id], doc)
	b.listReads[id] = 0
	writeJSON(w, http.StatusCreated, doc)
}

type fakeTokens struct {
	mu      sync.Mutex
	cleared bool
}

func (f *fakeTokens) Clear() {
	f.mu.Lock()
	f.cleared = true
	f.mu.Unlock()
}

func newTestHooks(t *testing.T, b *fakeBackend, opts ...client.Option) (*Hooks, *fakeTokens) {
	t.Helper()
	return newTestHooksWith(t, b, query.Options{StaleTime: time.Minute}, opts...)
}

func newTestHooksWith(t *testing.T, b *fakeBackend, storeOpts query.Options, opts ...client.Option) (*Hooks, *fakeTokens) {
	t.Helper()
	srv := httptest.NewServer(b.routes())
	t.Cleanup(srv.Close)

	tr, err := transport.New(transport.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	storeOpts.RetryDelay = func(int) time.Duration { return time.Millisecond }
	store := query.NewStore(storeOpts)
	t.Cleanup(store.Close)

	tokens := &fakeTokens{}
	h := New(store, client.New(tr, opts...), Options{PollInterval: 10 * time.Millisecond, Tokens: tokens})
	return h, tokens
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHooks_UploadRefetchesDocumentList(t *testing.T) {
	b := newFakeBackend()
	b.processAfter = 1000
	b.addWorkspace("ws1", "Research")
	h, _ := newTestHooks(t, b)

	docs := h.Documents(models.ListDocumentsRequest{WorkspaceID: "ws1"}, query.QueryOptions[*models.DocumentList]{})
	defer docs.Close()
	waitFor(t, "empty list", func() bool { return docs.State().Status == query.StatusSuccess })
	if n := len(docs.State().Data.Documents); n != 0 {
		t.Fatalf("expected empty list, got %d", n)
	}

	upload := h.UploadDocument()
	defer upload.Close()
	doc, err := upload.Mutate(context.Background(), models.UploadDocumentRequest{
		WorkspaceID: "ws1",
		Name:        "a.pdf",
		ContentType: "application/pdf",
		File:        strings.NewReader("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.Status != models.DocStatusPending || doc.SizeBytes != 8 {
		t.Errorf("uploaded doc = %+v", doc)
	}

	waitFor(t, "list refetch", func() bool {
		st := docs.State()
		return st.HasData && len(st.Data.Documents) == 1
	})
	if got := docs.State().Data.Documents[0].ID; got != doc.ID {
		t.Errorf("listed %s, uploaded %s", got, doc.ID)
	}
	if v, ok := h.Store().GetData(DocumentKey("ws1", doc.ID)); !ok || v.(*models.Document).Name != "a.pdf" {
		t.Error("upload response not seeded into document key")
	}
}

func TestHooks_DocumentsPollUntilProcessed(t *testing.T) {
	b := newFakeBackend()
	b.processAfter = 2
	b.addWorkspace("ws1", "Research")
	h, _ := newTestHooks(t, b)

	upload := h.UploadDocument()
	if _, err := upload.Mutate(context.Background(), models.UploadDocumentRequest{
		WorkspaceID: "ws1", Name: "a.pdf", File: strings.NewReader("x"),
	}); err != nil {
		t.Fatal(err)
	}

	docs := h.Documents(models.ListDocumentsRequest{WorkspaceID: "ws1"}, query.QueryOptions[*models.DocumentList]{})
	defer docs.Close()

	var mu sync.Mutex
	var seen []string
	unsub := docs.Subscribe(func(st query.State[*models.DocumentList]) {
		if st.HasData && len(st.Data.Documents) == 1 {
			mu.Lock()
			if s := st.Data.Documents[0].Status; len(seen) == 0 || seen[len(seen)-1] != s {
				seen = append(seen, s)
			}
			mu.Unlock()
		}
	})
	defer unsub()

	waitFor(t, "processed", func() bool {
		st := docs.State()
		return st.HasData && len(st.Data.Documents) == 1 && st.Data.Documents[0].Status == models.DocStatusProcessed
	})
	reads := b.count("list_documents")
	time.Sleep(60 * time.Millisecond)
	if after := b.count("list_documents"); after != reads {
		t.Errorf("polling continued after processing: %d -> %d reads", reads, after)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != models.DocStatusPending || seen[1] != models.DocStatusProcessed {
		t.Errorf("status transitions = %v", seen)
	}
}

func TestHooks_ConcurrentMountsShareOneRequest(t *testing.T) {
	b := newFakeBackend()
	b.addWorkspace("ws1", "Research")
	h, _ := newTestHooks(t, b)

	a := h.Workspaces(query.QueryOptions[[]models.Workspace]{})
	defer a.Close()
	c := h.Workspaces(query.QueryOptions[[]models.Workspace]{})
	defer c.Close()

	waitFor(t, "both loaded", func() bool {
		return a.State().Status == query.StatusSuccess && c.State().Status == query.StatusSuccess
	})
	if n := b.count("list_workspaces"); n != 1 {
		t.Errorf("list_workspaces hit %d times", n)
	}
	if len(c.State().Data) != 1 {
		t.Errorf("workspaces = %+v", c.State().Data)
	}
}

func TestHooks_NotFoundSurfacesInState(t *testing.T) {
	b := newFakeBackend()
	h, _ := newTestHooks(t, b)

	q := h.Workspace("missing", query.QueryOptions[*models.Workspace]{})
	defer q.Close()
	waitFor(t, "error", func() bool { return q.State().Status == query.StatusError })
	if !transport.IsNotFound(q.State().Err) {
		t.Errorf("expected NotFound, got %v", q.State().Err)
	}
	if n := b.count("get_workspace"); n != 1 {
		t.Errorf("not found must not be retried, got %d requests", n)
	}
}

func TestHooks_InvalidInputNeverHitsNetwork(t *testing.T) {
	b := newFakeBackend()
	h, _ := newTestHooks(t, b)

	upload := h.UploadDocument()
	_, err := upload.Mutate(context.Background(), models.UploadDocumentRequest{Name: "a.pdf", File: strings.NewReader("x")})
	if !transport.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if st := upload.State(); st.Status != query.MutationError {
		t.Errorf("mutation status = %v", st.Status)
	}
	if n := b.count("upload_document"); n != 0 {
		t.Errorf("backend called %d times", n)
	}
}

func TestHooks_CreateAndDeleteWorkspace(t *testing.T) {
	b := newFakeBackend()
	h, _ := newTestHooks(t, b)

	list := h.Workspaces(query.QueryOptions[[]models.Workspace]{})
	defer list.Close()
	waitFor(t, "initial list", func() bool { return list.State().Status == query.StatusSuccess })

	ws, err := h.CreateWorkspace().Mutate(context.Background(), models.CreateWorkspaceRequest{Name: "Legal"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "list includes new workspace", func() bool { return len(list.State().Data) == 1 })

	h.Store().SetData(DocumentsKey(models.ListDocumentsRequest{WorkspaceID: ws.ID}), &models.DocumentList{})
	h.Store().SetData(ChatKey(ws.ID, "s1"), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}})

	if _, err := h.DeleteWorkspace().Mutate(context.Background(), ws.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "list refetch after delete", func() bool { return len(list.State().Data) == 0 })
	for _, key := range []query.Key{WorkspaceKey(ws.ID), DocumentsKey(models.ListDocumentsRequest{WorkspaceID: ws.ID}), ChatKey(ws.ID, "s1")} {
		if _, ok := h.Store().GetData(key); ok {
			t.Errorf("%s still cached after workspace delete", key)
		}
	}
}

func TestHooks_OptimisticLockConflict(t *testing.T) {
	b := newFakeBackend()
	b.addWorkspace("ws1", "Research")
	h, _ := newTestHooks(t, b, client.WithConflictPolicy(client.ConflictOptimisticLock))

	name := "Renamed"
	update := h.UpdateWorkspace()
	ws, err := update.Mutate(context.Background(), models.UpdateWorkspaceRequest{ID: "ws1", Name: &name, Version: 1})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if ws.Version != 2 {
		t.Errorf("version = %d", ws.Version)
	}

	other := "Stale"
	_, err = update.Mutate(context.Background(), models.UpdateWorkspaceRequest{ID: "ws1", Name: &other, Version: 1})
	if !transport.IsConflict(err) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	v, _ := h.Store().GetData(WorkspaceKey("ws1"))
	if got := v.(*models.Workspace).Name; got != "Renamed" {
		t.Errorf("cached name = %q", got)
	}
}

func TestHooks_ChatSessionSendsHistory(t *testing.T) {
	b := newFakeBackend()
	b.addWorkspace("ws1", "Research")
	h, _ := newTestHooks(t, b)

	session := h.NewChatSession("ws1")
	defer session.Close()
	messages := session.Messages()
	defer messages.Close()

	if _, err := session.Send(context.Background(), "first?"); err != nil {
		t.Fatal(err)
	}
	resp, err := session.Send(context.Background(), "second?", WithTopK(3))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "answer to second?" || len(resp.Sources) != 1 {
		t.Errorf("response = %+v", resp)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chats) != 2 {
		t.Fatalf("chat requests = %d", len(b.chats))
	}
	second := b.chats[1]
	if len(second.History) != 2 || second.History[0].Content != "first?" || second.History[1].Role != models.RoleAssistant {
		t.Errorf("history sent = %+v", second.History)
	}
	if second.TopK != 3 {
		t.Errorf("top_k = %d", second.TopK)
	}
	if st := messages.State(); len(st.Data) != 4 {
		t.Errorf("session messages = %d", len(st.Data))
	}
}

func TestHooks_ChatSessionKeepsHistoryPastCacheTime(t *testing.T) {
	b := newFakeBackend()
	b.addWorkspace("ws1", "Research")
	h, _ := newTestHooksWith(t, b, query.Options{StaleTime: time.Minute, CacheTime: 20 * time.Millisecond})

	session := h.NewChatSession("ws1")
	if _, err := session.Send(context.Background(), "first?"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := session.Send(context.Background(), "second?"); err != nil {
		t.Fatal(err)
	}

	b.mu.Lock()
	sent := len(b.chats[1].History)
	b.mu.Unlock()
	if sent != 2 {
		t.Errorf("history sent with second turn = %d messages, want 2", sent)
	}
	if got := len(session.History()); got != 4 {
		t.Errorf("history = %d messages, want 4", got)
	}

	session.Close()
	waitFor(t, "history collected after close", func() bool {
		_, ok := h.Store().GetData(session.Key())
		return !ok
	})
}

func TestHooks_PrefetchWarmsCache(t *testing.T) {
	b := newFakeBackend()
	b.addWorkspace("ws1", "Research")
	b.addWorkspace("ws2", "Legal")
	h, _ := newTestHooks(t, b)

	if err := h.Prefetch(context.Background(), "ws1", "ws2"); err != nil {
		t.Fatal(err)
	}
	list := h.Workspaces(query.QueryOptions[[]models.Workspace]{})
	defer list.Close()
	if st := list.State(); st.Status != query.StatusSuccess || st.IsFetching {
		t.Errorf("prefetched query state = %+v", st)
	}
	if n := b.count("list_workspaces"); n != 1 {
		t.Errorf("list_workspaces hit %d times", n)
	}
	if n := b.count("list_documents"); n != 2 {
		t.Errorf("list_documents hit %d times", n)
	}
}

func TestHooks_PrefetchReportsFailure(t *testing.T) {
	b := newFakeBackend()
	h, _ := newTestHooks(t, b)

	err := h.Prefetch(context.Background(), "missing")
	if !transport.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestHooks_LogoutClearsEverything(t *testing.T) {
	b := newFakeBackend()
	b.addWorkspace("ws1", "Research")
	h, tokens := newTestHooks(t, b)

	q := h.Workspaces(query.QueryOptions[[]models.Workspace]{})
	defer q.Close()
	waitFor(t, "loaded", func() bool { return q.State().Status == query.StatusSuccess })

	h.Logout()

	if !tokens.cleared {
		t.Error("token not cleared")
	}
	if _, ok := h.Store().GetData(WorkspacesKey()); ok {
		t.Error("cache not cleared")
	}
	if st := q.State(); st.HasData || st.Status != query.StatusIdle {
		t.Errorf("mounted query after logout = %+v", st)
	}
}

func TestHooks_IngestInvalidatesSearch(t *testing.T) {
	b := newFakeBackend()
	b.addWorkspace("ws1", "Research")
	h, _ := newTestHooks(t, b)

	search := h.Search(models.SearchRequest{WorkspaceID: "ws1", Query: "contract"}, query.QueryOptions[*models.SearchResponse]{})
	defer search.Close()
	waitFor(t, "search", func() bool { return search.State().Status == query.StatusSuccess })

	if _, err := h.TriggerIngest().Mutate(context.Background(), models.IngestRequest{WorkspaceID: "ws1", DocumentIDs: []string{"d1"}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "search refetch", func() bool { return b.count("search") == 2 })
}

func TestKeys_Deterministic(t *testing.T) {
	a := SearchKey(models.SearchRequest{WorkspaceID: "ws/1", Query: "a b", TopK: 5})
	b := SearchKey(models.SearchRequest{WorkspaceID: "ws/1", Query: "a b", TopK: 5})
	if a.String() != b.String() {
		t.Errorf("%s != %s", a, b)
	}
	if !a.HasPrefix(SearchPrefix("ws/1")) {
		t.Error("search key outside workspace prefix")
	}
	if DocumentsKey(models.ListDocumentsRequest{WorkspaceID: "ws1"}).HasPrefix(DocumentsPrefix("ws10")) {
		t.Error("prefix match crossed workspace boundary")
	}
	if got := fmt.Sprint(WorkspaceKey("a/b")); got != "workspace/a%2Fb" {
		t.Errorf("workspace key = %s", got)
	}
}
