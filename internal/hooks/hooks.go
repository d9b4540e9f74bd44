// Package hooks binds the resource client to the query store: which key each
// read is cached under and which keys each write invalidates.
package hooks

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/ragdesk/internal/client"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/query"
)

const (
	defaultPollInterval = 2 * time.Second
	prefetchConcurrency = 4
)

// TokenClearer is implemented by token sources that can forget credentials.
type TokenClearer interface {
	Clear()
}

type Options struct {
	// PollInterval is how often document reads refresh while ingestion is
	// still running.
	PollInterval time.Duration
	Tokens       TokenClearer
	Logger       *slog.Logger
}

type Hooks struct {
	store  *query.Store
	client *client.Client
	poll   time.Duration
	tokens TokenClearer
	logger *slog.Logger
}

func New(store *query.Store, c *client.Client, opts Options) *Hooks {
	h := &Hooks{
		store:  store,
		client: c,
		poll:   opts.PollInterval,
		tokens: opts.Tokens,
		logger: opts.Logger,
	}
	if h.poll <= 0 {
		h.poll = defaultPollInterval
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

func (h *Hooks) Store() *query.Store { return h.store }

// ---- Reads ----

func (h *Hooks) Workspaces(opts query.QueryOptions[[]models.Workspace]) *query.Query[[]models.Workspace] {
	return query.NewQuery(h.store, WorkspacesKey(), h.fetchWorkspaces, opts)
}

func (h *Hooks) Workspace(id string, opts query.QueryOptions[*models.Workspace]) *query.Query[*models.Workspace] {
	return query.NewQuery(h.store, WorkspaceKey(id), func(ctx context.Context) (*models.Workspace, error) {
		return h.client.GetWorkspace(ctx, id)
	}, opts)
}

// Documents polls every PollInterval while any listed document is pending or
// processing, unless opts sets its own RefetchInterval.
func (h *Hooks) Documents(req models.ListDocumentsRequest, opts query.QueryOptions[*models.DocumentList]) *query.Query[*models.DocumentList] {
	if opts.RefetchInterval == nil {
		opts.RefetchInterval = func(l *models.DocumentList) time.Duration {
			if l != nil && l.Pending() {
				return h.poll
			}
			return 0
		}
	}
	return query.NewQuery(h.store, DocumentsKey(req), h.documentsFetcher(req), opts)
}

func (h *Hooks) Document(workspaceID, documentID string, opts query.QueryOptions[*models.Document]) *query.Query[*models.Document] {
	if opts.RefetchInterval == nil {
		opts.RefetchInterval = func(d *models.Document) time.Duration {
			if d != nil && !d.Terminal() {
				return h.poll
			}
			return 0
		}
	}
	return query.NewQuery(h.store, DocumentKey(workspaceID, documentID), func(ctx context.Context) (*models.Document, error) {
		return h.client.GetDocument(ctx, workspaceID, documentID)
	}, opts)
}

// Search is disabled while the query text is empty.
func (h *Hooks) Search(req models.SearchRequest, opts query.QueryOptions[*models.SearchResponse]) *query.Query[*models.SearchResponse] {
	if req.Query == "" {
		opts.Disabled = true
	}
	return query.NewQuery(h.store, SearchKey(req), func(ctx context.Context) (*models.SearchResponse, error) {
		return h.client.Search(ctx, req)
	}, opts)
}

func (h *Hooks) fetchWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	return h.client.ListWorkspaces(ctx)
}

func (h *Hooks) documentsFetcher(req models.ListDocumentsRequest) func(context.Context) (*models.DocumentList, error) {
	return func(ctx context.Context) (*models.DocumentList, error) {
		return h.client.ListDocuments(ctx, req)
	}
}

// ---- Writes ----

func (h *Hooks) CreateWorkspace() *query.Mutation[models.CreateWorkspaceRequest, *models.Workspace] {
	return query.NewMutation(h.store, h.client.CreateWorkspace, query.MutationOptions[models.CreateWorkspaceRequest, *models.Workspace]{
		Invalidates: func(models.CreateWorkspaceRequest, *models.Workspace) []query.Key {
			return []query.Key{WorkspacesKey()}
		},
		OnSuccess: func(s *query.Store, _ models.CreateWorkspaceRequest, ws *models.Workspace) {
			s.SetData(WorkspaceKey(ws.ID), ws)
		},
	})
}

func (h *Hooks) UpdateWorkspace() *query.Mutation[models.UpdateWorkspaceRequest, *models.Workspace] {
	return query.NewMutation(h.store, h.client.UpdateWorkspace, query.MutationOptions[models.UpdateWorkspaceRequest, *models.Workspace]{
		Invalidates: func(models.UpdateWorkspaceRequest, *models.Workspace) []query.Key {
			return []query.Key{WorkspacesKey()}
		},
		OnSuccess: func(s *query.Store, _ models.UpdateWorkspaceRequest, ws *models.Workspace) {
			s.SetData(WorkspaceKey(ws.ID), ws)
		},
	})
}

// DeleteWorkspace drops everything cached for the workspace, including its
// documents, searches and chat sessions.
func (h *Hooks) DeleteWorkspace() *query.Mutation[string, struct{}] {
	return query.NewMutation(h.store, func(ctx context.Context, id string) (struct{}, error) {
		return struct{}{}, h.client.DeleteWorkspace(ctx, id)
	}, query.MutationOptions[string, struct{}]{
		Removes: func(id string, _ struct{}) []query.Key {
			return workspaceScoped(id)
		},
		Invalidates: func(string, struct{}) []query.Key {
			return []query.Key{WorkspacesKey()}
		},
	})
}

func (h *Hooks) UploadDocument() *query.Mutation[models.UploadDocumentRequest, *models.Document] {
	return query.NewMutation(h.store, h.client.UploadDocument, query.MutationOptions[models.UploadDocumentRequest, *models.Document]{
		Invalidates: func(req models.UploadDocumentRequest, _ *models.Document) []query.Key {
			return contentChanged(req.WorkspaceID)
		},
		OnSuccess: func(s *query.Store, _ models.UploadDocumentRequest, doc *models.Document) {
			s.SetData(DocumentKey(doc.WorkspaceID, doc.ID), doc)
		},
	})
}

// DocumentRef names one document for deletion.
type DocumentRef struct {
	WorkspaceID string
	DocumentID  string
}

func (h *Hooks) DeleteDocument() *query.Mutation[DocumentRef, struct{}] {
	return query.NewMutation(h.store, func(ctx context.Context, ref DocumentRef) (struct{}, error) {
		return struct{}{}, h.client.DeleteDocument(ctx, ref.WorkspaceID, ref.DocumentID)
	}, query.MutationOptions[DocumentRef, struct{}]{
		Removes: func(ref DocumentRef, _ struct{}) []query.Key {
			return []query.Key{DocumentKey(ref.WorkspaceID, ref.DocumentID)}
		},
		Invalidates: func(ref DocumentRef, _ struct{}) []query.Key {
			return []query.Key{DocumentsPrefix(ref.WorkspaceID), SearchPrefix(ref.WorkspaceID)}
		},
	})
}

func (h *Hooks) TriggerIngest() *query.Mutation[models.IngestRequest, *models.IngestResponse] {
	return query.NewMutation(h.store, h.client.TriggerIngest, query.MutationOptions[models.IngestRequest, *models.IngestResponse]{
		Invalidates: func(req models.IngestRequest, _ *models.IngestResponse) []query.Key {
			return contentChanged(req.WorkspaceID)
		},
	})
}

// SendChat is a plain mutation; answers are not cached. Use ChatSession to
// keep a conversation's history.
func (h *Hooks) SendChat() *query.Mutation[models.ChatRequest, *models.ChatResponse] {
	return query.NewMutation(h.store, h.client.SendChat, query.MutationOptions[models.ChatRequest, *models.ChatResponse]{})
}

// ---- Session ----

// Prefetch warms the workspace list and the first page of documents for each
// given workspace so later mounts render from cache.
func (h *Hooks) Prefetch(ctx context.Context, workspaceIDs ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)

	g.Go(func() error {
		_, err := h.store.Fetch(ctx, WorkspacesKey(), func(ctx context.Context) (any, error) {
			return h.fetchWorkspaces(ctx)
		}, false)
		return err
	})
	for _, id := range workspaceIDs {
		req := models.ListDocumentsRequest{WorkspaceID: id}
		fetch := h.documentsFetcher(req)
		g.Go(func() error {
			_, err := h.store.Fetch(ctx, DocumentsKey(req), func(ctx context.Context) (any, error) {
				return fetch(ctx)
			}, false)
			return err
		})
	}
	return g.Wait()
}

// Logout forgets the credentials and every cached read so nothing from the
// previous session is shown to the next one.
func (h *Hooks) Logout() {
	if h.tokens != nil {
		h.tokens.Clear()
	}
	h.store.Clear()
	h.logger.Info("logged out; query cache cleared")
}
