package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/transport"
)

func documentsPath(workspaceID string) string {
	return workspacePath(workspaceID) + "/documents"
}

func documentPath(workspaceID, documentID string) string {
	return documentsPath(workspaceID) + "/" + url.PathEscape(documentID)
}

func (c *Client) ListDocuments(ctx context.Context, req models.ListDocumentsRequest) (*models.DocumentList, error) {
	if err := check(http.MethodGet, "/workspaces/{id}/documents", req); err != nil {
		return nil, err
	}

	q := pageQuery(req.Limit, req.Offset)
	if req.Status != "" {
		q.Set("status", req.Status)
	}

	var out models.DocumentList
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   apiPrefix + documentsPath(req.WorkspaceID),
		Query:  q,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Documents == nil {
		out.Documents = []models.Document{}
	}
	return &out, nil
}

func (c *Client) GetDocument(ctx context.Context, workspaceID, documentID string) (*models.Document, error) {
	path := "/workspaces/{id}/documents/{document_id}"
	if err := requireID(http.MethodGet, path, "workspace_id", workspaceID); err != nil {
		return nil, err
	}
	if err := requireID(http.MethodGet, path, "document_id", documentID); err != nil {
		return nil, err
	}
	var doc models.Document
	if err := c.do(ctx, http.MethodGet, documentPath(workspaceID, documentID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UploadDocument streams the file as multipart form data with the name and
// metadata as sibling fields. The returned document is normally pending.
func (c *Client) UploadDocument(ctx context.Context, req models.UploadDocumentRequest) (*models.Document, error) {
	if err := check(http.MethodPost, "/workspaces/{id}/documents", req); err != nil {
		return nil, err
	}

	fields := map[string]string{"name": req.Name}
	if len(req.Metadata) > 0 {
		meta, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, transport.Invalid(http.MethodPost+" "+apiPrefix+"/workspaces/{id}/documents", err)
		}
		fields["metadata"] = string(meta)
	}

	var doc models.Document
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   apiPrefix + documentsPath(req.WorkspaceID),
		Form: &transport.Multipart{
			Fields:      fields,
			FileField:   "file",
			FileName:    req.Name,
			ContentType: req.ContentType,
			File:        req.File,
		},
	}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateDocument is UploadDocument under the name the UI layer uses.
func (c *Client) CreateDocument(ctx context.Context, req models.UploadDocumentRequest) (*models.Document, error) {
	return c.UploadDocument(ctx, req)
}

func (c *Client) DeleteDocument(ctx context.Context, workspaceID, documentID string) error {
	path := "/workspaces/{id}/documents/{document_id}"
	if err := requireID(http.MethodDelete, path, "workspace_id", workspaceID); err != nil {
		return err
	}
	if err := requireID(http.MethodDelete, path, "document_id", documentID); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, documentPath(workspaceID, documentID), nil, nil)
}
