package client

import (
	"context"
	"net/http"

	"github.com/nikhilbhutani/ragdesk/internal/models"
)

func (c *Client) SendChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if err := check(http.MethodPost, "/workspaces/{id}/chat", req); err != nil {
		return nil, err
	}
	var out models.ChatResponse
	if err := c.do(ctx, http.MethodPost, workspacePath(req.WorkspaceID)+"/chat", req, &out); err != nil {
		return nil, err
	}
	if out.Sources == nil {
		out.Sources = []models.SourceRef{}
	}
	return &out, nil
}

func (c *Client) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if err := check(http.MethodPost, "/workspaces/{id}/search", req); err != nil {
		return nil, err
	}
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, workspacePath(req.WorkspaceID)+"/search", req, &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []models.SearchResult{}
	}
	return &out, nil
}

func (c *Client) TriggerIngest(ctx context.Context, req models.IngestRequest) (*models.IngestResponse, error) {
	if err := check(http.MethodPost, "/workspaces/{id}/ingest", req); err != nil {
		return nil, err
	}
	var out models.IngestResponse
	if err := c.do(ctx, http.MethodPost, workspacePath(req.WorkspaceID)+"/ingest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
