package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/transport"
)

func (c *Client) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	var out models.WorkspaceList
	if err := c.do(ctx, http.MethodGet, "/workspaces", nil, &out); err != nil {
		return nil, err
	}
	return out.Workspaces, nil
}

func (c *Client) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	if err := requireID(http.MethodGet, "/workspaces/{id}", "id", id); err != nil {
		return nil, err
	}
	var ws models.Workspace
	if err := c.do(ctx, http.MethodGet, workspacePath(id), nil, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (c *Client) CreateWorkspace(ctx context.Context, req models.CreateWorkspaceRequest) (*models.Workspace, error) {
	if err := check(http.MethodPost, "/workspaces", req); err != nil {
		return nil, err
	}
	var ws models.Workspace
	if err := c.do(ctx, http.MethodPost, "/workspaces", req, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// UpdateWorkspace applies a partial update. Under ConflictOptimisticLock the
// request must carry the version it was based on.
func (c *Client) UpdateWorkspace(ctx context.Context, req models.UpdateWorkspaceRequest) (*models.Workspace, error) {
	if err := check(http.MethodPatch, "/workspaces/{id}", req); err != nil {
		return nil, err
	}

	r := transport.Request{
		Method: http.MethodPatch,
		Path:   apiPrefix + workspacePath(req.ID),
		Body:   req,
	}
	if c.conflict == ConflictOptimisticLock {
		if req.Version <= 0 {
			return nil, requireID(http.MethodPatch, "/workspaces/{id}", "version", "")
		}
		r.Header = http.Header{"If-Match": []string{strconv.Quote(strconv.FormatInt(req.Version, 10))}}
	}

	var ws models.Workspace
	if err := c.t.Do(ctx, r, &ws); err != nil {
		return nil, err
	}
	if ws.ID != req.ID {
		return nil, transport.Invalid(r.Method+" "+r.Path, fmt.Errorf("response is for workspace %q", ws.ID))
	}
	return &ws, nil
}

func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	if err := requireID(http.MethodDelete, "/workspaces/{id}", "id", id); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, workspacePath(id), nil, nil)
}
