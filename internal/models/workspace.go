package models

import (
	"encoding/json"
	"time"
)

type Workspace struct {
	ID          string          `json:"id" db:"id" validate:"required"`
	Name        string          `json:"name" db:"name" validate:"required"`
	Description string          `json:"description,omitempty" db:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Version     int64           `json:"version" db:"version" validate:"gte=0"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

func (w *Workspace) Validate() error { return check(w) }

type CreateWorkspaceRequest struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r CreateWorkspaceRequest) Validate() error { return check(r) }

// UpdateWorkspaceRequest is a partial update: nil fields are left untouched.
// Version is the version the caller last saw; it is only enforced under
// optimistic locking.
type UpdateWorkspaceRequest struct {
	ID          string          `json:"-" validate:"required"`
	Name        *string         `json:"name,omitempty" validate:"omitnil,min=1"`
	Description *string         `json:"description,omitempty"`
	Metadata    *map[string]any `json:"metadata,omitempty"`
	Version     int64           `json:"-" validate:"gte=0"`
}

func (r UpdateWorkspaceRequest) Validate() error {
	if err := check(r); err != nil {
		return err
	}
	if r.Name == nil && r.Description == nil && r.Metadata == nil {
		return fieldError("body", "no fields to update")
	}
	return nil
}

type WorkspaceList struct {
	Workspaces []Workspace `json:"workspaces" validate:"dive"`
	Count      int         `json:"count"`
}

func (l *WorkspaceList) Validate() error { return check(l) }
