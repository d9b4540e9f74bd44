package models

import "errors"

type ChatMessage struct {
	Role    string `json:"role" validate:"oneof=user assistant"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatRequest struct {
	WorkspaceID string        `json:"workspace_id" validate:"required"`
	Message     string        `json:"message" validate:"required"`
	History     []ChatMessage `json:"history,omitempty" validate:"dive"`
	TopK        int           `json:"top_k,omitempty" validate:"gte=0"`
	Model       string        `json:"model,omitempty"`
	Provider    string        `json:"provider,omitempty"`
}

func (r ChatRequest) Validate() error { return check(r) }

// SourceRef points at the passage an answer was grounded on.
type SourceRef struct {
	DocumentID   string  `json:"document_id" validate:"required"`
	DocumentName string  `json:"document_name,omitempty"`
	ChunkIndex   int     `json:"chunk_index" validate:"gte=0"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

type ChatResponse struct {
	Answer  string      `json:"answer" validate:"required"`
	Sources []SourceRef `json:"sources" validate:"dive"`
	Model   string      `json:"model,omitempty"`
}

func (r *ChatResponse) Validate() error { return check(r) }

// FieldError reports a single invalid field in a request or response shape.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

func fieldError(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

// AsFieldError unwraps err to a *FieldError when one is present.
func AsFieldError(err error) (*FieldError, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
