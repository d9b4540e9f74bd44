package models

import "fmt"

type SearchRequest struct {
	WorkspaceID string  `json:"workspace_id" validate:"required"`
	Query       string  `json:"query" validate:"required"`
	TopK        int     `json:"top_k,omitempty" validate:"gte=0"`
	MinScore    float64 `json:"min_score,omitempty"`
}

func (r SearchRequest) Validate() error { return check(r) }

type SearchResult struct {
	DocumentID   string  `json:"document_id" validate:"required"`
	DocumentName string  `json:"document_name,omitempty"`
	ChunkID      string  `json:"chunk_id"`
	ChunkIndex   int     `json:"chunk_index" validate:"gte=0"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"dive"`
	Count   int            `json:"count"`
}

func (r *SearchResponse) Validate() error {
	if err := check(r); err != nil {
		return err
	}
	if r.Count != len(r.Results) {
		return fieldError("count", fmt.Sprintf("is %d but %d results returned", r.Count, len(r.Results)))
	}
	return nil
}

// IngestRequest either re-ingests existing documents or ingests raw text as
// a new document named Name.
type IngestRequest struct {
	WorkspaceID string   `json:"workspace_id" validate:"required"`
	DocumentIDs []string `json:"document_ids,omitempty" validate:"required_without=Text,omitempty,min=1,dive,required"`
	Name        string   `json:"name,omitempty" validate:"required_with=Text"`
	Text        string   `json:"text,omitempty"`
}

func (r IngestRequest) Validate() error { return check(r) }

type IngestResponse struct {
	WorkspaceID string   `json:"workspace_id" validate:"required"`
	Queued      []string `json:"queued"`
}

func (r *IngestResponse) Validate() error { return check(r) }
