package rag

import (
	"context"

	"github.com/nikhilbhutani/ragdesk/internal/models"
)

// Pipeline serves the chat and search endpoints.
type Pipeline struct {
	retriever *Retriever
	generator *Generator
	condenser *Condenser
}

// NewPipeline wires the stages together. condenser may be nil.
func NewPipeline(r *Retriever, g *Generator, c *Condenser) *Pipeline {
	return &Pipeline{retriever: r, generator: g, condenser: c}
}

func (p *Pipeline) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	return p.retriever.Search(ctx, req)
}

// Chat retrieves passages for the (condensed) message and answers from them.
func (p *Pipeline) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query := req.Message
	if p.condenser != nil {
		query = p.condenser.Condense(ctx, req.Message, req.History, req.Provider)
	}

	found, err := p.retriever.Search(ctx, models.SearchRequest{
		WorkspaceID: req.WorkspaceID,
		Query:       query,
		TopK:        req.TopK,
	})
	if err != nil {
		return nil, err
	}

	return p.generator.Generate(ctx, GenerateRequest{
		Question: req.Message,
		History:  req.History,
		Sources:  found.Results,
		Model:    req.Model,
		Provider: req.Provider,
	})
}

// Invalidate drops cached searches for a workspace after its documents change.
func (p *Pipeline) Invalidate(ctx context.Context, workspaceID string) error {
	return p.retriever.Invalidate(ctx, workspaceID)
}
