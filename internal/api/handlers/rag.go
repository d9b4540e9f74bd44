package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/ragdesk/internal/document"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/rag"
)

type RAGHandler struct {
	pipeline *rag.Pipeline
	docs     *document.Service
}

func NewRAGHandler(p *rag.Pipeline, docs *document.Service) *RAGHandler {
	return &RAGHandler{pipeline: p, docs: docs}
}

func (h *RAGHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.WorkspaceID = chi.URLParam(r, "workspaceID")

	resp, err := h.pipeline.Chat(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.WorkspaceID = chi.URLParam(r, "workspaceID")

	resp, err := h.pipeline.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ingest queues documents (or pasted text) and answers before processing.
func (h *RAGHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.WorkspaceID = chi.URLParam(r, "workspaceID")

	resp, err := h.docs.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}
