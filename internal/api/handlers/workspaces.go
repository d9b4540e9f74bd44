package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/ragdesk/internal/document"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/store"
)

type WorkspaceHandler struct {
	store store.Store
	docs  *document.Service
}

func NewWorkspaceHandler(st store.Store, docs *document.Service) *WorkspaceHandler {
	return &WorkspaceHandler{store: st, docs: docs}
}

func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListWorkspaces(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Workspace{}
	}
	writeJSON(w, http.StatusOK, models.WorkspaceList{Workspaces: list, Count: len(list)})
}

func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, err := h.store.GetWorkspace(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	setETag(w, ws.Version)
	writeJSON(w, http.StatusOK, ws)
}

func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWorkspaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	ws := &models.Workspace{Name: req.Name, Description: req.Description}
	if len(req.Metadata) > 0 {
		ws.Metadata, _ = json.Marshal(req.Metadata)
	}
	if err := h.store.CreateWorkspace(r.Context(), ws); err != nil {
		writeError(w, r, err)
		return
	}
	setETag(w, ws.Version)
	writeJSON(w, http.StatusCreated, ws)
}

// Update applies a partial update. With an If-Match header the update only
// succeeds against that version; without one the last write wins.
func (h *WorkspaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	expect, ok := parseIfMatch(r.Header.Get("If-Match"))
	if !ok {
		writeFieldError(w, "If-Match", "must be a quoted version number")
		return
	}

	var req models.UpdateWorkspaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "workspaceID")
	if err := req.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	patch := store.WorkspacePatch{Name: req.Name, Description: req.Description}
	if req.Metadata != nil {
		patch.Metadata, _ = json.Marshal(*req.Metadata)
	}
	ws, err := h.store.UpdateWorkspace(r.Context(), req.ID, patch, expect)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setETag(w, ws.Version)
	writeJSON(w, http.StatusOK, ws)
}

func (h *WorkspaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.DeleteWorkspace(r.Context(), chi.URLParam(r, "workspaceID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

// parseIfMatch accepts `"3"`, `W/"3"` or a bare 3. An empty header means no
// precondition and yields 0.
func parseIfMatch(h string) (int64, bool) {
	h = strings.TrimPrefix(strings.TrimSpace(h), "W/")
	if h == "" {
		return 0, true
	}
	if unq, err := strconv.Unquote(h); err == nil {
		h = unq
	}
	v, err := strconv.ParseInt(h, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
