package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/ragdesk/internal/document"
	"github.com/nikhilbhutani/ragdesk/internal/models"
)

// multipartMemory is how much of an upload is buffered in memory before the
// rest spills to a temp file.
const multipartMemory = 32 << 20

type DocumentHandler struct {
	svc      *document.Service
	maxBytes int64
}

func NewDocumentHandler(svc *document.Service, maxBytes int64) *DocumentHandler {
	return &DocumentHandler{svc: svc, maxBytes: maxBytes}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// The form carries a little more than the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, document.ErrTooLarge)
			return
		}
		writeFieldError(w, "body", "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeFieldError(w, "file", "required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	var metadata map[string]any
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeFieldError(w, "metadata", "must be a JSON object")
			return
		}
	}

	doc, err := h.svc.Upload(r.Context(), models.UploadDocumentRequest{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		Name:        name,
		ContentType: header.Header.Get("Content-Type"),
		File:        file,
		Metadata:    metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.ListDocumentsRequest{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		Status:      q.Get("status"),
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &req.Limit}, {"offset", &req.Offset}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeFieldError(w, p.name, "must be an integer")
				return
			}
			*p.dst = n
		}
	}
	switch req.Status {
	case "", models.DocStatusPending, models.DocStatusProcessing, models.DocStatusProcessed, models.DocStatusFailed:
	default:
		writeFieldError(w, "status", "unknown status")
		return
	}

	list, err := h.svc.List(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "documentID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
