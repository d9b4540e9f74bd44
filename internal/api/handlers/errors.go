package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/ragdesk/internal/document"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/internal/store"
)

// Error codes carried in the "code" field of error bodies.
const (
	CodeValidation      = "validation"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeTooLarge        = "too_large"
	CodeUnsupportedType = "unsupported_type"
	CodeInternal        = "internal"
)

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeFieldError(w http.ResponseWriter, field, reason string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:  field + ": " + reason,
		Code:   CodeValidation,
		Fields: map[string]string{field: reason},
	})
}

// writeError maps service errors onto status codes. Anything unrecognised is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if fe, ok := models.AsFieldError(err); ok {
		writeFieldError(w, fe.Field, fe.Reason)
		return
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: CodeNotFound})
	case errors.Is(err, store.ErrVersionMismatch):
		writeJSON(w, http.StatusPreconditionFailed, errorBody{Error: "workspace was modified by someone else", Code: CodeConflict})
	case errors.Is(err, document.ErrTooLarge), errors.As(err, &maxErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), Code: CodeTooLarge})
	case errors.Is(err, document.ErrUnsupportedType):
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{
			Error:  err.Error(),
			Code:   CodeUnsupportedType,
			Fields: map[string]string{"file": "unsupported file type"},
		})
	case errors.Is(err, document.ErrEmptyFile):
		writeFieldError(w, "file", "is empty")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the response.
		w.WriteHeader(http.StatusRequestTimeout)
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: CodeInternal})
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, r, err)
		case errors.Is(err, io.EOF):
			writeFieldError(w, "body", "required")
		default:
			writeFieldError(w, "body", fmt.Sprintf("invalid JSON: %v", err))
		}
		return false
	}
	if dec.More() {
		writeFieldError(w, "body", "unexpected data after JSON object")
		return false
	}
	return true
}
