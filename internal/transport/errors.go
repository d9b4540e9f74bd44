package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nikhilbhutani/ragdesk/internal/models"
)

// Kind classifies a failure independent of how the backend was reached.
type Kind int

const (
	KindServer Kind = iota
	KindNetwork
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindValidation:
		return "ValidationError"
	case KindUnauthorized:
		return "Unauthorized"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	default:
		return "ServerError"
	}
}

// Error is the only error shape the client layer lets escape.
type Error struct {
	Kind    Kind
	Op      string // e.g. "GET /api/v1/workspaces"
	Status  int    // 0 when no response was received
	Code    string // backend error code, if any
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Op, e.Kind, e.Status, msg)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindForStatus maps a non-2xx HTTP status onto the taxonomy.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		return KindConflict
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindServer
	}
}

// KindOf returns the kind of err, or KindServer for errors that did not come
// through the transport.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindServer
}

func Is(err error, kind Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}

func IsNetwork(err error) bool      { return Is(err, KindNetwork) }
func IsNotFound(err error) bool     { return Is(err, KindNotFound) }
func IsValidation(err error) bool   { return Is(err, KindValidation) }
func IsUnauthorized(err error) bool { return Is(err, KindUnauthorized) }
func IsConflict(err error) bool     { return Is(err, KindConflict) }

// Invalid builds a ValidationError for input rejected before any request is sent.
func Invalid(op string, err error) *Error {
	e := &Error{Kind: KindValidation, Op: op, Message: err.Error(), Err: err}
	if fe, ok := models.AsFieldError(err); ok {
		e.Fields = map[string]string{fe.Field: fe.Reason}
	}
	return e
}
