// Package client exposes one typed function per backend operation. It never
// retries; failures reach the caller as *transport.Error.
package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nikhilbhutani/ragdesk/internal/transport"
)

const apiPrefix = "/api/v1"

// ConflictPolicy decides how workspace updates race with each other.
type ConflictPolicy int

const (
	// ConflictLastWriteWins sends updates unconditionally.
	ConflictLastWriteWins ConflictPolicy = iota
	// ConflictOptimisticLock sends If-Match with the caller's version and
	// surfaces a Conflict error when the backend copy has moved on.
	ConflictOptimisticLock
)

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch s {
	case "", "last-write-wins", "lww":
		return ConflictLastWriteWins, nil
	case "optimistic-lock", "optimistic":
		return ConflictOptimisticLock, nil
	default:
		return 0, fmt.Errorf("unknown conflict policy %q", s)
	}
}

func (p ConflictPolicy) String() string {
	if p == ConflictOptimisticLock {
		return "optimistic-lock"
	}
	return "last-write-wins"
}

// Doer is the transport surface the client needs.
type Doer interface {
	Do(ctx context.Context, req transport.Request, out any) error
}

type Client struct {
	t        Doer
	conflict ConflictPolicy
}

type Option func(*Client)

func WithConflictPolicy(p ConflictPolicy) Option {
	return func(c *Client) { c.conflict = p }
}

func New(t Doer, opts ...Option) *Client {
	c := &Client{t: t}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ConflictPolicy() ConflictPolicy { return c.conflict }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.t.Do(ctx, transport.Request{Method: method, Path: apiPrefix + path, Body: body}, out)
}

// check rejects invalid input before any request is sent.
func check(method, path string, v interface{ Validate() error }) error {
	if err := v.Validate(); err != nil {
		return transport.Invalid(method+" "+apiPrefix+path, err)
	}
	return nil
}

func requireID(method, path, field, id string) error {
	if id == "" {
		return &transport.Error{
			Kind:    transport.KindValidation,
			Op:      method + " " + apiPrefix + path,
			Message: field + ": required",
			Fields:  map[string]string{field: "required"},
		}
	}
	return nil
}

func workspacePath(id string) string {
	return "/workspaces/" + url.PathEscape(id)
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}
