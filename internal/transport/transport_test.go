package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nikhilbhutani/ragdesk/internal/auth"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (i *item) Validate() error {
	if i.ID == "" {
		return errors.New("id: required")
	}
	return nil
}

func newTestTransport(t *testing.T, h http.HandlerFunc, cfg Config) *Transport {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return tr
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "://nope"} {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Errorf("New(%q) should fail", raw)
		}
	}
}

func TestTransport_DoDecodesAndSetsHeaders(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/workspaces/w1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing request id")
		}
		if r.Header.Get("X-Tenant") != "acme" {
			t.Errorf("extra header = %q", r.Header.Get("X-Tenant"))
		}
		w.Write([]byte(`{"id":"w1","name":"Research"}`))
	}, Config{
		Tokens: auth.StaticToken("secret"),
		Header: http.Header{"X-Tenant": []string{"acme"}},
	})

	var out item
	err := tr.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/api/v1/workspaces/w1",
		Query:  map[string][]string{"limit": {"5"}},
	}, &out)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if out.Name != "Research" {
		t.Errorf("decoded %+v", out)
	}
}

func TestTransport_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   Kind
	}{
		{http.StatusBadRequest, `{"error":"name: required","code":"invalid","fields":{"name":"required"}}`, KindValidation},
		{http.StatusUnprocessableEntity, `{"error":"bad"}`, KindValidation},
		{http.StatusUnauthorized, `{"error":"token expired"}`, KindUnauthorized},
		{http.StatusForbidden, ``, KindUnauthorized},
		{http.StatusNotFound, `{"error":"workspace not found"}`, KindNotFound},
		{http.StatusPreconditionFailed, `{"error":"version mismatch"}`, KindConflict},
		{http.StatusInternalServerError, `upstream exploded`, KindServer},
		{http.StatusBadGateway, ``, KindServer},
	}
	for _, tc := range cases {
		tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			io.WriteString(w, tc.body)
		}, Config{})

		err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &item{})
		var te *Error
		if !errors.As(err, &te) {
			t.Fatalf("status %d: expected *Error, got %T", tc.status, err)
		}
		if te.Kind != tc.kind || te.Status != tc.status {
			t.Errorf("status %d: kind=%v status=%d", tc.status, te.Kind, te.Status)
		}
		if te.Message == "" {
			t.Errorf("status %d: empty message", tc.status)
		}
	}
}

func TestTransport_ValidationFields(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"name: required","code":"invalid","fields":{"name":"required"}}`)
	}, Config{})

	err := tr.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x", Body: map[string]string{}}, nil)
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if te.Fields["name"] != "required" || te.Code != "invalid" {
		t.Errorf("fields=%v code=%q", te.Fields, te.Code)
	}
}

func TestTransport_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr, _ := New(Config{BaseURL: url})
	err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	if !IsNetwork(err) {
		t.Errorf("expected NetworkError, got %v", err)
	}
}

func TestTransport_Timeout(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, Config{Timeout: 20 * time.Millisecond})

	err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/slow"}, nil)
	if !IsNetwork(err) {
		t.Errorf("timeout should be a NetworkError, got %v", err)
	}
}

func TestTransport_SchemaViolation(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"name":"missing id"}`)
	}, Config{})

	err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &item{})
	var te *Error
	if !errors.As(err, &te) || te.Kind != KindValidation || te.Code != "invalid_response" {
		t.Errorf("expected invalid_response ValidationError, got %v", err)
	}
}

func TestTransport_MalformedJSON(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":`)
	}, Config{})

	err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &item{})
	if !IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestTransport_ExpiredTokenNeverSent(t *testing.T) {
	called := false
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, Config{Tokens: auth.NewJWTSource(expiredToken(t), 0)})

	err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	if !IsUnauthorized(err) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
	if called {
		t.Error("request sent with expired token")
	}
}

type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}

func TestTransport_UploadWithExpiredTokenReleasesFile(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent with expired token")
	}, Config{Tokens: auth.NewJWTSource(expiredToken(t), 0)})

	before := runtime.NumGoroutine()
	files := make([]*countingReader, 20)
	for i := range files {
		files[i] = &countingReader{r: strings.NewReader("hello pdf")}
		err := tr.Do(context.Background(), Request{
			Method: http.MethodPost,
			Path:   "/docs",
			Form:   &Multipart{FileName: "a.pdf", File: files[i]},
		}, nil)
		if !IsUnauthorized(err) {
			t.Fatalf("expected Unauthorized, got %v", err)
		}
	}

	time.Sleep(20 * time.Millisecond)
	if after := runtime.NumGoroutine(); after-before >= len(files) {
		t.Errorf("goroutines grew from %d to %d", before, after)
	}
	for i, f := range files {
		if f.reads != 0 {
			t.Errorf("file %d read %d times for a request never sent", i, f.reads)
		}
	}
}

func expiredToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.IssueToken("k", "user-1", "member", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestTransport_MultipartUpload(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("content type = %s", r.Header.Get("Content-Type"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "hello pdf" || header.Filename != `report "q1".pdf` {
			t.Errorf("file=%q name=%q", data, header.Filename)
		}
		if r.FormValue("name") != "report" {
			t.Errorf("name field = %q", r.FormValue("name"))
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"d1","name":"report"}`)
	}, Config{})

	var out item
	err := tr.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/docs",
		Form: &Multipart{
			Fields:      map[string]string{"name": "report"},
			FileName:    `report "q1".pdf`,
			ContentType: "application/pdf",
			File:        strings.NewReader("hello pdf"),
		},
	}, &out)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if out.ID != "d1" {
		t.Errorf("out = %+v", out)
	}
}

func TestKindOf_ForeignError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindServer {
		t.Error("foreign errors should classify as ServerError")
	}
	wrapped := errors.Join(errors.New("ctx"), &Error{Kind: KindNotFound})
	if !IsNotFound(wrapped) {
		t.Error("wrapped kind lost")
	}
}
