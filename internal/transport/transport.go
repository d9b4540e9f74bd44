package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragdesk/internal/auth"
	"github.com/nikhilbhutani/ragdesk/internal/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "ragdesk-client/1.0"
	maxResponseBytes = 32 << 20
	maxErrorBody     = 4 << 10
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	Tokens     auth.TokenSource
	Header     http.Header
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Transport is the single point of HTTP communication with the backend.
type Transport struct {
	baseURL    *url.URL
	timeout    time.Duration
	userAgent  string
	tokens     auth.TokenSource
	header     http.Header
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config) (*Transport, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport: base URL required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	t := &Transport{
		baseURL:    base,
		timeout:    cfg.Timeout,
		userAgent:  cfg.UserAgent,
		tokens:     cfg.Tokens,
		header:     cfg.Header.Clone(),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if t.timeout <= 0 {
		t.timeout = defaultTimeout
	}
	if t.userAgent == "" {
		t.userAgent = defaultUserAgent
	}
	if t.httpClient == nil {
		t.httpClient = &http.Client{}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t, nil
}

// Request describes one backend call. Form takes precedence over Body.
type Request struct {
	Method string
	Path   string // escaped, relative to the base URL
	Query  url.Values
	Body   any
	Form   *Multipart
	Header http.Header
}

// Multipart is a streamed multipart/form-data body with one file part.
type Multipart struct {
	Fields      map[string]string
	FileField   string
	FileName    string
	ContentType string
	File        io.Reader
}

// Validator is implemented by response shapes that can check themselves.
type Validator interface {
	Validate() error
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

// Do performs req and decodes a 2xx JSON body into out. out may be nil.
// Every failure is returned as *Error.
func (t *Transport) Do(ctx context.Context, req Request, out any) error {
	op := req.Method + " " + req.Path
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return t.finish(op, req.Method, start, err)
	}
	requestID := httpReq.Header.Get("X-Request-ID")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return t.finish(op, req.Method, start, &Error{Kind: KindNetwork, Op: op, Message: "request failed", Err: err})
	}
	defer resp.Body.Close()

	t.logger.Debug("backend request",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return t.finish(op, req.Method, start, decodeError(op, resp))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return t.finish(op, req.Method, start, nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return t.finish(op, req.Method, start, &Error{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Message: "read response body", Err: err})
	}
	if err := json.Unmarshal(data, out); err != nil {
		return t.finish(op, req.Method, start, &Error{Kind: KindValidation, Op: op, Status: resp.StatusCode, Code: "invalid_response", Message: "decode response: " + err.Error(), Err: err})
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			e := Invalid(op, fmt.Errorf("response schema: %w", err))
			e.Status = resp.StatusCode
			e.Code = "invalid_response"
			return t.finish(op, req.Method, start, e)
		}
	}
	return t.finish(op, req.Method, start, nil)
}

func (t *Transport) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	op := req.Method + " " + req.Path

	// req.Path is already escaped; ids with reserved characters stay inside
	// their segment.
	u := *t.baseURL
	raw := t.baseURL.EscapedPath() + "/" + strings.TrimLeft(req.Path, "/")
	path, err := url.PathUnescape(raw)
	if err != nil {
		return nil, Invalid(op, fmt.Errorf("request path: %w", err))
	}
	u.Path, u.RawPath = path, raw
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var token string
	if t.tokens != nil {
		if token, err = t.tokens.Token(ctx); err != nil {
			return nil, &Error{Kind: KindUnauthorized, Op: op, Message: err.Error(), Err: err}
		}
	}

	// The multipart writer goroutine starts last; every later failure must
	// close the pipe so it can exit.
	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.Form != nil:
		body, contentType = streamMultipart(req.Form)
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, Invalid(op, fmt.Errorf("encode request body: %w", err))
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		if c, ok := body.(io.Closer); ok {
			c.Close()
		}
		return nil, Invalid(op, fmt.Errorf("create request: %w", err))
	}

	for k, vs := range t.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	return httpReq, nil
}

// streamMultipart writes the form through a pipe so large files are never
// held in memory.
func streamMultipart(form *Multipart) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, form)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func writeMultipart(mw *multipart.Writer, form *Multipart) error {
	for name, value := range form.Fields {
		if err := mw.WriteField(name, value); err != nil {
			return fmt.Errorf("write field %s: %w", name, err)
		}
	}

	field := form.FileField
	if field == "" {
		field = "file"
	}
	contentType := form.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field), escapeQuotes(form.FileName)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, form.File); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func decodeError(op string, resp *http.Response) *Error {
	e := &Error{Kind: KindForStatus(resp.StatusCode), Op: op, Status: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		e.Message = http.StatusText(resp.StatusCode)
		return e
	}

	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		e.Message = body.Error
		e.Code = body.Code
		e.Fields = body.Fields
		return e
	}

	if text := strings.TrimSpace(string(raw)); text != "" {
		e.Message = text
	} else {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

func (t *Transport) finish(op, method string, start time.Time, err error) error {
	metrics.ClientRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.ClientRequests.WithLabelValues(method, "ok").Inc()
		return nil
	}

	var te *Error
	if !errors.As(err, &te) {
		te = &Error{Kind: KindServer, Op: op, Message: err.Error(), Err: err}
	}
	metrics.ClientRequests.WithLabelValues(method, te.Kind.String()).Inc()
	if te.Kind != KindNotFound {
		t.logger.Debug("backend request failed", "op", op, "kind", te.Kind.String(), "status", te.Status, "error", te.Message)
	}
	return te
}
