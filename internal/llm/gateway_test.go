package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nikhilbhutani/ragdesk/internal/config"
)

type fakeProvider struct {
	name     string
	failures int
	calls    int
	models   []string
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) DefaultModel() string { return f.name + "-default" }

func (f *fakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	f.calls++
	f.models = append(f.models, req.Model)
	if f.calls <= f.failures {
		return nil, errors.New("upstream unavailable")
	}
	return &Response{Provider: f.name, Model: req.Model, Content: "ok from " + f.name}, nil
}

func newTestGateway(cfg config.LLMConfig, providers ...Provider) *Gateway {
	g := NewGateway(cfg, nil)
	g.retryDelay = time.Millisecond
	for _, p := range providers {
		g.Register(p)
	}
	return g
}

func TestGateway_NoProvider(t *testing.T) {
	g := newTestGateway(config.LLMConfig{DefaultProvider: "openai"})
	if g.Available() {
		t.Error("gateway without keys should not be available")
	}
	if _, err := g.Complete(context.Background(), Request{}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}

func TestGateway_RetriesThenSucceeds(t *testing.T) {
	p := &fakeProvider{name: "openai", failures: 2}
	g := newTestGateway(config.LLMConfig{DefaultProvider: "openai", DefaultModel: "gpt-4o-mini", MaxRetries: 2}, p)

	resp, err := g.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.calls != 3 || resp.Model != "gpt-4o-mini" {
		t.Errorf("calls=%d model=%q", p.calls, resp.Model)
	}
}

func TestGateway_FallsBackWithProviderDefaultModel(t *testing.T) {
	primary := &fakeProvider{name: "openai", failures: 10}
	fallback := &fakeProvider{name: "anthropic"}
	g := newTestGateway(config.LLMConfig{
		DefaultProvider:  "openai",
		DefaultModel:     "gpt-4o-mini",
		FallbackProvider: "anthropic",
		MaxRetries:       1,
	}, primary, fallback)

	resp, err := g.Complete(context.Background(), Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Provider != "anthropic" || resp.Model != "anthropic-default" {
		t.Errorf("resp = %+v", resp)
	}
	if primary.calls != 2 {
		t.Errorf("primary called %d times", primary.calls)
	}
}

func TestGateway_UnknownProvider(t *testing.T) {
	g := newTestGateway(config.LLMConfig{DefaultProvider: "openai"}, &fakeProvider{name: "openai"})
	if _, err := g.Complete(context.Background(), Request{Provider: "mistral"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if got := g.Providers(); len(got) != 1 || got[0] != "openai" {
		t.Errorf("providers = %v", got)
	}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": req.Model,
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "grounded answer"}},
			},
			"usage": map[string]int{"prompt_tokens": 1000, "completion_tokens": 1000, "total_tokens": 2000},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL)
	resp, err := p.Complete(context.Background(), Request{
		Model: "gpt-4o-mini",
		Messages: []Message{
			{Role: "system", Content: "answer from context"},
			{Role: "user", Content: "question"},
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "grounded answer" || resp.InputTokens != 1000 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.CostUSD != CalculateCost("gpt-4o-mini", 1000, 1000) || resp.CostUSD == 0 {
		t.Errorf("cost = %v", resp.CostUSD)
	}
}

func TestOllamaProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.Model != "llama3" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(ollamaChatResp{
			Message:         Message{Role: "assistant", Content: "local answer"},
			PromptEvalCount: 12,
			EvalCount:       3,
		})
	}))
	defer srv.Close()

	resp, err := NewOllamaProvider(srv.URL+"/").Complete(context.Background(), Request{
		Model:    "llama3",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "local answer" || resp.OutputTokens != 3 || resp.CostUSD != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOllamaProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	if _, err := NewOllamaProvider(srv.URL).Complete(context.Background(), Request{Model: "x"}); err == nil {
		t.Error("expected error")
	}
}

func TestCalculateCost_UnknownModelIsFree(t *testing.T) {
	if c := CalculateCost("llama3", 1000, 1000); c != 0 {
		t.Errorf("cost = %v", c)
	}
}
