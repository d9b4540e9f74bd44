package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nikhilbhutani/ragdesk/internal/llm"
	"github.com/nikhilbhutani/ragdesk/internal/models"
	"github.com/nikhilbhutani/ragdesk/pkg/tokenizer"
)

// ExtractiveModel names answers assembled from the sources without a model.
const ExtractiveModel = "extractive"

const (
	defaultContextTokens = 3000
	maxHistoryMessages   = 6
	sourceSnippetTokens  = 60
)

const systemPrompt = `You are a helpful assistant answering questions about a workspace's documents.
Answer using only the provided context. If the context doesn't contain enough information, say so.
Cite the sources you used as [Source N] where N is the context chunk number.`

const noResultsAnswer = "I couldn't find anything in this workspace's documents that answers that."

// Completer is the part of *llm.Gateway the generator needs.
type Completer interface {
	Available() bool
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

type Generator struct {
	llm           Completer
	contextTokens int
	logger        *slog.Logger
}

func NewGenerator(c Completer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: c, contextTokens: defaultContextTokens, logger: logger}
}

type GenerateRequest struct {
	Question string
	History  []models.ChatMessage
	Sources  []models.SearchResult
	Model    string
	Provider string
}

// Generate answers from the sources through the LLM. Without a provider, or
// when every provider fails, the answer is stitched from the sources instead.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*models.ChatResponse, error) {
	refs := sourceRefs(req.Sources)
	if len(req.Sources) == 0 {
		return &models.ChatResponse{Answer: noResultsAnswer, Sources: refs}, nil
	}
	if g.llm == nil || !g.llm.Available() {
		return &models.ChatResponse{Answer: extractiveAnswer(req.Sources), Sources: refs, Model: ExtractiveModel}, nil
	}

	messages := []llm.Message{{Role: "system", Content: systemPrompt}}
	for _, m := range recentHistory(req.History) {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", buildContext(req.Sources, g.contextTokens), req.Question),
	})

	resp, err := g.llm.Complete(ctx, llm.Request{
		Provider:    req.Provider,
		Model:       req.Model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("generation failed, answering extractively", "error", err)
		return &models.ChatResponse{Answer: extractiveAnswer(req.Sources), Sources: refs, Model: ExtractiveModel}, nil
	}

	g.logger.Debug("answer generated",
		"provider", resp.Provider,
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"cost_usd", resp.CostUSD,
		"latency_ms", resp.LatencyMs,
	)
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		answer = extractiveAnswer(req.Sources)
	}
	return &models.ChatResponse{Answer: answer, Sources: refs, Model: resp.Model}, nil
}

// buildContext numbers the sources and stops once the token budget is spent.
func buildContext(results []models.SearchResult, budget int) string {
	var sb strings.Builder
	for i, r := range results {
		if budget <= 0 {
			break
		}
		content := tokenizer.Truncate(r.Content, budget)
		budget -= tokenizer.CountTokens(content)
		fmt.Fprintf(&sb, "[Source %d] %s (score: %.3f)\n%s\n\n", i+1, r.DocumentName, r.Score, content)
	}
	return sb.String()
}

func recentHistory(history []models.ChatMessage) []models.ChatMessage {
	if len(history) > maxHistoryMessages {
		return history[len(history)-maxHistoryMessages:]
	}
	return history
}

func extractiveAnswer(results []models.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("No language model is available. The most relevant passages are:\n")
	for i, r := range results {
		if i == 3 {
			break
		}
		fmt.Fprintf(&sb, "\n[Source %d] %s", i+1, tokenizer.Truncate(r.Content, sourceSnippetTokens))
	}
	return sb.String()
}

func sourceRefs(results []models.SearchResult) []models.SourceRef {
	refs := make([]models.SourceRef, len(results))
	for i, r := range results {
		refs[i] = models.SourceRef{
			DocumentID:   r.DocumentID,
			DocumentName: r.DocumentName,
			ChunkIndex:   r.ChunkIndex,
			Content:      truncate(r.Content, 200),
			Score:        r.Score,
		}
	}
	return refs
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
