package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/nikhilbhutani/ragdesk/internal/llm"
	"github.com/nikhilbhutani/ragdesk/internal/models"
)

// Condenser rewrites a follow-up question into a standalone search query
// using the conversation so far.
type Condenser struct {
	llm Completer
}

func NewCondenser(c Completer) *Condenser {
	return &Condenser{llm: c}
}

// Condense returns question unchanged when there is no history, no
// provider, or the rewrite fails.
func (c *Condenser) Condense(ctx context.Context, question string, history []models.ChatMessage, provider string) string {
	if len(history) == 0 || c.llm == nil || !c.llm.Available() {
		return question
	}

	var transcript strings.Builder
	for _, m := range recentHistory(history) {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := c.llm.Complete(ctx, llm.Request{
		Provider: provider,
		Messages: []llm.Message{
			{
				Role: "system",
				Content: `You turn follow-up questions into standalone search queries.
Given a conversation and a follow-up question, rewrite the question so it can be understood
without the conversation. Return ONLY the rewritten question.`,
			},
			{
				Role:    "user",
				Content: fmt.Sprintf("Conversation:\n%s\nFollow-up question: %s", transcript.String(), question),
			},
		},
		Temperature: 0,
		MaxTokens:   128,
	})
	if err != nil {
		return question
	}

	rewritten := strings.TrimSpace(strings.SplitN(strings.TrimSpace(resp.Content), "\n", 2)[0])
	if rewritten == "" {
		return question
	}
	return rewritten
}
