// Package tokenizer estimates token counts for prompt budgeting.
package tokenizer

import (
	"strings"
)

// CountTokens is a rough estimate: about four tokens per three words.
func CountTokens(text string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return max(len(words)*4/3, 1)
}

// Truncate cuts text to roughly maxTokens, on a word boundary.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if CountTokens(text) <= maxTokens {
		return text
	}
	words := strings.Fields(text)
	keep := maxTokens * 3 / 4
	if keep < 1 {
		keep = 1
	}
	if keep > len(words) {
		keep = len(words)
	}
	return strings.Join(words[:keep], " ") + " ..."
}
