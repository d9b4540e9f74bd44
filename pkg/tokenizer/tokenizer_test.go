package tokenizer

import (
	"strings"
	"testing"
)

func TestCountTokens(t *testing.T) {
	if n := CountTokens(""); n != 0 {
		t.Errorf("empty = %d", n)
	}
	if n := CountTokens("one"); n != 1 {
		t.Errorf("one word = %d", n)
	}
	if n := CountTokens(strings.Repeat("w ", 30)); n != 40 {
		t.Errorf("30 words = %d", n)
	}
}

func TestTruncate(t *testing.T) {
	text := strings.Repeat("word ", 100)
	got := Truncate(text, 20)
	if !strings.HasSuffix(got, " ...") || len(strings.Fields(got)) != 16 {
		t.Errorf("truncated = %q", got)
	}
	if Truncate("short text", 20) != "short text" {
		t.Error("short text should be unchanged")
	}
	if Truncate("anything", 0) != "" {
		t.Error("zero budget should be empty")
	}
}
