// Package chunker splits extracted document text into retrievable passages.
package chunker

import (
	"strings"
	"unicode/utf8"
)

type Chunker interface {
	Chunk(text string, opts ChunkOptions) []TextChunk
}

const (
	StrategyFixed     = "fixed"
	StrategyRecursive = "recursive"
	StrategySentence  = "sentence"
)

type ChunkOptions struct {
	ChunkSize    int    // target chunk size in characters
	ChunkOverlap int    // characters repeated from the end of the previous chunk
	Strategy     string // fixed, recursive or sentence
}

type TextChunk struct {
	Content string
	Index   int
}

func DefaultOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Strategy:     StrategyRecursive,
	}
}

type defaultChunker struct{}

func New() Chunker {
	return &defaultChunker{}
}

func (c *defaultChunker) Chunk(text string, opts ChunkOptions) []TextChunk {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}

	var pieces []string
	switch opts.Strategy {
	case StrategyFixed:
		return number(chunkFixed(text, opts))
	case StrategySentence:
		pieces = pack(splitSentences(text), " ", opts.ChunkSize)
	default:
		pieces = splitRecursive(text, []string{"\n\n", "\n", ". ", " "}, opts.ChunkSize)
	}
	return number(withOverlap(pieces, opts.ChunkOverlap))
}

func number(pieces []string) []TextChunk {
	chunks := make([]TextChunk, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, TextChunk{Content: p, Index: len(chunks)})
	}
	return chunks
}

func chunkFixed(text string, opts ChunkOptions) []string {
	var pieces []string
	runes := []rune(text)
	step := opts.ChunkSize - opts.ChunkOverlap

	for start := 0; start < len(runes); start += step {
		end := min(start+opts.ChunkSize, len(runes))
		pieces = append(pieces, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return pieces
}

// splitRecursive splits on the coarsest separator that brings pieces under
// chunkSize, then packs neighbours back together up to chunkSize.
func splitRecursive(text string, separators []string, chunkSize int) []string {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return chunkFixed(text, ChunkOptions{ChunkSize: chunkSize})
	}

	sep := separators[0]
	var parts []string
	for _, part := range strings.Split(text, sep) {
		if utf8.RuneCountInString(part) > chunkSize {
			parts = append(parts, splitRecursive(part, separators[1:], chunkSize)...)
			continue
		}
		parts = append(parts, part)
	}
	return pack(parts, sep, chunkSize)
}

func pack(parts []string, sep string, chunkSize int) []string {
	var result []string
	var current strings.Builder
	size := 0

	for _, part := range parts {
		n := utf8.RuneCountInString(part)
		if size > 0 && size+len(sep)+n > chunkSize {
			result = append(result, current.String())
			current.Reset()
			size = 0
		}
		if size > 0 {
			current.WriteString(sep)
			size += len(sep)
		}
		current.WriteString(part)
		size += n
	}
	if size > 0 {
		result = append(result, current.String())
	}
	return result
}

// withOverlap prefixes each piece with the tail of the one before it, cut at
// a word boundary.
func withOverlap(pieces []string, overlap int) []string {
	if overlap == 0 || len(pieces) < 2 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		tail := lastRunes(strings.TrimSpace(pieces[i-1]), overlap)
		if j := strings.IndexByte(tail, ' '); j >= 0 && j < len(tail)-1 {
			tail = tail[j+1:]
		}
		out[i] = tail + " " + strings.TrimSpace(pieces[i])
	}
	return out
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	for i, r := range runes {
		current.WriteRune(r)
		end := r == '.' || r == '!' || r == '?' || r == '\n'
		if end && (i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
