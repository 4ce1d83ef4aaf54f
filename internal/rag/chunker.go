package rag

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// ChunkerConfig holds chunking configuration. Sizes are in characters
// (runes); the ~2000-char default approximates 500 tokens.
type ChunkerConfig struct {
	ChunkSize int // default 2000
	Overlap   int // default 200
}

// Chunk is one piece of a split text.
type Chunk struct {
	Text   string
	Tokens int // cl100k_base estimate
}

// Chunker splits long text at boundary-respecting positions with overlap.
// Split preference is hierarchical: paragraph break, line break, sentence
// punctuation (Latin and Arabic), comma, space, then raw character.
type Chunker struct {
	cfg ChunkerConfig
	enc *tiktoken.Tiktoken
}

// separator classes in preference order: paragraph break (substring, see
// splitIndex), line break, sentence punctuation (incl. the Arabic question
// mark), comma (incl. the Arabic comma), whitespace.
var separatorClasses = []string{
	"\n\n",
	"\n",
	".!?؟",
	",،",
	" \t",
}

// NewChunker creates a chunker with the given config (zero values take
// defaults).
func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = 200
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get encoding: %w", err)
	}
	return &Chunker{cfg: cfg, enc: enc}, nil
}

// CountTokens returns the cl100k_base token count for text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Split produces overlapping chunks. Inputs at or below the chunk size come
// back as a single unchanged chunk.
func (c *Chunker) Split(text string) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= c.cfg.ChunkSize {
		return []Chunk{{Text: trimmed, Tokens: c.CountTokens(trimmed)}}
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.cfg.ChunkSize
		if end >= len(runes) {
			c.appendChunk(&chunks, runes[start:])
			break
		}

		split := c.splitIndex(runes, start, end)
		c.appendChunk(&chunks, runes[start:split])

		next := split - c.cfg.Overlap
		if next <= start {
			next = split // no progress would loop forever
		}
		start = next
	}
	return chunks
}

// splitIndex finds the best boundary in (start, end], preferring higher
// separator classes and refusing boundaries in the first half of the window.
func (c *Chunker) splitIndex(runes []rune, start, end int) int {
	minSplit := start + c.cfg.ChunkSize/2

	// Paragraph break: last "\n\n" in the window.
	window := string(runes[start:end])
	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		abs := start + len([]rune(window[:idx])) + 2
		if abs > minSplit {
			return abs
		}
	}

	for _, class := range separatorClasses[1:] {
		for i := end - 1; i > minSplit; i-- {
			if strings.ContainsRune(class, runes[i]) {
				return i + 1 // split after the separator
			}
		}
	}
	return end // hard character split
}

func (c *Chunker) appendChunk(chunks *[]Chunk, runes []rune) {
	text := strings.TrimSpace(string(runes))
	if text == "" {
		return
	}
	*chunks = append(*chunks, Chunk{Text: text, Tokens: c.CountTokens(text)})
}
