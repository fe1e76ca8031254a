package ingest

import (
	"fmt"
	"strings"
)

// Split order: paragraph breaks first, then line breaks, then word
// boundaries, then raw runes as a last resort.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker splits documents into overlapping chunks sized for embedding.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker builds a chunker producing chunks of at most size runes with
// the given overlap between consecutive chunks.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d", overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split breaks text into chunks, preferring the coarsest boundary that
// keeps each chunk within the size limit.
func (c *Chunker) Split(text string) []string {
	return c.split(text, separators)
}

func (c *Chunker) split(text string, seps []string) []string {
	if len([]rune(text)) <= c.size {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	sep, rest := seps[0], seps[1:]
	if sep == "" {
		return c.splitRunes([]rune(text))
	}

	var segments []string
	for _, part := range strings.Split(text, sep) {
		if len([]rune(part)) > c.size {
			segments = append(segments, c.split(part, rest)...)
		} else if strings.TrimSpace(part) != "" {
			segments = append(segments, part)
		}
	}
	return c.merge(segments, sep)
}

// merge packs segments into chunks up to the size limit, carrying a tail of
// each finished chunk into the next for continuity.
func (c *Chunker) merge(segments []string, sep string) []string {
	var chunks []string
	var current string

	for _, seg := range segments {
		if current == "" {
			current = seg
			continue
		}
		if len([]rune(current))+len([]rune(sep))+len([]rune(seg)) <= c.size {
			current += sep + seg
			continue
		}

		chunks = append(chunks, strings.TrimSpace(current))
		seed := overlapTail(current, c.overlap)
		if seed != "" && len([]rune(seed))+len([]rune(sep))+len([]rune(seg)) <= c.size {
			current = seed + sep + seg
		} else {
			current = seg
		}
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// splitRunes is the last-resort fixed-window split for text with no usable
// boundaries.
func (c *Chunker) splitRunes(runes []rune) []string {
	stride := c.size - c.overlap
	var out []string
	for start := 0; start < len(runes); start += stride {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// overlapTail returns the last n runes of text, extended left to the
// nearest word boundary when one is close.
func overlapTail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return strings.TrimSpace(text)
	}
	tail := string(runes[len(runes)-n:])
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
