package chunking

import (
	"context"
	"strings"
)

// RecursiveChunker splits text into fixed-size windows, preferring to break
// on paragraph, then newline, then sentence, then whitespace boundaries
// before falling back to a hard byte cut.
type RecursiveChunker struct {
	separators []string
}

// NewRecursiveChunker builds a splitter with the default separator ladder.
func NewRecursiveChunker() *RecursiveChunker {
	return &RecursiveChunker{separators: []string{"\n\n", "\n", ". ", " "}}
}

// Chunk splits text into pieces of at most p.ChunkSize bytes with
// p.ChunkOverlap bytes carried over between consecutive pieces.
func (r *RecursiveChunker) Chunk(_ context.Context, text string, p Params) ([]Piece, error) {
	size := p.ChunkSize
	if size <= 0 {
		size = 1000
	}
	overlap := p.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(text) <= size {
		return []Piece{{Text: text}}, nil
	}

	var out []Piece
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			out = append(out, Piece{Text: strings.TrimSpace(text[start:])})
			break
		}
		cut := r.bestCut(text[start:end])
		if cut <= overlap {
			// no useful boundary, hard cut
			cut = size
		}
		piece := strings.TrimSpace(text[start : start+cut])
		if piece != "" {
			out = append(out, Piece{Text: piece})
		}
		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return out, nil
}

// bestCut returns the byte offset just after the last occurrence of the
// highest-priority separator in window, or len(window) when none is found.
func (r *RecursiveChunker) bestCut(window string) int {
	for _, sep := range r.separators {
		if i := strings.LastIndex(window, sep); i > 0 {
			return i + len(sep)
		}
	}
	return len(window)
}
