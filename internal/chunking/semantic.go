package chunking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vektorlab/passage/internal/util"
)

// Breakpoint threshold bounds. A 20th percentile similarity above the upper
// bound means even the weakest sentence bond is strong and the text should
// not be split there; below the lower bound the text is heterogeneous enough
// that those splits are still taken.
const (
	breakpointPercentile = 0.20
	tauFloor             = 0.40
	tauCeil              = 0.90
)

// SemanticChunker places chunk boundaries where consecutive sentence
// embeddings diverge. Inputs over maxInput characters fall back to the
// recursive splitter.
type SemanticChunker struct {
	encoder  DenseEncoder
	fallback *RecursiveChunker
	maxInput int
}

// NewSemanticChunker builds a semantic splitter backed by encoder.
func NewSemanticChunker(encoder DenseEncoder, fallback *RecursiveChunker) *SemanticChunker {
	if fallback == nil {
		fallback = NewRecursiveChunker()
	}
	return &SemanticChunker{encoder: encoder, fallback: fallback, maxInput: SemanticMaxInput}
}

// Chunk splits text into semantically grouped pieces. Every piece is at most
// p.ChunkSize bytes; pieces shorter than p.MinChunkSize only occur at the
// tail when merging would overflow the previous piece.
func (s *SemanticChunker) Chunk(ctx context.Context, text string, p Params) ([]Piece, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(text) > s.maxInput {
		return s.fallback.Chunk(ctx, text, p)
	}
	if s.encoder == nil {
		return nil, fmt.Errorf("semantic chunking requires an embedding client")
	}

	maxSize := p.ChunkSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	minSize := p.MinChunkSize
	if minSize <= 0 || minSize > maxSize {
		minSize = maxSize / 10
	}

	sentences := splitSentences(text, maxSize)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return []Piece{{Text: sentences[0]}}, nil
	}

	vecs, err := s.encoder.EncodeDense(ctx, sentences, p.DenseModel)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}

	sims := make([]float64, len(sentences)-1)
	for i := range sims {
		sims[i] = util.Cosine(vecs[i], vecs[i+1])
	}
	tau := breakpointThreshold(sims)

	var (
		out []Piece
		cur strings.Builder
	)
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			out = append(out, Piece{Text: t})
		}
		cur.Reset()
	}
	for i, sent := range sentences {
		if cur.Len() > 0 && cur.Len()+1+len(sent) > maxSize {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sent)
		if i < len(sims) && sims[i] <= tau && cur.Len() >= minSize {
			flush()
		}
	}
	flush()

	// merge an undersized tail back into the previous chunk when it fits
	if n := len(out); n >= 2 && len(out[n-1].Text) < minSize {
		merged := out[n-2].Text + " " + out[n-1].Text
		if len(merged) <= maxSize {
			out[n-2].Text = merged
			out = out[:n-1]
		}
	}
	return out, nil
}

// breakpointThreshold picks the similarity score at the 20th percentile and
// clamps it into [tauFloor, tauCeil].
func breakpointThreshold(sims []float64) float64 {
	sorted := make([]float64, len(sims))
	copy(sorted, sims)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * breakpointPercentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	tau := sorted[idx]
	if tau < tauFloor {
		tau = tauFloor
	}
	if tau > tauCeil {
		tau = tauCeil
	}
	return tau
}
