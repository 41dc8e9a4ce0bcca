// Package chunking splits resource content into retrieval-sized passages.
//
// Three splitters are provided: a fixed-size recursive splitter, a semantic
// splitter that places boundaries where consecutive sentence embeddings
// diverge, and a remote splitter that delegates to a user-supplied HTTP
// endpoint. The semantic splitter downgrades to recursive for large inputs.
package chunking

import (
	"context"
	"fmt"

	"github.com/vektorlab/passage/internal/models"
)

// SemanticMaxInput is the input size above which the semantic strategy is
// downgraded to recursive. Embedding every sentence of a large document adds
// seconds of latency for marginal boundary quality.
const SemanticMaxInput = 10000

// Piece is one chunk of text produced by a splitter. VectorSource, when set,
// is the text to embed in place of Text.
type Piece struct {
	Text         string
	VectorSource string
	Metadata     map[string]any
}

// Params carries the effective chunking parameters for one resource, after
// per-resource overrides are applied on top of collection settings.
type Params struct {
	Strategy     models.ChunkStrategy
	ChunkSize    int // max chunk size in bytes
	ChunkOverlap int
	MinChunkSize int
	DenseModel   string
	ChunkingURL  string
}

// Chunker turns raw text into ordered pieces.
type Chunker interface {
	Chunk(ctx context.Context, text string, p Params) ([]Piece, error)
}

// DenseEncoder is the slice of the embedding client the semantic splitter
// needs.
type DenseEncoder interface {
	EncodeDense(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Defaults are process-wide chunking fallbacks, applied when a request
// carries no explicit value. Zero fields fall back to the package constants.
type Defaults struct {
	ChunkSize        int
	ChunkOverlap     int
	SemanticMaxInput int
}

// Splitter routes each request to the splitter matching its strategy.
type Splitter struct {
	recursive *RecursiveChunker
	semantic  *SemanticChunker
	remote    *RemoteChunker
	defaults  Defaults
}

// NewSplitter wires the three strategy implementations together with the
// package defaults. encoder may be nil when the semantic strategy is never
// used.
func NewSplitter(encoder DenseEncoder) *Splitter {
	return NewSplitterWithDefaults(encoder, Defaults{})
}

// NewSplitterWithDefaults wires the splitters with operator-tuned fallbacks.
func NewSplitterWithDefaults(encoder DenseEncoder, d Defaults) *Splitter {
	if d.ChunkSize <= 0 {
		d.ChunkSize = 1000
	}
	if d.SemanticMaxInput <= 0 {
		d.SemanticMaxInput = SemanticMaxInput
	}
	rec := NewRecursiveChunker()
	sem := NewSemanticChunker(encoder, rec)
	sem.maxInput = d.SemanticMaxInput
	return &Splitter{
		recursive: rec,
		semantic:  sem,
		remote:    NewRemoteChunker(nil),
		defaults:  d,
	}
}

// Chunk splits text according to p.Strategy. The agentic strategy currently
// shares the semantic implementation.
func (s *Splitter) Chunk(ctx context.Context, text string, p Params) ([]Piece, error) {
	if p.ChunkSize <= 0 {
		p.ChunkSize = s.defaults.ChunkSize
		if p.ChunkOverlap <= 0 {
			p.ChunkOverlap = s.defaults.ChunkOverlap
		}
	}
	switch p.Strategy {
	case models.StrategyRecursive, "":
		return s.recursive.Chunk(ctx, text, p)
	case models.StrategySemantic, models.StrategyAgentic:
		return s.semantic.Chunk(ctx, text, p)
	case models.StrategyCustom:
		return s.remote.Chunk(ctx, text, p)
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", p.Strategy)
	}
}
