package chunking

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topicEncoder maps each sentence onto one of two orthogonal axes so the
// similarity between consecutive sentences is 1 inside a topic and 0 across
// the topic switch.
type topicEncoder struct {
	calls int
}

func (e *topicEncoder) EncodeDense(_ context.Context, texts []string, _ string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "Cats") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func TestSemanticChunkerSplitsAtTopicBoundary(t *testing.T) {
	enc := &topicEncoder{}
	c := NewSemanticChunker(enc, nil)

	text := "Cats purr softly. Cats love naps. Cats chase mice. " +
		"The sky is blue. The sky holds clouds. The sky darkens at night."
	pieces, err := c.Chunk(context.Background(), text, Params{ChunkSize: 1000, MinChunkSize: 10})
	require.NoError(t, err)
	require.Len(t, pieces, 2)
	assert.Equal(t, "Cats purr softly. Cats love naps. Cats chase mice.", pieces[0].Text)
	assert.Equal(t, "The sky is blue. The sky holds clouds. The sky darkens at night.", pieces[1].Text)
	assert.Equal(t, 1, enc.calls)
}

func TestSemanticChunkerRespectsMaxSize(t *testing.T) {
	enc := &topicEncoder{}
	c := NewSemanticChunker(enc, nil)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Cats walk along the narrow garden wall every single morning. ")
	}
	pieces, err := c.Chunk(context.Background(), b.String(), Params{ChunkSize: 200, MinChunkSize: 20})
	require.NoError(t, err)
	require.NotEmpty(t, pieces)
	for i, p := range pieces {
		assert.LessOrEqual(t, len(p.Text), 200, "piece %d over max size", i)
		assert.NotEmpty(t, p.Text)
	}
}

func TestSemanticChunkerDowngradesLargeInput(t *testing.T) {
	// an encoder that must never run
	c := NewSemanticChunker(failingEncoder{}, nil)
	text := strings.Repeat("Large document body. ", 600) // well past the semantic cap
	require.Greater(t, len(text), SemanticMaxInput)

	pieces, err := c.Chunk(context.Background(), text, Params{ChunkSize: 500})
	require.NoError(t, err)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p.Text), 500)
	}
}

type failingEncoder struct{}

func (failingEncoder) EncodeDense(context.Context, []string, string) ([][]float32, error) {
	panic("encoder must not be called for oversized input")
}

func TestSemanticChunkerSingleSentence(t *testing.T) {
	c := NewSemanticChunker(&topicEncoder{}, nil)
	pieces, err := c.Chunk(context.Background(), "Just one sentence.", Params{ChunkSize: 1000})
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, "Just one sentence.", pieces[0].Text)
}

func TestSemanticChunkerEmptyInput(t *testing.T) {
	c := NewSemanticChunker(&topicEncoder{}, nil)
	pieces, err := c.Chunk(context.Background(), "   \n ", Params{ChunkSize: 1000})
	require.NoError(t, err)
	assert.Empty(t, pieces)
}

func TestBreakpointThreshold(t *testing.T) {
	// 20th percentile of ten scores is the third-lowest
	sims := []float64{0.95, 0.50, 0.60, 0.70, 0.45, 0.80, 0.85, 0.90, 0.55, 0.65}
	assert.InDelta(t, 0.55, breakpointThreshold(sims), 1e-9)

	// clamped into [0.40, 0.90]
	assert.Equal(t, 0.40, breakpointThreshold([]float64{0.05, 0.10, 0.15, 0.20, 0.25}))
	assert.Equal(t, 0.90, breakpointThreshold([]float64{0.95, 0.96, 0.97, 0.98, 0.99}))
}
