package embeddings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackBatchesCoversEveryInputOnce(t *testing.T) {
	texts := []string{
		strings.Repeat("a", 400),
		"short",
		strings.Repeat("b", 390),
		"x",
		strings.Repeat("c", 380),
		"medium sized text here",
	}
	batches := packBatches(texts, MaxBatchSize, MaxWasteRatio)
	require.NotEmpty(t, batches)

	seen := make(map[int]bool)
	for _, b := range batches {
		require.Equal(t, len(b.indices), len(b.texts))
		for j, idx := range b.indices {
			assert.False(t, seen[idx], "index %d packed twice", idx)
			seen[idx] = true
			assert.Equal(t, texts[idx], b.texts[j])
		}
	}
	assert.Len(t, seen, len(texts))
}

func TestPackBatchesRespectsMaxSize(t *testing.T) {
	texts := make([]string, 120)
	for i := range texts {
		texts[i] = strings.Repeat("z", 100)
	}
	batches := packBatches(texts, MaxBatchSize, MaxWasteRatio)
	total := 0
	for _, b := range batches {
		assert.LessOrEqual(t, len(b.texts), MaxBatchSize)
		total += len(b.texts)
	}
	assert.Equal(t, len(texts), total)
	// identical lengths waste nothing, so only the size cap splits them
	assert.Len(t, batches, 3)
}

func TestPackBatchesRespectsWasteBound(t *testing.T) {
	texts := []string{
		strings.Repeat("a", 1000),
		strings.Repeat("b", 950),
		strings.Repeat("c", 100),
		strings.Repeat("d", 90),
	}
	batches := packBatches(texts, MaxBatchSize, MaxWasteRatio)
	for _, b := range batches {
		assert.LessOrEqual(t, b.wasteRatio(), MaxWasteRatio,
			"batch of %d texts exceeds waste bound", len(b.texts))
	}
	// the long and short pairs must not share a batch
	assert.GreaterOrEqual(t, len(batches), 2)
}

func TestPackBatchesSortsLongestFirst(t *testing.T) {
	texts := []string{"aa", strings.Repeat("b", 500), "cccc"}
	batches := packBatches(texts, MaxBatchSize, MaxWasteRatio)
	require.NotEmpty(t, batches)
	assert.Equal(t, 1, batches[0].indices[0])
	for _, b := range batches {
		for j := 1; j < len(b.texts); j++ {
			assert.LessOrEqual(t, len(b.texts[j]), len(b.texts[0]))
		}
	}
}

func TestPackBatchesEmpty(t *testing.T) {
	assert.Nil(t, packBatches(nil, MaxBatchSize, MaxWasteRatio))
}

func TestWasteRatioUniformBatchIsZero(t *testing.T) {
	b := batch{texts: []string{"aaaa", "bbbb", "cccc"}}
	assert.Equal(t, 0.0, b.wasteRatio())
}
