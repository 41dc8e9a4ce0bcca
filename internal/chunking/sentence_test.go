package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentencesLatin(t *testing.T) {
	got := splitSentences("First sentence. Second one! Third?", 1000)
	assert.Equal(t, []string{"First sentence.", "Second one!", "Third?"}, got)
}

func TestSplitSentencesCJKAndArabicTerminators(t *testing.T) {
	got := splitSentences("你好世界。这是第二句！هل هذا سؤال؟", 1000)
	require.Len(t, got, 3)
	assert.Equal(t, "你好世界。", got[0])
	assert.Equal(t, "这是第二句！", got[1])
	assert.Equal(t, "هل هذا سؤال؟", got[2])
}

func TestSplitSentencesKeepsUnterminatedTail(t *testing.T) {
	got := splitSentences("Complete sentence. dangling tail", 1000)
	assert.Equal(t, []string{"Complete sentence.", "dangling tail"}, got)
}

func TestSplitSentencesNewlineFallback(t *testing.T) {
	got := splitSentences("first line\n\nsecond line\nthird line", 1000)
	assert.Equal(t, []string{"first line", "second line", "third line"}, got)
}

func TestSplitSentencesOversized(t *testing.T) {
	long := strings.Repeat("word ", 200) // ~1000 bytes, no terminator
	got := splitSentences(long, 400)
	require.Greater(t, len(got), 1)
	for _, s := range got {
		assert.LessOrEqual(t, len(s), 100, "segment limit is min(200, maxChunkSize/4)")
		assert.NotEmpty(t, s)
	}
}

func TestSplitByWhitespaceHardCutsGiantWords(t *testing.T) {
	giant := strings.Repeat("x", 450)
	got := splitByWhitespace("small "+giant+" tail", 200)
	for _, s := range got {
		assert.LessOrEqual(t, len(s), 200)
	}
	rejoined := strings.ReplaceAll(strings.Join(got, " "), " ", "")
	assert.Equal(t, "small"+giant+"tail", rejoined, "no characters lost")
}
