package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentenceText(count int) string {
	var b strings.Builder
	for i := 0; i < count; i++ {
		b.WriteString("The spacecraft captured new imagery of the polar vortex during its ninth orbit. ")
	}
	return strings.TrimSpace(b.String())
}

func TestChunkText_Empty(t *testing.T) {
	c := NewChunker()
	assert.Nil(t, c.ChunkText("", "description"))
	assert.Nil(t, c.ChunkText("   \n\t ", "description"))
}

func TestChunkText_BelowMinimumDropped(t *testing.T) {
	c := NewChunker()
	// 49 tokens worth of text is under the 50 token floor.
	text := strings.Repeat("a", 49*4)
	assert.Nil(t, c.ChunkText(text, "description"))
}

func TestChunkText_SingleChunk(t *testing.T) {
	c := NewChunker()
	text := sentenceText(10)

	chunks := c.ChunkText(text, "description")
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
	assert.Equal(t, "description", chunks[0].Section)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, len(text)/4, chunks[0].TokenCount)
	assert.Len(t, chunks[0].ContentHash, 64)
}

func TestChunkText_TokenBounds(t *testing.T) {
	c := NewChunker()
	chunks := c.ChunkText(sentenceText(200), "description")
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, DefaultMaxTokens, "chunk %d over max", i)
		assert.GreaterOrEqual(t, ch.TokenCount, DefaultMinTokens, "chunk %d under min", i)
		assert.Equal(t, i, ch.Index)
	}
}

func TestChunkText_Deterministic(t *testing.T) {
	c := NewChunker()
	text := sentenceText(150)

	first := c.ChunkText(text, "description")
	second := c.ChunkText(text, "description")
	assert.Equal(t, first, second)
}

func TestChunkText_AdjacentOverlap(t *testing.T) {
	c := NewChunker()
	chunks := c.ChunkText(sentenceText(200), "description")
	require.Greater(t, len(chunks), 1)

	// Each chunk after the first starts with the tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prefix := chunks[i].Content
		if len(prefix) > 40 {
			prefix = prefix[:40]
		}
		assert.Contains(t, chunks[i-1].Content, strings.TrimSpace(prefix),
			"chunk %d does not share an overlap with chunk %d", i, i-1)
	}
}

func TestChunkText_NeverSplitsMidSentence(t *testing.T) {
	c := NewChunker()
	chunks := c.ChunkText(sentenceText(200), "description")
	for i, ch := range chunks {
		assert.True(t, strings.HasSuffix(ch.Content, "."), "chunk %d ends mid-sentence", i)
	}
}

func TestChunkText_LongSentenceClauseSplit(t *testing.T) {
	c := NewChunker()
	// One giant sentence with no sentence boundaries, only commas.
	clause := "the instrument recorded a spike in magnetic flux over the anomaly"
	text := strings.Repeat(clause+", ", 80) + clause + "."

	chunks := c.ChunkText(text, "description")
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, DefaultMaxTokens, "chunk %d over max", i)
	}
}

func TestChunkText_SmallTailAttached(t *testing.T) {
	c := NewChunker()
	// Enough text to force multiple chunks, then a short trailing sentence.
	text := sentenceText(180) + " Short tail here."

	chunks := c.ChunkText(text, "description")
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Contains(t, last.Content, "Short tail here.")
	assert.LessOrEqual(t, last.TokenCount, DefaultMaxTokens)
}

func TestChunkSections_OrderAndIndexing(t *testing.T) {
	c := NewChunker()
	chunks := c.ChunkSections([]Section{
		{Name: "description", Text: sentenceText(10)},
		{Name: "credits", Text: ""},
		{Name: "download_notes", Text: sentenceText(12)},
	})

	require.Len(t, chunks, 2)
	assert.Equal(t, "description", chunks[0].Section)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "download_notes", chunks[1].Section)
	assert.Equal(t, 0, chunks[1].Index)
}

func TestChunkPageContent_Sections(t *testing.T) {
	chunks := NewChunker().ChunkPageContent(sentenceText(10), sentenceText(10), "")
	require.Len(t, chunks, 2)
	assert.Equal(t, "description", chunks[0].Section)
	assert.Equal(t, "credits", chunks[1].Section)
}

func TestChunkAssetContent_Sections(t *testing.T) {
	chunks := NewChunker().ChunkAssetContent("", sentenceText(15), sentenceText(10))
	require.Len(t, chunks, 2)
	assert.Equal(t, "transcript", chunks[0].Section)
	assert.Equal(t, "readme", chunks[1].Section)
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First sentence ends here. Second one follows! Third asks? Yes.")
	assert.Equal(t, []string{
		"First sentence ends here.",
		"Second one follows!",
		"Third asks?",
		"Yes.",
	}, got)
}

func TestSplitSentences_NoBoundary(t *testing.T) {
	text := "no terminal punctuation at all"
	assert.Equal(t, []string{text}, splitSentences(text))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}
