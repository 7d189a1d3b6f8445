package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svscope/svscope/internal/models"
)

type fakeEmbedder struct {
	calls [][]string
	fail  bool
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.fail {
		return nil, errors.New("backend down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string    { return "test-embed" }
func (f *fakeEmbedder) ModelVersion() string { return "001" }
func (f *fakeEmbedder) Dims() int            { return 2 }

func pendingChunks(n int) []models.TextChunk {
	out := make([]models.TextChunk, n)
	for i := range out {
		out[i] = models.TextChunk{
			ChunkID: fmt.Sprintf("chunk-%d", i),
			Content: fmt.Sprintf("chunk content %d", i),
		}
	}
	return out
}

func testEmbedPipeline(store *fakeStore, embedder *fakeEmbedder, batchSize int) *EmbeddingPipeline {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewEmbeddingPipeline(store, embedder, batchSize, log)
}

func TestEmbeddingSweep_Batches(t *testing.T) {
	store := newFakeStore()
	store.pending = pendingChunks(5)
	store.countPending = 5
	embedder := &fakeEmbedder{}

	var progress [][2]int
	stats, err := testEmbedPipeline(store, embedder, 2).Run(context.Background(), models.ChunkTypePage, 0,
		func(processed, total int) {
			progress = append(progress, [2]int{processed, total})
		})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, "test-embed", stats.ModelName)
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)

	// Batches of 2, 2, then the remainder.
	require.Len(t, embedder.calls, 3)
	assert.Len(t, embedder.calls[2], 1)

	require.Len(t, store.embeddings, 5)
	e := store.embeddings[0]
	assert.Equal(t, "chunk-0", e.ChunkID)
	assert.Equal(t, models.ChunkTypePage, e.ChunkType)
	assert.Equal(t, "test-embed", e.ModelName)
	assert.Equal(t, "001", e.ModelVersion)
	assert.Equal(t, 2, e.Dims)
	assert.True(t, e.IsCurrent)
}

func TestEmbeddingSweep_Limit(t *testing.T) {
	store := newFakeStore()
	store.pending = pendingChunks(10)
	store.countPending = 10

	stats, err := testEmbedPipeline(store, &fakeEmbedder{}, 4).Run(context.Background(), models.ChunkTypePage, 6, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Processed)
	require.Len(t, store.embeddings, 6)
}

func TestEmbeddingSweep_ProviderError(t *testing.T) {
	store := newFakeStore()
	store.pending = pendingChunks(3)
	store.countPending = 3

	_, err := testEmbedPipeline(store, &fakeEmbedder{fail: true}, 2).Run(context.Background(), models.ChunkTypePage, 0, nil)
	require.Error(t, err)
	assert.Empty(t, store.embeddings)
}

func TestEmbeddingSweep_BlankContentKeepsAlignment(t *testing.T) {
	store := newFakeStore()
	store.pending = []models.TextChunk{
		{ChunkID: "a", Content: "real text"},
		{ChunkID: "b", Content: "   "},
	}
	store.countPending = 2
	embedder := &fakeEmbedder{}

	_, err := testEmbedPipeline(store, embedder, 10).Run(context.Background(), models.ChunkTypePage, 0, nil)
	require.NoError(t, err)

	require.Len(t, embedder.calls, 1)
	assert.Equal(t, []string{"real text", " "}, embedder.calls[0])
	require.Len(t, store.embeddings, 2)
	assert.Equal(t, "b", store.embeddings[1].ChunkID)
}
