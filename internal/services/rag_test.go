package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svscope/svscope/internal/models"
)

type stubLLM struct {
	answer    string
	gotSystem string
	gotUser   string
}

func (l *stubLLM) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	l.gotSystem = systemPrompt
	l.gotUser = userPrompt
	return l.answer, nil
}

func newRAG(store *fakeSearchStore, embedder *stubEmbedder, llm *stubLLM) *RAGService {
	log := quietLog()
	retrieval := NewRetrievalService(store, embedder, log)
	return NewRAGService(store, retrieval, llm, log)
}

func TestChat_AnswerWithCitations(t *testing.T) {
	store := &fakeSearchStore{
		vector: []models.ScoredChunk{
			{ChunkID: "a", SvsID: 5187, PageTitle: "Moon Phases 2024", Section: "description",
				Content: strings.Repeat("lunar detail ", 30), Score: 0.9},
			{ChunkID: "b", SvsID: 5048, PageTitle: "Tour of the Moon", Section: "description",
				Content: "short content", Score: 0.8},
		},
	}
	llm := &stubLLM{answer: "The Moon goes through phases [SVS-5187]. A tour exists [SVS-5048] and more phases [SVS-5187]."}

	result, err := newRAG(store, &stubEmbedder{}, llm).Chat(context.Background(), "what about the moon?", nil)
	require.NoError(t, err)

	assert.Equal(t, llm.answer, result.Answer)
	assert.Equal(t, "what about the moon?", llm.gotUser)
	assert.Contains(t, llm.gotSystem, "[SVS-5187] Moon Phases 2024")
	assert.Contains(t, llm.gotSystem, "Section: description")

	// Repeated [SVS-5187] collapses to one citation.
	require.Len(t, result.Citations, 2)
	first := result.Citations[0]
	assert.Equal(t, 5187, first.SvsID)
	assert.Equal(t, "Moon Phases 2024", first.Title)
	assert.Equal(t, "svs-5187", first.Anchor)
	assert.Len(t, first.Excerpt, 203)
	assert.True(t, strings.HasSuffix(first.Excerpt, "..."))

	// Short content stays untruncated.
	assert.Equal(t, "short content", result.Citations[1].Excerpt)
}

func TestChat_FocusedOnPage(t *testing.T) {
	store := &fakeSearchStore{
		inPage: []models.ScoredChunk{
			{ChunkID: "a", SvsID: 5187, PageTitle: "Moon Phases 2024", Section: "credits", Content: "Visualizer: Ernie Wright", Score: 0.95},
		},
		// Would be used by the broad path; must not appear.
		vector: []models.ScoredChunk{
			{ChunkID: "x", SvsID: 9999, PageTitle: "Other", Section: "description", Content: "other", Score: 0.9},
		},
	}
	llm := &stubLLM{answer: "Ernie Wright made it [SVS-5187]."}

	svsID := 5187
	result, err := newRAG(store, &stubEmbedder{}, llm).Chat(context.Background(), "who made this?", &svsID)
	require.NoError(t, err)

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, 5187, result.Chunks[0].SvsID)
	assert.NotContains(t, llm.gotSystem, "SVS-9999")
}

func TestChat_FallbackWhenEmbeddingFails(t *testing.T) {
	store := &fakeSearchStore{
		pages: []models.Page{
			{SvsID: 5187, Title: "Moon Phases 2024", Description: strings.Repeat("d", 3000)},
			{SvsID: 5048, Title: "Tour of the Moon", Summary: "A guided tour."},
		},
	}
	llm := &stubLLM{answer: "Phases are covered [SVS-5187]."}

	result, err := newRAG(store, &stubEmbedder{fail: true}, llm).Chat(context.Background(), "moon", nil)
	require.NoError(t, err)

	require.Len(t, result.Chunks, 2)
	first := result.Chunks[0]
	assert.Equal(t, "description", first.Section)
	assert.Equal(t, 0.5, first.Score)
	assert.NotEmpty(t, first.ChunkID)
	assert.Len(t, first.Content, fallbackContentCap)
	assert.True(t, strings.HasPrefix(first.Content, "Moon Phases 2024\n\n"))

	// Pages without a description fall back to the summary.
	assert.Contains(t, result.Chunks[1].Content, "A guided tour.")
}

func TestChat_NoContextMessage(t *testing.T) {
	llm := &stubLLM{answer: "I couldn't find information about that in the SVS archive."}

	result, err := newRAG(&fakeSearchStore{}, &stubEmbedder{}, llm).Chat(context.Background(), "unrelated", nil)
	require.NoError(t, err)

	assert.Contains(t, llm.gotSystem, noContextMessage)
	assert.Empty(t, result.Citations)
}

func TestExtractCitations_UnknownIDStillCited(t *testing.T) {
	citations := extractCitations("Something [SVS-123].", nil)
	require.Len(t, citations, 1)
	assert.Equal(t, 123, citations[0].SvsID)
	assert.Empty(t, citations[0].Title)
	assert.Equal(t, "svs-123", citations[0].Anchor)
}

func TestBuildContextString_Format(t *testing.T) {
	text := buildContextString([]RetrievedChunk{
		{SvsID: 5187, PageTitle: "Moon Phases 2024", Section: "description", Content: "phases"},
		{SvsID: 5048, PageTitle: "Tour of the Moon", Section: "description", Content: "tour"},
	})
	assert.Equal(t,
		"[SVS-5187] Moon Phases 2024\nSection: description\nContent: phases\n"+
			"\n---\n"+
			"[SVS-5048] Tour of the Moon\nSection: description\nContent: tour\n",
		text)
}
