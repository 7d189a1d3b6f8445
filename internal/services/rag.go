package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/svscope/svscope/internal/core"
)

const ragSystemPrompt = `You are an assistant helping users learn about NASA's Scientific Visualization Studio (SVS) content.

IMPORTANT RULES:
1. Answer based ONLY on the provided context below. Do not use any external knowledge.
2. If the answer isn't in the context, say "I couldn't find information about that in the SVS archive."
3. ALWAYS cite your sources using [SVS-ID] format inline after each fact, where ID is the numeric SVS page ID shown in the context.
4. Be concise but informative.
5. If multiple sources support a fact, cite all of them.

Context from SVS Archive:
%s`

const (
	noContextMessage    = "No relevant context found."
	fallbackScore       = 0.5
	fallbackContentCap  = 2000
	citationExcerptCap  = 200
	focusedContextLimit = 5
)

var citationExpr = regexp.MustCompile(`\[SVS-(\d+)\]`)

// Citation points at one page the answer drew from.
type Citation struct {
	SvsID   int    `json:"svs_id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Anchor  string `json:"anchor"`
}

// ChatResult is one answered question.
type ChatResult struct {
	Answer    string           `json:"answer"`
	Citations []Citation       `json:"citations"`
	Chunks    []RetrievedChunk `json:"chunks,omitempty"`
}

// RAGService answers questions grounded in retrieved archive content.
type RAGService struct {
	store     core.DbClient
	retrieval *RetrievalService
	llm       core.LLMProvider
	log       *logrus.Entry
}

func NewRAGService(store core.DbClient, retrieval *RetrievalService, llm core.LLMProvider, log *logrus.Logger) *RAGService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RAGService{
		store:     store,
		retrieval: retrieval,
		llm:       llm,
		log:       log.WithField("component", "rag"),
	}
}

// Chat retrieves context for the query and generates a cited answer.
// contextSvsID, when non-nil, focuses retrieval on that one page.
func (s *RAGService) Chat(ctx context.Context, query string, contextSvsID *int) (*ChatResult, error) {
	chunks, err := s.retrieveChunks(ctx, query, contextSvsID)
	if err != nil {
		// Embedding backends come and go; lexical page search keeps
		// the chat usable in the meantime.
		s.log.WithError(err).Warn("retrieval failed, falling back to full-text search")
		chunks, err = s.fallbackRetrieve(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("fallback retrieval: %w", err)
		}
	}

	contextBlock := buildContextString(chunks)
	answer, err := s.llm.Generate(ctx, fmt.Sprintf(ragSystemPrompt, contextBlock), query)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &ChatResult{
		Answer:    answer,
		Citations: extractCitations(answer, chunks),
		Chunks:    chunks,
	}, nil
}

func (s *RAGService) retrieveChunks(ctx context.Context, query string, contextSvsID *int) ([]RetrievedChunk, error) {
	if contextSvsID != nil {
		return s.retrieval.RetrieveInPage(ctx, query, *contextSvsID, focusedContextLimit)
	}
	return s.retrieval.Retrieve(ctx, query, DefaultTopK)
}

// fallbackRetrieve builds pseudo-chunks from whole-page full-text
// matches when the embedding path is unavailable.
func (s *RAGService) fallbackRetrieve(ctx context.Context, query string) ([]RetrievedChunk, error) {
	pages, err := s.store.SearchPagesFullText(ctx, query, DefaultTopK)
	if err != nil {
		return nil, err
	}

	out := make([]RetrievedChunk, 0, len(pages))
	for _, p := range pages {
		body := p.Description
		if body == "" {
			body = p.Summary
		}
		content := p.Title + "\n\n" + body
		if len(content) > fallbackContentCap {
			content = content[:fallbackContentCap]
		}
		out = append(out, RetrievedChunk{
			ChunkID:   uuid.NewString(),
			SvsID:     p.SvsID,
			PageTitle: p.Title,
			Section:   "description",
			Content:   content,
			Score:     fallbackScore,
		})
	}
	return out, nil
}

func buildContextString(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return noContextMessage
	}
	parts := make([]string, 0, len(chunks))
	for _, rc := range chunks {
		parts = append(parts, fmt.Sprintf("[SVS-%d] %s\nSection: %s\nContent: %s\n",
			rc.SvsID, rc.PageTitle, rc.Section, rc.Content))
	}
	return strings.Join(parts, "\n---\n")
}

// extractCitations finds [SVS-ID] references in the answer and pairs
// each with the first retrieved chunk for that page.
func extractCitations(answer string, chunks []RetrievedChunk) []Citation {
	var citations []Citation
	seen := map[int]bool{}

	for _, m := range citationExpr.FindAllStringSubmatch(answer, -1) {
		svsID, err := strconv.Atoi(m[1])
		if err != nil || seen[svsID] {
			continue
		}
		seen[svsID] = true

		citation := Citation{SvsID: svsID, Anchor: fmt.Sprintf("svs-%d", svsID)}
		for _, rc := range chunks {
			if rc.SvsID != svsID {
				continue
			}
			citation.Title = rc.PageTitle
			citation.Excerpt = rc.Content
			if len(citation.Excerpt) > citationExcerptCap {
				citation.Excerpt = citation.Excerpt[:citationExcerptCap] + "..."
			}
			break
		}
		citations = append(citations, citation)
	}
	return citations
}
