package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/svscope/svscope/internal/core"
	"github.com/svscope/svscope/internal/models"
)

// Fusion defaults. Vector similarity dominates; the keyword leg keeps
// exact-term matches from drowning.
const (
	DefaultTopK          = 10
	DefaultKeywordWeight = 0.3
	DefaultVectorWeight  = 0.7
	DefaultMinScore      = 0.1
	bothLegsBoost        = 1.2
	charsPerToken        = 4
)

// RetrievedChunk is one fused retrieval result.
type RetrievedChunk struct {
	ChunkID      string  `json:"chunk_id"`
	SvsID        int     `json:"svs_id"`
	PageTitle    string  `json:"page_title"`
	Section      string  `json:"section"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	KeywordScore float64 `json:"keyword_score"`
	VectorScore  float64 `json:"vector_score"`
}

// RetrievalService fuses lexical and vector search over page chunks.
type RetrievalService struct {
	store         core.DbClient
	embedder      core.EmbeddingProvider
	keywordWeight float64
	vectorWeight  float64
	minScore      float64
	log           *logrus.Entry
}

func NewRetrievalService(store core.DbClient, embedder core.EmbeddingProvider, log *logrus.Logger) *RetrievalService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RetrievalService{
		store:         store,
		embedder:      embedder,
		keywordWeight: DefaultKeywordWeight,
		vectorWeight:  DefaultVectorWeight,
		minScore:      DefaultMinScore,
		log:           log.WithField("component", "retrieval"),
	}
}

// Retrieve runs both legs and merges them into at most topK chunks.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	// Both legs over-fetch so fusion has candidates to promote, and
	// they hit independent indexes, so run them at the same time.
	var keyword, vector []models.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keyword, err = s.store.KeywordSearchChunks(gctx, query, topK*2)
		if err != nil {
			return fmt.Errorf("keyword search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		vector, err = s.store.VectorSearchChunks(gctx, vectors[0], s.embedder.ModelName(), topK*2)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := s.fuse(keyword, vector, topK)
	s.log.WithFields(logrus.Fields{
		"query":   query,
		"keyword": len(keyword),
		"vector":  len(vector),
		"fused":   len(results),
	}).Debug("retrieval complete")
	return results, nil
}

// RetrieveInPage is the focused variant used when the user is asking
// about one specific page. Vector similarity only.
func (s *RetrievalService) RetrieveInPage(ctx context.Context, query string, svsID, limit int) ([]RetrievedChunk, error) {
	if limit <= 0 {
		limit = 5
	}
	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	scored, err := s.store.VectorSearchChunksInPage(ctx, vectors[0], s.embedder.ModelName(), svsID, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search in page: %w", err)
	}

	out := make([]RetrievedChunk, 0, len(scored))
	for _, sc := range scored {
		out = append(out, RetrievedChunk{
			ChunkID:     sc.ChunkID,
			SvsID:       sc.SvsID,
			PageTitle:   sc.PageTitle,
			Section:     sc.Section,
			Content:     sc.Content,
			Score:       sc.Score,
			VectorScore: sc.Score,
		})
	}
	return out, nil
}

// fuse normalizes the keyword leg against its batch max, combines the
// weighted scores and boosts chunks both legs agree on.
func (s *RetrievalService) fuse(keyword, vector []models.ScoredChunk, topK int) []RetrievedChunk {
	// Membership in each leg is tracked explicitly; a zero score from a
	// leg still counts toward the both-legs boost.
	type fused struct {
		RetrievedChunk
		inKeyword bool
		inVector  bool
	}
	merged := map[string]*fused{}

	var maxKeyword float64
	for _, sc := range keyword {
		if sc.Score > maxKeyword {
			maxKeyword = sc.Score
		}
	}
	for _, sc := range keyword {
		score := 0.0
		if maxKeyword > 0 {
			score = sc.Score / maxKeyword
		}
		merged[sc.ChunkID] = &fused{
			RetrievedChunk: RetrievedChunk{
				ChunkID:      sc.ChunkID,
				SvsID:        sc.SvsID,
				PageTitle:    sc.PageTitle,
				Section:      sc.Section,
				Content:      sc.Content,
				KeywordScore: score,
			},
			inKeyword: true,
		}
	}
	for _, sc := range vector {
		if existing, ok := merged[sc.ChunkID]; ok {
			existing.VectorScore = sc.Score
			existing.inVector = true
			continue
		}
		merged[sc.ChunkID] = &fused{
			RetrievedChunk: RetrievedChunk{
				ChunkID:     sc.ChunkID,
				SvsID:       sc.SvsID,
				PageTitle:   sc.PageTitle,
				Section:     sc.Section,
				Content:     sc.Content,
				VectorScore: sc.Score,
			},
			inVector: true,
		}
	}

	out := make([]RetrievedChunk, 0, len(merged))
	for _, rc := range merged {
		score := s.keywordWeight*rc.KeywordScore + s.vectorWeight*rc.VectorScore
		if rc.inKeyword && rc.inVector {
			score *= bothLegsBoost
		}
		if score > 1.0 {
			score = 1.0
		}
		if score < s.minScore {
			continue
		}
		rc.Score = score
		out = append(out, rc.RetrievedChunk)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// RetrieveForContext retrieves chunks and assembles them into a prompt
// context block bounded by maxTokens.
func (s *RetrievalService) RetrieveForContext(ctx context.Context, query string, maxTokens int) (string, []RetrievedChunk, error) {
	chunks, err := s.Retrieve(ctx, query, DefaultTopK)
	if err != nil {
		return "", nil, err
	}

	budget := maxTokens * charsPerToken
	var parts []string
	var used []RetrievedChunk
	total := 0
	for _, rc := range chunks {
		part := fmt.Sprintf("[Source: SVS-%d - %s]\nSection: %s\n%s\n", rc.SvsID, rc.PageTitle, rc.Section, rc.Content)
		if total+len(part) > budget && len(parts) > 0 {
			break
		}
		parts = append(parts, part)
		used = append(used, rc)
		total += len(part)
	}
	return strings.Join(parts, "\n---\n"), used, nil
}
