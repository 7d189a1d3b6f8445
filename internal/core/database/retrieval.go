package db

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/svscope/svscope/internal/models"
)

// KeywordSearchChunks runs the lexical leg over page chunks. Scores are
// raw ts_rank values; the caller normalizes them against the batch max.
func (c *DatabaseClient) KeywordSearchChunks(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error) {
	const q = `
		SELECT c.chunk_id, c.svs_id, p.title, c.section, c.content,
			ts_rank(to_tsvector('english', c.content), websearch_to_tsquery('english', $1)) AS score
		FROM page_text_chunk c
		JOIN svs_page p ON p.svs_id = c.svs_id
		WHERE to_tsvector('english', c.content) @@ websearch_to_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		if err := rows.Scan(&sc.ChunkID, &sc.SvsID, &sc.PageTitle, &sc.Section, &sc.Content, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// VectorSearchChunks runs the semantic leg: cosine similarity against
// current embeddings from the given model.
func (c *DatabaseClient) VectorSearchChunks(ctx context.Context, vector []float32, modelName string, limit int) ([]models.ScoredChunk, error) {
	const q = `
		SELECT c.chunk_id, c.svs_id, p.title, c.section, c.content,
			1 - (e.embedding <=> $1) AS score
		FROM page_text_chunk c
		JOIN svs_page p ON p.svs_id = c.svs_id
		JOIN embedding e ON e.chunk_id = c.chunk_id
			AND e.chunk_type = 'page'
			AND e.is_current = TRUE
			AND e.model_name = $2
		ORDER BY e.embedding <=> $1
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(vector), modelName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		if err := rows.Scan(&sc.ChunkID, &sc.SvsID, &sc.PageTitle, &sc.Section, &sc.Content, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// VectorSearchChunksInPage is the focused variant: similarity search
// restricted to one page's chunks, for follow-up questions about a
// page the user is already looking at.
func (c *DatabaseClient) VectorSearchChunksInPage(ctx context.Context, vector []float32, modelName string, svsID, limit int) ([]models.ScoredChunk, error) {
	const q = `
		SELECT c.chunk_id, c.svs_id, p.title, c.section, c.content,
			1 - (e.embedding <=> $1) AS score
		FROM page_text_chunk c
		JOIN svs_page p ON p.svs_id = c.svs_id
		JOIN embedding e ON e.chunk_id = c.chunk_id
			AND e.chunk_type = 'page'
			AND e.is_current = TRUE
			AND e.model_name = $2
		WHERE c.svs_id = $3
		ORDER BY e.embedding <=> $1
		LIMIT $4
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(vector), modelName, svsID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		if err := rows.Scan(&sc.ChunkID, &sc.SvsID, &sc.PageTitle, &sc.Section, &sc.Content, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SearchPagesFullText queries whole pages through the generated search
// vector. Used both for browse search and as the retrieval fallback
// when no embedding backend is reachable.
func (c *DatabaseClient) SearchPagesFullText(ctx context.Context, query string, limit int) ([]models.Page, error) {
	q := `SELECT ` + pageColumns + `
		FROM svs_page
		WHERE status = 'active'
		  AND search_vector @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', $1)) DESC
		LIMIT $2`
	rows, err := c.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
