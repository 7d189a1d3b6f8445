package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/svscope/svscope/internal/core"
	"github.com/svscope/svscope/internal/models"
)

const DefaultEmbedBatchSize = 32

// EmbeddingPipeline sweeps chunks that have no current embedding for
// the configured model and fills them in, batch by batch.
type EmbeddingPipeline struct {
	store     core.DbClient
	provider  core.EmbeddingProvider
	batchSize int
	log       *logrus.Entry
}

func NewEmbeddingPipeline(store core.DbClient, provider core.EmbeddingProvider, batchSize int, log *logrus.Logger) *EmbeddingPipeline {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EmbeddingPipeline{
		store:     store,
		provider:  provider,
		batchSize: batchSize,
		log:       log.WithField("component", "embedding_pipeline"),
	}
}

// EmbedStats summarizes one sweep.
type EmbedStats struct {
	Processed      int
	ElapsedSeconds float64
	ChunksPerSec   float64
	ModelName      string
}

// Run embeds every pending chunk of the given type, up to limit (zero
// means all). Each batch commits atomically; a failed batch stops the
// sweep and already committed batches stay.
func (e *EmbeddingPipeline) Run(ctx context.Context, chunkType string, limit int, progress func(processed, total int)) (EmbedStats, error) {
	start := time.Now()
	stats := EmbedStats{ModelName: e.provider.ModelName()}

	total, err := e.store.CountPendingChunks(ctx, chunkType, e.provider.ModelName())
	if err != nil {
		return stats, fmt.Errorf("count pending chunks: %w", err)
	}
	if limit > 0 && limit < total {
		total = limit
	}

	e.log.WithFields(logrus.Fields{
		"chunk_type": chunkType,
		"total":      total,
		"model":      e.provider.ModelName(),
	}).Info("starting embedding sweep")

	batchNum := 0
	for stats.Processed < total {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batchLimit := e.batchSize
		if remaining := total - stats.Processed; remaining < batchLimit {
			batchLimit = remaining
		}
		chunks, err := e.store.ListPendingChunks(ctx, chunkType, e.provider.ModelName(), batchLimit)
		if err != nil {
			return stats, fmt.Errorf("list pending chunks: %w", err)
		}
		if len(chunks) == 0 {
			break
		}

		count, err := e.embedBatch(ctx, chunkType, chunks)
		if err != nil {
			return stats, err
		}
		stats.Processed += count
		batchNum++

		if progress != nil {
			progress(stats.Processed, total)
		}
		if batchNum%10 == 0 {
			elapsed := time.Since(start).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(stats.Processed) / elapsed
			}
			e.log.WithFields(logrus.Fields{
				"processed":      stats.Processed,
				"total":          total,
				"chunks_per_sec": fmt.Sprintf("%.1f", rate),
			}).Info("embedding progress")
		}
	}

	stats.ElapsedSeconds = time.Since(start).Seconds()
	if stats.ElapsedSeconds > 0 {
		stats.ChunksPerSec = float64(stats.Processed) / stats.ElapsedSeconds
	}
	e.log.WithFields(logrus.Fields{
		"processed":      stats.Processed,
		"elapsed":        fmt.Sprintf("%.1fs", stats.ElapsedSeconds),
		"chunks_per_sec": fmt.Sprintf("%.1f", stats.ChunksPerSec),
	}).Info("embedding sweep complete")
	return stats, nil
}

// embedBatch generates vectors for one batch and stores them together.
func (e *EmbeddingPipeline) embedBatch(ctx context.Context, chunkType string, chunks []models.TextChunk) (int, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		// The provider rejects empty input; a single space keeps the
		// chunk aligned with its vector.
		if strings.TrimSpace(ch.Content) == "" {
			texts[i] = " "
		} else {
			texts[i] = ch.Content
		}
	}

	vectors, err := e.provider.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embed batch: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	embeddings := make([]models.Embedding, len(chunks))
	for i, ch := range chunks {
		embeddings[i] = models.Embedding{
			ChunkID:      ch.ChunkID,
			ChunkType:    chunkType,
			ModelName:    e.provider.ModelName(),
			ModelVersion: e.provider.ModelVersion(),
			Dims:         e.provider.Dims(),
			Vector:       vectors[i],
			IsCurrent:    true,
		}
	}
	if err := e.store.InsertEmbeddings(ctx, embeddings); err != nil {
		return 0, fmt.Errorf("store embeddings: %w", err)
	}
	return len(chunks), nil
}
