package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/svscope/svscope/internal/core"
	"github.com/svscope/svscope/internal/models"
)

// writeBatch runs the per-page crawl writes inside one transaction.
type writeBatch struct {
	tx *sql.Tx
}

func (c *DatabaseClient) BeginBatch(ctx context.Context) (core.WriteBatch, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &writeBatch{tx: tx}, nil
}

func (b *writeBatch) Commit() error {
	return b.tx.Commit()
}

func (b *writeBatch) Rollback() error {
	return b.tx.Rollback()
}

// UpdatePageContent applies everything a crawl learned about a page.
func (b *writeBatch) UpdatePageContent(ctx context.Context, page *models.Page) error {
	if page == nil {
		return errors.New("nil page")
	}
	credits, err := marshalOrNil(emptyToNil(page.Credits))
	if err != nil {
		return err
	}
	var content any
	if page.Content != nil {
		content, err = marshalOrNil(page.Content)
		if err != nil {
			return err
		}
	}
	const q = `
		UPDATE svs_page SET
			title = $2,
			description = $3,
			summary = $4,
			content_json = COALESCE($5, content_json),
			published_date = COALESCE($6, published_date),
			thumbnail_url = COALESCE($7, thumbnail_url),
			credits_json = COALESCE($8, credits_json),
			html_crawled_at = now(),
			last_checked_at = now(),
			updated_at = now()
		WHERE svs_id = $1
	`
	res, err := b.tx.ExecContext(ctx, q,
		page.SvsID, page.Title, nullable(page.Description), nullable(page.Summary),
		content, page.PublishedDate, nullable(page.ThumbnailURL), credits)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("page not found")
	}
	return nil
}

// UpdatePageRichContent backfills the structured content on an already
// crawled page. Credits are only written when the page has none yet.
func (b *writeBatch) UpdatePageRichContent(ctx context.Context, page *models.Page) error {
	if page == nil || page.Content == nil {
		return errors.New("nil page or content")
	}
	content, err := marshalOrNil(page.Content)
	if err != nil {
		return err
	}
	credits, err := marshalOrNil(emptyToNil(page.Credits))
	if err != nil {
		return err
	}
	const q = `
		UPDATE svs_page SET
			content_json = $2,
			credits_json = COALESCE(credits_json, $3),
			last_checked_at = now(),
			updated_at = now()
		WHERE svs_id = $1
	`
	_, err = b.tx.ExecContext(ctx, q, page.SvsID, content, credits)
	return err
}

// EnsurePage inserts a stub row so relations can point at pages we have
// not discovered yet.
func (b *writeBatch) EnsurePage(ctx context.Context, svsID int, title, canonicalURL string) error {
	const q = `
		INSERT INTO svs_page (svs_id, title, canonical_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (svs_id) DO NOTHING
	`
	_, err := b.tx.ExecContext(ctx, q, svsID, title, canonicalURL)
	return err
}

func (b *writeBatch) GetOrCreateTag(ctx context.Context, tagType, value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "", errors.New("empty tag value")
	}
	// DO UPDATE keeps RETURNING populated when the tag already exists.
	const q = `
		INSERT INTO tag (tag_type, value, normalized_value, display_name)
		VALUES ($1, $2, $3, $2)
		ON CONFLICT (tag_type, normalized_value) DO UPDATE SET value = tag.value
		RETURNING tag_id
	`
	var tagID string
	if err := b.tx.QueryRowContext(ctx, q, tagType, strings.TrimSpace(value), normalized).Scan(&tagID); err != nil {
		return "", err
	}
	return tagID, nil
}

func (b *writeBatch) LinkPageTag(ctx context.Context, svsID int, tagID string) error {
	const q = `
		INSERT INTO page_tag (svs_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (svs_id, tag_id) DO NOTHING
	`
	_, err := b.tx.ExecContext(ctx, q, svsID, tagID)
	return err
}

// ReplaceAssets swaps out the whole asset set for a page. Cascades take
// the old files, thumbnails and asset chunks with them.
func (b *writeBatch) ReplaceAssets(ctx context.Context, svsID int, assets []models.AssetBundle) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM asset WHERE svs_id = $1`, svsID); err != nil {
		return err
	}
	if len(assets) == 0 {
		return nil
	}

	const assetQ = `
		INSERT INTO asset (asset_id, svs_id, title, description, caption_html, caption_text,
			media_type, position, width, height, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	const fileQ = `
		INSERT INTO asset_file (file_id, asset_id, variant, file_url, mime_type, size_bytes, filename, width, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	const thumbQ = `
		INSERT INTO asset_thumbnail (thumbnail_id, asset_id, url, width, height)
		VALUES ($1, $2, $3, $4, $5)
	`

	for i := range assets {
		bundle := &assets[i]
		assetID := bundle.Asset.AssetID
		if assetID == "" {
			assetID = uuid.NewString()
			bundle.Asset.AssetID = assetID
		}
		if _, err := b.tx.ExecContext(ctx, assetQ,
			assetID, svsID,
			nullable(bundle.Asset.Title), nullable(bundle.Asset.Description),
			nullable(bundle.Asset.CaptionHTML), nullable(bundle.Asset.CaptionText),
			bundle.Asset.MediaType, bundle.Asset.Position,
			zeroToNil(bundle.Asset.Width), zeroToNil(bundle.Asset.Height),
			floatZeroToNil(bundle.Asset.DurationSeconds),
		); err != nil {
			return err
		}
		for j := range bundle.Files {
			f := &bundle.Files[j]
			if f.FileID == "" {
				f.FileID = uuid.NewString()
			}
			if _, err := b.tx.ExecContext(ctx, fileQ,
				f.FileID, assetID, f.Variant, f.FileURL,
				nullable(f.MimeType), int64ZeroToNil(f.SizeBytes), nullable(f.Filename),
				zeroToNil(f.Width), zeroToNil(f.Height),
			); err != nil {
				return err
			}
		}
		for j := range bundle.Thumbnails {
			t := &bundle.Thumbnails[j]
			if t.ThumbnailID == "" {
				t.ThumbnailID = uuid.NewString()
			}
			if _, err := b.tx.ExecContext(ctx, thumbQ,
				t.ThumbnailID, assetID, t.URL, t.Width, t.Height,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *writeBatch) UpsertRelation(ctx context.Context, rel *models.PageRelation) error {
	if rel == nil {
		return errors.New("nil relation")
	}
	const q = `
		INSERT INTO svs_page_relation (source_svs_id, target_svs_id, relation_type)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT uq_page_relation DO NOTHING
	`
	_, err := b.tx.ExecContext(ctx, q, rel.SourceSvsID, rel.TargetSvsID, rel.RelationType)
	return err
}

// ReplacePageChunks drops and rewrites the chunk set for a page. Old
// embeddings become orphans and the sweep regenerates from scratch.
func (b *writeBatch) ReplacePageChunks(ctx context.Context, svsID int, chunks []models.TextChunk) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM page_text_chunk WHERE svs_id = $1`, svsID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO page_text_chunk (chunk_id, svs_id, section, chunk_index, content, token_count, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := b.tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if ch.ChunkID == "" {
			ch.ChunkID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ChunkID, svsID, ch.Section, ch.ChunkIndex, ch.Content, ch.TokenCount, ch.ContentHash,
		); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceAssetChunks rewrites the chunk set for one asset. The asset
// row itself was just inserted by ReplaceAssets, so there is nothing
// old to delete unless a caller reuses an asset id.
func (b *writeBatch) ReplaceAssetChunks(ctx context.Context, assetID string, chunks []models.TextChunk) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM asset_text_chunk WHERE asset_id = $1`, assetID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO asset_text_chunk (chunk_id, asset_id, section, chunk_index, content, token_count, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := b.tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if ch.ChunkID == "" {
			ch.ChunkID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ChunkID, assetID, ch.Section, ch.ChunkIndex, ch.Content, ch.TokenCount, ch.ContentHash,
		); err != nil {
			return err
		}
	}
	return nil
}

func emptyToNil(credits []models.Credit) any {
	if len(credits) == 0 {
		return nil
	}
	return credits
}

func zeroToNil(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func int64ZeroToNil(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func floatZeroToNil(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
