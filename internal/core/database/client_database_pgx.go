package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/svscope/svscope/internal/config"
	"github.com/svscope/svscope/internal/core"
	"github.com/svscope/svscope/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Pool settings sized for one API service plus the ingest workers.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const pageColumns = `
	svs_id, title, canonical_url, published_date, summary, description,
	thumbnail_url, thumbnail_storage_uri, credits_json, content_json,
	status, api_source, html_crawled_at, last_checked_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*models.Page, error) {
	var (
		p            models.Page
		summary      sql.NullString
		description  sql.NullString
		thumbURL     sql.NullString
		thumbStorage sql.NullString
		creditsJSON  []byte
		contentJSON  []byte
	)
	err := row.Scan(
		&p.SvsID, &p.Title, &p.CanonicalURL, &p.PublishedDate, &summary, &description,
		&thumbURL, &thumbStorage, &creditsJSON, &contentJSON,
		&p.Status, &p.APISource, &p.HTMLCrawledAt, &p.LastCheckedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Summary = summary.String
	p.Description = description.String
	p.ThumbnailURL = thumbURL.String
	p.ThumbnailStorageURI = thumbStorage.String
	if len(creditsJSON) > 0 {
		if err := json.Unmarshal(creditsJSON, &p.Credits); err != nil {
			return nil, fmt.Errorf("decode credits for page %d: %w", p.SvsID, err)
		}
	}
	if len(contentJSON) > 0 {
		var content models.RichContent
		if err := json.Unmarshal(contentJSON, &content); err != nil {
			return nil, fmt.Errorf("decode content for page %d: %w", p.SvsID, err)
		}
		p.Content = &content
	}
	return &p, nil
}

// nullable turns a Go zero value into SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpsertPageStub records a page seen through API discovery. Crawled
// content on an existing row is left untouched.
func (c *DatabaseClient) UpsertPageStub(ctx context.Context, page *models.Page) error {
	if page == nil {
		return errors.New("nil page")
	}
	const q = `
		INSERT INTO svs_page (svs_id, title, canonical_url, published_date, summary, api_source, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, now())
		ON CONFLICT (svs_id) DO UPDATE SET
			title = EXCLUDED.title,
			canonical_url = EXCLUDED.canonical_url,
			published_date = COALESCE(EXCLUDED.published_date, svs_page.published_date),
			api_source = TRUE,
			last_checked_at = now(),
			updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q,
		page.SvsID, page.Title, page.CanonicalURL, page.PublishedDate, nullable(page.Summary))
	return err
}

func (c *DatabaseClient) GetPage(ctx context.Context, svsID int) (*models.Page, error) {
	q := `SELECT ` + pageColumns + ` FROM svs_page WHERE svs_id = $1`
	p, err := scanPage(c.db.QueryRowContext(ctx, q, svsID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *DatabaseClient) ListPages(ctx context.Context, limit, offset int) ([]models.Page, int, error) {
	var total int
	if err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM svs_page WHERE status = 'active'`).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + pageColumns + `
		FROM svs_page
		WHERE status = 'active'
		ORDER BY published_date DESC NULLS LAST, svs_id DESC
		LIMIT $1 OFFSET $2`
	rows, err := c.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (c *DatabaseClient) ListPagesForCrawl(ctx context.Context, ids []int, skipCrawled bool, limit int) ([]models.Page, error) {
	q := `SELECT ` + pageColumns + ` FROM svs_page WHERE TRUE`
	args := []any{}
	n := 1
	if len(ids) > 0 {
		q += fmt.Sprintf(" AND svs_id = ANY($%d)", n)
		args = append(args, intArray(ids))
		n++
	}
	if skipCrawled {
		q += " AND html_crawled_at IS NULL"
	}
	q += " ORDER BY svs_id"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
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

// ListPagesMissingContent returns crawled pages that never got the rich
// content extraction, newest published first.
func (c *DatabaseClient) ListPagesMissingContent(ctx context.Context, limit int) ([]models.Page, error) {
	q := `SELECT ` + pageColumns + `
		FROM svs_page
		WHERE html_crawled_at IS NOT NULL AND content_json IS NULL
		ORDER BY published_date DESC NULLS LAST`
	args := []any{}
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
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

func (c *DatabaseClient) ListPagesNeedingThumbnail(ctx context.Context, limit int) ([]models.Page, error) {
	q := `SELECT ` + pageColumns + `
		FROM svs_page
		WHERE thumbnail_url IS NOT NULL AND thumbnail_storage_uri IS NULL
		ORDER BY svs_id`
	args := []any{}
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
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

func (c *DatabaseClient) SetPageThumbnailURI(ctx context.Context, svsID int, uri string) error {
	const q = `UPDATE svs_page SET thumbnail_storage_uri = $2, updated_at = now() WHERE svs_id = $1`
	res, err := c.db.ExecContext(ctx, q, svsID, uri)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("page not found: %d", svsID)
	}
	return nil
}

// Run ledger

func (c *DatabaseClient) CreateRun(ctx context.Context, run *models.IngestRun) error {
	if run == nil {
		return errors.New("nil run")
	}
	cfg, err := marshalOrNil(nullableJSON(run.ConfigJSON))
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO ingest_run (mode, status, config_json)
		VALUES ($1, $2, $3)
		RETURNING run_id, created_at
	`
	return c.db.QueryRowContext(ctx, q, run.Mode, run.Status, cfg).Scan(&run.RunID, &run.CreatedAt)
}

func (c *DatabaseClient) UpdateRun(ctx context.Context, run *models.IngestRun) error {
	if run == nil {
		return errors.New("nil run")
	}
	const q = `
		UPDATE ingest_run SET
			status = $2,
			started_at = $3,
			completed_at = $4,
			total_items = $5,
			processed_items = $6,
			success_count = $7,
			error_count = $8,
			skipped_count = $9,
			error_summary = $10
		WHERE run_id = $1
	`
	res, err := c.db.ExecContext(ctx, q,
		run.RunID, run.Status, run.StartedAt, run.CompletedAt,
		run.TotalItems, run.ProcessedItems, run.SuccessCount, run.ErrorCount, run.SkippedCount,
		nullable(run.ErrorSummary))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found: %s", run.RunID)
	}
	return nil
}

func (c *DatabaseClient) CreateRunItem(ctx context.Context, item *models.IngestItem) error {
	if item == nil {
		return errors.New("nil item")
	}
	const q = `
		INSERT INTO ingest_item (run_id, svs_id, status, phase, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING item_id
	`
	return c.db.QueryRowContext(ctx, q,
		item.RunID, item.SvsID, item.Status, nullable(item.Phase), item.StartedAt).Scan(&item.ItemID)
}

func (c *DatabaseClient) UpdateRunItem(ctx context.Context, item *models.IngestItem) error {
	if item == nil {
		return errors.New("nil item")
	}
	const q = `
		UPDATE ingest_item SET
			status = $2, phase = $3, completed_at = $4, error_message = $5, retry_count = $6
		WHERE item_id = $1
	`
	_, err := c.db.ExecContext(ctx, q,
		item.ItemID, item.Status, nullable(item.Phase), item.CompletedAt,
		nullable(item.ErrorMessage), item.RetryCount)
	return err
}

// Embedding sweep

func (c *DatabaseClient) CountPendingChunks(ctx context.Context, chunkType, modelName string) (int, error) {
	q, err := pendingChunksQuery(chunkType, "count(*)")
	if err != nil {
		return 0, err
	}
	var count int
	if err := c.db.QueryRowContext(ctx, q, modelName).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *DatabaseClient) ListPendingChunks(ctx context.Context, chunkType, modelName string, limit int) ([]models.TextChunk, error) {
	cols := "c.chunk_id, c.section, c.chunk_index, c.content, c.token_count, c.content_hash, c.created_at, "
	if chunkType == models.ChunkTypePage {
		cols += "c.svs_id::text"
	} else {
		cols += "c.asset_id::text"
	}
	q, err := pendingChunksQuery(chunkType, cols)
	if err != nil {
		return nil, err
	}
	q += " ORDER BY c.created_at LIMIT $2"

	rows, err := c.db.QueryContext(ctx, q, modelName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TextChunk
	for rows.Next() {
		var ch models.TextChunk
		if err := rows.Scan(&ch.ChunkID, &ch.Section, &ch.ChunkIndex, &ch.Content,
			&ch.TokenCount, &ch.ContentHash, &ch.CreatedAt, &ch.OwnerID); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// pendingChunksQuery selects chunks that have no current embedding for
// the given model.
func pendingChunksQuery(chunkType, selectList string) (string, error) {
	var table string
	switch chunkType {
	case models.ChunkTypePage:
		table = "page_text_chunk"
	case models.ChunkTypeAsset:
		table = "asset_text_chunk"
	default:
		return "", fmt.Errorf("unknown chunk type: %q", chunkType)
	}
	return fmt.Sprintf(`
		SELECT %s
		FROM %s c
		WHERE NOT EXISTS (
			SELECT 1 FROM embedding e
			WHERE e.chunk_id = c.chunk_id
			  AND e.chunk_type = '%s'
			  AND e.model_name = $1
			  AND e.is_current = TRUE
		)`, selectList, table, chunkType), nil
}

// InsertEmbeddings writes one batch of vectors in a single transaction.
// Either every embedding lands or none do.
func (c *DatabaseClient) InsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO embedding (chunk_id, chunk_type, model_name, model_version, dims, embedding, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range embeddings {
		e := &embeddings[i]
		vec := pgvector.NewVector(e.Vector)
		if _, err := stmt.ExecContext(ctx,
			e.ChunkID, e.ChunkType, e.ModelName, e.ModelVersion, e.Dims, vec, e.IsCurrent,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func nullableJSON(s string) any {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

// intArray adapts []int for a Postgres int[] parameter via the pgx
// stdlib driver.
func intArray(ids []int) []int32 {
	out := make([]int32, len(ids))
	for i, v := range ids {
		out[i] = int32(v)
	}
	return out
}
