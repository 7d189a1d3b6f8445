package core

import (
	"context"
	"io"

	"github.com/svscope/svscope/internal/models"
)

// DbClient defines all persistence operations the pipeline and API need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	UpsertPageStub(ctx context.Context, page *models.Page) error
	GetPage(ctx context.Context, svsID int) (*models.Page, error)
	ListPages(ctx context.Context, limit, offset int) ([]models.Page, int, error)
	ListPagesForCrawl(ctx context.Context, ids []int, skipCrawled bool, limit int) ([]models.Page, error)
	ListPagesMissingContent(ctx context.Context, limit int) ([]models.Page, error)
	ListPagesNeedingThumbnail(ctx context.Context, limit int) ([]models.Page, error)
	SetPageThumbnailURI(ctx context.Context, svsID int, uri string) error

	BeginBatch(ctx context.Context) (WriteBatch, error)

	CreateRun(ctx context.Context, run *models.IngestRun) error
	UpdateRun(ctx context.Context, run *models.IngestRun) error
	CreateRunItem(ctx context.Context, item *models.IngestItem) error
	UpdateRunItem(ctx context.Context, item *models.IngestItem) error

	CountPendingChunks(ctx context.Context, chunkType, modelName string) (int, error)
	ListPendingChunks(ctx context.Context, chunkType, modelName string, limit int) ([]models.TextChunk, error)
	InsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error

	KeywordSearchChunks(ctx context.Context, query string, limit int) ([]models.ScoredChunk, error)
	VectorSearchChunks(ctx context.Context, vector []float32, modelName string, limit int) ([]models.ScoredChunk, error)
	VectorSearchChunksInPage(ctx context.Context, vector []float32, modelName string, svsID, limit int) ([]models.ScoredChunk, error)
	SearchPagesFullText(ctx context.Context, query string, limit int) ([]models.Page, error)

	Close() error
}

// WriteBatch groups the crawl writes for one page into a single
// transaction so a page commits or rolls back as a unit.
type WriteBatch interface {
	UpdatePageContent(ctx context.Context, page *models.Page) error
	UpdatePageRichContent(ctx context.Context, page *models.Page) error
	EnsurePage(ctx context.Context, svsID int, title, canonicalURL string) error
	GetOrCreateTag(ctx context.Context, tagType, value string) (string, error)
	LinkPageTag(ctx context.Context, svsID int, tagID string) error
	ReplaceAssets(ctx context.Context, svsID int, assets []models.AssetBundle) error
	UpsertRelation(ctx context.Context, rel *models.PageRelation) error
	ReplacePageChunks(ctx context.Context, svsID int, chunks []models.TextChunk) error
	ReplaceAssetChunks(ctx context.Context, assetID string, chunks []models.TextChunk) error

	Commit() error
	Rollback() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
