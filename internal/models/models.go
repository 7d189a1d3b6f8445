package models

import (
	"time"
)

// Page status values.
const (
	PageStatusActive   = "active"
	PageStatusMissing  = "missing"
	PageStatusArchived = "archived"
)

// Media types for assets.
const (
	MediaTypeVideo = "video"
	MediaTypeImage = "image"
	MediaTypeData  = "data"
)

// Chunk owner types, used by the embedding table to point at either
// a page chunk or an asset chunk.
const (
	ChunkTypePage  = "page"
	ChunkTypeAsset = "asset"
)

// Relation types between pages.
const (
	RelationRelated    = "related"
	RelationSequence   = "sequence"
	RelationSequel     = "sequel"
	RelationPrequel    = "prequel"
	RelationDerived    = "derived"
	RelationReferences = "references"
)

// Ingest run lifecycle.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

const (
	RunModeDiscovery   = "discovery"
	RunModeCrawl       = "crawl"
	RunModeFull        = "full"
	RunModeIncremental = "incremental"
)

// Ingest item phases.
const (
	PhaseAPIDiscovery = "api_discovery"
	PhaseHTMLCrawl    = "html_crawl"
	PhaseAssetExtract = "asset_extract"
	PhaseChunking     = "chunking"
	PhaseEmbedding    = "embedding"
)

// Credit is one attribution line on a page.
type Credit struct {
	Role         string `json:"role"`
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
}

// Paragraph is one rich-content paragraph: sanitized HTML plus the
// plain text used for search and accessibility.
type Paragraph struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

// ContentSection groups the paragraphs extracted from one media group.
type ContentSection struct {
	Type       string      `json:"type"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// RichContent is the structured rich-content document stored on a page.
type RichContent struct {
	FormatVersion int              `json:"format_version"`
	Sections      []ContentSection `json:"sections"`
}

// Page is one SVS visualization page. A page that has never been
// crawled carries only what discovery knows: id, title, url, date.
type Page struct {
	SvsID               int          `db:"svs_id" json:"svs_id"`
	Title               string       `db:"title" json:"title"`
	CanonicalURL        string       `db:"canonical_url" json:"canonical_url"`
	PublishedDate       *time.Time   `db:"published_date" json:"published_date,omitempty"`
	Summary             string       `db:"summary" json:"summary,omitempty"`
	Description         string       `db:"description" json:"description,omitempty"`
	ThumbnailURL        string       `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	ThumbnailStorageURI string       `db:"thumbnail_storage_uri" json:"thumbnail_storage_uri,omitempty"`
	Credits             []Credit     `db:"credits_json" json:"credits,omitempty"`
	Content             *RichContent `db:"content_json" json:"content,omitempty"`
	Status              string       `db:"status" json:"status"`
	APISource           bool         `db:"api_source" json:"api_source"`
	HTMLCrawledAt       *time.Time   `db:"html_crawled_at" json:"html_crawled_at,omitempty"`
	LastCheckedAt       *time.Time   `db:"last_checked_at" json:"last_checked_at,omitempty"`
	CreatedAt           time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at" json:"updated_at"`
}

// Asset is a media item embedded in a page, ordered by position.
type Asset struct {
	AssetID         string    `db:"asset_id" json:"asset_id"`
	SvsID           int       `db:"svs_id" json:"svs_id"`
	Title           string    `db:"title" json:"title,omitempty"`
	Description     string    `db:"description" json:"description,omitempty"`
	CaptionHTML     string    `db:"caption_html" json:"caption_html,omitempty"`
	CaptionText     string    `db:"caption_text" json:"caption_text,omitempty"`
	MediaType       string    `db:"media_type" json:"media_type"`
	Position        int       `db:"position" json:"position"`
	Width           int       `db:"width" json:"width,omitempty"`
	Height          int       `db:"height" json:"height,omitempty"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// AssetFile is one rendition of an asset (resolution/format variant).
type AssetFile struct {
	FileID    string `db:"file_id" json:"file_id"`
	AssetID   string `db:"asset_id" json:"asset_id"`
	Variant   string `db:"variant" json:"variant"`
	FileURL   string `db:"file_url" json:"file_url"`
	MimeType  string `db:"mime_type" json:"mime_type,omitempty"`
	SizeBytes int64  `db:"size_bytes" json:"size_bytes,omitempty"`
	Filename  string `db:"filename" json:"filename,omitempty"`
	Width     int    `db:"width" json:"width,omitempty"`
	Height    int    `db:"height" json:"height,omitempty"`
}

// AssetThumbnail is a preview image for an asset.
type AssetThumbnail struct {
	ThumbnailID string `db:"thumbnail_id" json:"thumbnail_id"`
	AssetID     string `db:"asset_id" json:"asset_id"`
	URL         string `db:"url" json:"url"`
	StorageURI  string `db:"storage_uri" json:"storage_uri,omitempty"`
	Width       int    `db:"width" json:"width"`
	Height      int    `db:"height" json:"height"`
}

// Tag is a normalized (type, value) pair, globally deduplicated by
// (tag_type, normalized_value).
type Tag struct {
	TagID           string `db:"tag_id" json:"tag_id"`
	TagType         string `db:"tag_type" json:"tag_type"`
	Value           string `db:"value" json:"value"`
	NormalizedValue string `db:"normalized_value" json:"normalized_value"`
	DisplayName     string `db:"display_name" json:"display_name,omitempty"`
}

// TextChunk is a bounded span of text belonging to a page or an asset,
// prepared for embedding and retrieval. Immutable once written; source
// changes regenerate the whole set.
type TextChunk struct {
	ChunkID     string    `db:"chunk_id" json:"chunk_id"`
	OwnerID     string    `db:"owner_id" json:"owner_id"` // svs_id (page) or asset_id (asset)
	Section     string    `db:"section" json:"section"`
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"`
	Content     string    `db:"content" json:"content"`
	TokenCount  int       `db:"token_count" json:"token_count"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Embedding is a vector for one chunk, produced by one model. At most
// one row per (chunk, model) is current; superseded rows are kept.
type Embedding struct {
	EmbeddingID  string    `db:"embedding_id" json:"embedding_id"`
	ChunkID      string    `db:"chunk_id" json:"chunk_id"`
	ChunkType    string    `db:"chunk_type" json:"chunk_type"`
	ModelName    string    `db:"model_name" json:"model_name"`
	ModelVersion string    `db:"model_version" json:"model_version"`
	Dims         int       `db:"dims" json:"dims"`
	Vector       []float32 `db:"embedding" json:"-"`
	IsCurrent    bool      `db:"is_current" json:"is_current"`
}

// PageRelation is a directed edge between two pages.
type PageRelation struct {
	ID           string `db:"id" json:"id"`
	SourceSvsID  int    `db:"source_svs_id" json:"source_svs_id"`
	TargetSvsID  int    `db:"target_svs_id" json:"target_svs_id"`
	RelationType string `db:"relation_type" json:"relation_type"`
}

// IngestRun groups one batch of ingestion work.
type IngestRun struct {
	RunID          string     `db:"run_id" json:"run_id"`
	Mode           string     `db:"mode" json:"mode"`
	Status         string     `db:"status" json:"status"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	TotalItems     int        `db:"total_items" json:"total_items"`
	ProcessedItems int        `db:"processed_items" json:"processed_items"`
	SuccessCount   int        `db:"success_count" json:"success_count"`
	ErrorCount     int        `db:"error_count" json:"error_count"`
	SkippedCount   int        `db:"skipped_count" json:"skipped_count"`
	ConfigJSON     string     `db:"config_json" json:"config_json,omitempty"`
	ErrorSummary   string     `db:"error_summary" json:"error_summary,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// AssetBundle carries an asset together with its files and thumbnails
// for a single crawl write.
type AssetBundle struct {
	Asset      Asset
	Files      []AssetFile
	Thumbnails []AssetThumbnail
}

// ScoredChunk is one retrieval candidate: a chunk joined with its
// page, plus the raw score from whichever search leg produced it.
type ScoredChunk struct {
	ChunkID   string
	SvsID     int
	PageTitle string
	Section   string
	Content   string
	Score     float64
}

// IngestItem tracks one page's progress through a run's phases.
type IngestItem struct {
	ItemID       string     `db:"item_id" json:"item_id"`
	RunID        string     `db:"run_id" json:"run_id"`
	SvsID        int        `db:"svs_id" json:"svs_id"`
	Status       string     `db:"status" json:"status"`
	Phase        string     `db:"phase" json:"phase,omitempty"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int        `db:"retry_count" json:"retry_count"`
}
