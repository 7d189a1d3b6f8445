package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svscope/svscope/internal/core"
	"github.com/svscope/svscope/internal/models"
)

// fakeStore is an in-memory DbClient for pipeline tests.
type fakeStore struct {
	pages        map[int]*models.Page
	crawlQueue   []models.Page
	missing      []models.Page
	upserts      []models.Page
	runs         []*models.IngestRun
	items        []*models.IngestItem
	itemUpdates  []models.IngestItem
	pending      []models.TextChunk
	embeddings   []models.Embedding
	batches      []*fakeBatch
	countPending int
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: map[int]*models.Page{}}
}

func (s *fakeStore) UpsertPageStub(_ context.Context, page *models.Page) error {
	s.upserts = append(s.upserts, *page)
	s.pages[page.SvsID] = page
	return nil
}

func (s *fakeStore) GetPage(_ context.Context, svsID int) (*models.Page, error) {
	return s.pages[svsID], nil
}

func (s *fakeStore) ListPages(_ context.Context, _, _ int) ([]models.Page, int, error) {
	return nil, 0, nil
}

func (s *fakeStore) ListPagesForCrawl(_ context.Context, _ []int, _ bool, _ int) ([]models.Page, error) {
	return s.crawlQueue, nil
}

func (s *fakeStore) ListPagesMissingContent(_ context.Context, _ int) ([]models.Page, error) {
	return s.missing, nil
}

func (s *fakeStore) ListPagesNeedingThumbnail(_ context.Context, _ int) ([]models.Page, error) {
	return nil, nil
}

func (s *fakeStore) SetPageThumbnailURI(_ context.Context, _ int, _ string) error { return nil }

func (s *fakeStore) BeginBatch(_ context.Context) (core.WriteBatch, error) {
	b := &fakeBatch{store: s}
	s.batches = append(s.batches, b)
	return b, nil
}

func (s *fakeStore) CreateRun(_ context.Context, run *models.IngestRun) error {
	run.RunID = fmt.Sprintf("run-%d", len(s.runs)+1)
	run.CreatedAt = time.Now()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) UpdateRun(_ context.Context, _ *models.IngestRun) error { return nil }

func (s *fakeStore) CreateRunItem(_ context.Context, item *models.IngestItem) error {
	item.ItemID = fmt.Sprintf("item-%d", len(s.items)+1)
	s.items = append(s.items, item)
	return nil
}

func (s *fakeStore) UpdateRunItem(_ context.Context, item *models.IngestItem) error {
	s.itemUpdates = append(s.itemUpdates, *item)
	return nil
}

func (s *fakeStore) CountPendingChunks(_ context.Context, _, _ string) (int, error) {
	return s.countPending, nil
}

func (s *fakeStore) ListPendingChunks(_ context.Context, _, _ string, limit int) ([]models.TextChunk, error) {
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	return s.pending[:limit], nil
}

func (s *fakeStore) InsertEmbeddings(_ context.Context, embeddings []models.Embedding) error {
	s.embeddings = append(s.embeddings, embeddings...)
	// Take embedded chunks off the pending list like the real query does.
	s.pending = s.pending[len(embeddings):]
	return nil
}

func (s *fakeStore) KeywordSearchChunks(_ context.Context, _ string, _ int) ([]models.ScoredChunk, error) {
	return nil, nil
}

func (s *fakeStore) VectorSearchChunks(_ context.Context, _ []float32, _ string, _ int) ([]models.ScoredChunk, error) {
	return nil, nil
}

func (s *fakeStore) VectorSearchChunksInPage(_ context.Context, _ []float32, _ string, _, _ int) ([]models.ScoredChunk, error) {
	return nil, nil
}

func (s *fakeStore) SearchPagesFullText(_ context.Context, _ string, _ int) ([]models.Page, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

// fakeBatch records crawl writes for assertions.
type fakeBatch struct {
	store       *fakeStore
	updated     *models.Page
	rich        *models.Page
	ensured     []int
	tags        map[string][]string
	links       []string
	assets      []models.AssetBundle
	relations   []models.PageRelation
	chunks      []models.TextChunk
	assetChunks map[string][]models.TextChunk
	committed   bool
	rolledBack  bool
}

func (b *fakeBatch) UpdatePageContent(_ context.Context, page *models.Page) error {
	b.updated = page
	return nil
}

func (b *fakeBatch) UpdatePageRichContent(_ context.Context, page *models.Page) error {
	b.rich = page
	return nil
}

func (b *fakeBatch) EnsurePage(_ context.Context, svsID int, _, _ string) error {
	b.ensured = append(b.ensured, svsID)
	return nil
}

func (b *fakeBatch) GetOrCreateTag(_ context.Context, tagType, value string) (string, error) {
	if b.tags == nil {
		b.tags = map[string][]string{}
	}
	b.tags[tagType] = append(b.tags[tagType], value)
	return fmt.Sprintf("%s:%s", tagType, value), nil
}

func (b *fakeBatch) LinkPageTag(_ context.Context, _ int, tagID string) error {
	b.links = append(b.links, tagID)
	return nil
}

func (b *fakeBatch) ReplaceAssets(_ context.Context, _ int, assets []models.AssetBundle) error {
	b.assets = assets
	return nil
}

func (b *fakeBatch) UpsertRelation(_ context.Context, rel *models.PageRelation) error {
	b.relations = append(b.relations, *rel)
	return nil
}

func (b *fakeBatch) ReplacePageChunks(_ context.Context, _ int, chunks []models.TextChunk) error {
	b.chunks = chunks
	return nil
}

func (b *fakeBatch) ReplaceAssetChunks(_ context.Context, assetID string, chunks []models.TextChunk) error {
	if b.assetChunks == nil {
		b.assetChunks = map[string][]models.TextChunk{}
	}
	b.assetChunks[assetID] = chunks
	return nil
}

func (b *fakeBatch) Commit() error {
	b.committed = true
	return nil
}

func (b *fakeBatch) Rollback() error {
	b.rolledBack = true
	return nil
}

func testPipeline(t *testing.T, store *fakeStore, serverURL string) *Pipeline {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewPipeline(store, testClient(t, serverURL), NewParser(serverURL), NewChunker(), log)
}

func TestRunDiscovery_UpsertsStubs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count": 2, "results": [
			{"id": 5187, "title": "Moon Phases 2024", "url": "https://svs.gsfc.nasa.gov/5187", "description": "Phases.", "release_date": "2024-01-02"},
			{"id": 5048, "title": "Tour of the Moon"}
		]}`)
	}))
	defer srv.Close()

	store := newFakeStore()
	p := testPipeline(t, store, srv.URL)

	stats, err := p.RunDiscovery(context.Background(), 500, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Discovered)
	assert.Equal(t, 2, stats.Upserted)
	assert.Equal(t, 0, stats.Errors)

	require.Len(t, store.upserts, 2)
	first := store.upserts[0]
	assert.Equal(t, 5187, first.SvsID)
	assert.Equal(t, "Moon Phases 2024", first.Title)
	assert.Equal(t, "Phases.", first.Summary)
	assert.True(t, first.APISource)
	require.NotNil(t, first.PublishedDate)
	assert.Equal(t, "2024-01-02", first.PublishedDate.Format("2006-01-02"))

	// Missing url falls back to the canonical form.
	assert.Equal(t, srv.URL+"/5048", store.upserts[1].CanonicalURL)
	assert.Nil(t, store.upserts[1].PublishedDate)
}

func TestRunHTMLCrawl_WritesEverything(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/5187", r.URL.Path)
		fmt.Fprint(w, fixturePage)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.crawlQueue = []models.Page{{SvsID: 5187}}
	p := testPipeline(t, store, srv.URL)

	stats, err := p.RunHTMLCrawl(context.Background(), CrawlOptions{})
	require.NoError(t, err)
	assert.Equal(t, CrawlStats{Processed: 1, Success: 1, Errors: 0}, stats)

	require.Len(t, store.batches, 1)
	b := store.batches[0]
	assert.True(t, b.committed)
	assert.False(t, b.rolledBack)

	require.NotNil(t, b.updated)
	assert.Equal(t, "Moon Phases 2024", b.updated.Title)
	assert.NotEmpty(t, b.updated.Description)
	assert.NotNil(t, b.updated.Content)
	assert.NotEmpty(t, b.updated.Credits)

	// Keywords plus vocabulary tags, each under its type.
	assert.NotEmpty(t, b.tags["keyword"])
	assert.Contains(t, b.tags["mission"], "LRO")
	assert.Contains(t, b.tags["target"], "Moon")
	assert.Len(t, b.links, len(b.tags["keyword"])+len(b.tags["mission"])+len(b.tags["target"])+len(b.tags["domain"]))

	require.Len(t, b.assets, 2)
	assert.Equal(t, 0, b.assets[0].Asset.Position)
	assert.Equal(t, 1, b.assets[1].Asset.Position)
	assert.Equal(t, models.MediaTypeVideo, b.assets[0].Asset.MediaType)
	require.NotEmpty(t, b.assets[0].Thumbnails)
	assert.Equal(t, 320, b.assets[0].Thumbnails[0].Width)

	// Relation targets get stub rows first.
	require.Len(t, b.relations, 2)
	assert.ElementsMatch(t, []int{5048, 5186}, b.ensured)

	require.NotEmpty(t, b.chunks)
	assert.Equal(t, "5187", b.chunks[0].OwnerID)
	assert.Equal(t, "description", b.chunks[0].Section)
	assert.NotEmpty(t, b.chunks[0].ContentHash)
}

func TestRunHTMLCrawl_ErrorIsolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/100" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, fixturePage)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.crawlQueue = []models.Page{{SvsID: 100}, {SvsID: 5187}}
	p := testPipeline(t, store, srv.URL)

	var calls [][3]int
	stats, err := p.RunHTMLCrawl(context.Background(), CrawlOptions{
		Progress: func(processed, success, errors int) {
			calls = append(calls, [3]int{processed, success, errors})
		},
	})
	require.NoError(t, err)

	assert.Equal(t, CrawlStats{Processed: 2, Success: 1, Errors: 1}, stats)
	assert.Equal(t, [][3]int{{1, 0, 1}, {2, 1, 1}}, calls)

	// No run: no per-page ledger items.
	assert.Empty(t, store.items)
}

func TestRunHTMLCrawl_RecordsRunItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/100" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, fixturePage)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.crawlQueue = []models.Page{{SvsID: 100}, {SvsID: 5187}}
	p := testPipeline(t, store, srv.URL)

	_, err := p.RunHTMLCrawl(context.Background(), CrawlOptions{RunID: "run-7"})
	require.NoError(t, err)

	require.Len(t, store.items, 2)
	assert.Equal(t, "run-7", store.items[0].RunID)
	assert.Equal(t, models.PhaseHTMLCrawl, store.items[0].Phase)
	require.NotNil(t, store.items[0].StartedAt)

	require.Len(t, store.itemUpdates, 2)
	failed := store.itemUpdates[0]
	assert.Equal(t, 100, failed.SvsID)
	assert.Equal(t, models.RunStatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "fetch html")
	require.NotNil(t, failed.CompletedAt)

	ok := store.itemUpdates[1]
	assert.Equal(t, 5187, ok.SvsID)
	assert.Equal(t, models.RunStatusCompleted, ok.Status)
	assert.Empty(t, ok.ErrorMessage)
}

func TestRunContentUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fixturePage)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.missing = []models.Page{{SvsID: 5187}}
	p := testPipeline(t, store, srv.URL)

	stats, err := p.RunContentUpdate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, CrawlStats{Processed: 1, Success: 1}, stats)

	require.Len(t, store.batches, 1)
	b := store.batches[0]
	assert.True(t, b.committed)
	require.NotNil(t, b.rich)
	assert.NotNil(t, b.rich.Content)
	assert.Nil(t, b.updated)
}

func TestRunFullIngestion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/search/" {
			fmt.Fprint(w, `{"count": 1, "results": [{"id": 5187, "title": "Moon Phases 2024"}]}`)
			return
		}
		fmt.Fprint(w, fixturePage)
	}))
	defer srv.Close()

	store := newFakeStore()
	store.crawlQueue = []models.Page{{SvsID: 5187}}
	p := testPipeline(t, store, srv.URL)

	run, err := p.RunFullIngestion(context.Background(), models.RunModeFull, 0, true)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.TotalItems)
	assert.Equal(t, 1, run.ProcessedItems)
	assert.Equal(t, 1, run.SuccessCount)
	assert.Equal(t, 0, run.ErrorCount)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.CompletedAt)
	assert.Contains(t, run.ConfigJSON, `"skip_existing":true`)

	// The crawl records one ledger item per page under the run.
	require.Len(t, store.items, 1)
	assert.Equal(t, run.RunID, store.items[0].RunID)
	require.Len(t, store.itemUpdates, 1)
	assert.Equal(t, models.RunStatusCompleted, store.itemUpdates[0].Status)
}

func TestCreditsToText(t *testing.T) {
	text := creditsToText([]ParsedCredit{
		{Role: "Visualizer", Name: "Ernie Wright", Organization: "USRA"},
		{Role: "Producer", Name: "David Ladd"},
		{},
	})
	assert.Equal(t, "Visualizer: Ernie Wright (USRA)\nProducer: David Ladd", text)
}
