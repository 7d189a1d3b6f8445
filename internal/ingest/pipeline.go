package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/svscope/svscope/internal/core"
	"github.com/svscope/svscope/internal/models"
)

// Pipeline drives the full ingestion flow: API discovery, HTML crawl,
// parse, and persistence. Embedding runs separately as its own sweep.
type Pipeline struct {
	store   core.DbClient
	client  *Client
	parser  *Parser
	chunker *Chunker
	log     *logrus.Entry
}

func NewPipeline(store core.DbClient, client *Client, parser *Parser, chunker *Chunker, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		store:   store,
		client:  client,
		parser:  parser,
		chunker: chunker,
		log:     log.WithField("component", "pipeline"),
	}
}

// DiscoveryStats summarizes one discovery pass over the listing API.
type DiscoveryStats struct {
	Discovered int
	Upserted   int
	Errors     int
}

// CrawlStats summarizes one HTML crawl pass.
type CrawlStats struct {
	Processed int
	Success   int
	Errors    int
}

// CrawlOptions selects which pages a crawl pass visits.
type CrawlOptions struct {
	// SvsIDs restricts the crawl to specific pages when non-empty.
	SvsIDs []int
	// SkipExisting skips pages that already have a crawl timestamp.
	SkipExisting bool
	// MaxPages caps the pass; zero means no cap.
	MaxPages int
	// RunID, when set, records a ledger item per page under that run.
	RunID string
	// Progress, when set, is called after every page.
	Progress func(processed, success, errors int)
}

// RunDiscovery walks the listing API and upserts a stub row per page.
// Crawled fields on known pages are never touched here.
func (p *Pipeline) RunDiscovery(ctx context.Context, batchSize int, progress func(current, total int)) (DiscoveryStats, error) {
	var stats DiscoveryStats

	results, err := p.client.DiscoverAllPages(ctx, batchSize, progress)
	if err != nil {
		return stats, fmt.Errorf("discover pages: %w", err)
	}
	stats.Discovered = len(results)

	for _, r := range results {
		page := pageStubFromResult(r, p.client.BaseURL())
		if page == nil {
			stats.Errors++
			continue
		}
		if err := p.store.UpsertPageStub(ctx, page); err != nil {
			stats.Errors++
			p.log.WithError(err).WithField("svs_id", page.SvsID).Warn("upsert page stub failed")
			continue
		}
		stats.Upserted++
	}

	p.log.WithFields(logrus.Fields{
		"discovered": stats.Discovered,
		"upserted":   stats.Upserted,
		"errors":     stats.Errors,
	}).Info("discovery pass complete")
	return stats, nil
}

func pageStubFromResult(r SearchResult, baseURL string) *models.Page {
	if r.ID <= 0 {
		return nil
	}
	page := &models.Page{
		SvsID:        r.ID,
		Title:        r.Title,
		CanonicalURL: r.URL,
		Summary:      r.Description,
		APISource:    true,
	}
	if page.Title == "" {
		page.Title = fmt.Sprintf("SVS %d", r.ID)
	}
	if page.CanonicalURL == "" {
		page.CanonicalURL = fmt.Sprintf("%s/%d", baseURL, r.ID)
	}
	if r.ReleaseDate != "" {
		if t := parseAPIDate(r.ReleaseDate); t != nil {
			page.PublishedDate = t
		}
	}
	return page
}

func parseAPIDate(s string) *time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

// RunHTMLCrawl fetches and processes page HTML for every selected
// page. Each page commits in its own transaction so one bad page never
// poisons the rest of the pass.
func (p *Pipeline) RunHTMLCrawl(ctx context.Context, opts CrawlOptions) (CrawlStats, error) {
	var stats CrawlStats

	pages, err := p.store.ListPagesForCrawl(ctx, opts.SvsIDs, opts.SkipExisting, opts.MaxPages)
	if err != nil {
		return stats, fmt.Errorf("list pages for crawl: %w", err)
	}
	p.log.WithField("pages", len(pages)).Info("starting html crawl")

	for i := range pages {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		svsID := pages[i].SvsID
		item := p.startRunItem(ctx, opts.RunID, svsID)
		err := p.crawlPage(ctx, svsID)
		p.finishRunItem(ctx, item, err)
		if err != nil {
			stats.Errors++
			p.log.WithError(err).WithField("svs_id", svsID).Warn("crawl page failed")
		} else {
			stats.Success++
		}
		stats.Processed++
		if opts.Progress != nil {
			opts.Progress(stats.Processed, stats.Success, stats.Errors)
		}
	}

	p.log.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"success":   stats.Success,
		"errors":    stats.Errors,
	}).Info("html crawl complete")
	return stats, nil
}

// startRunItem opens a ledger item for one page. Ledger errors are
// logged and swallowed so bookkeeping never stops a crawl.
func (p *Pipeline) startRunItem(ctx context.Context, runID string, svsID int) *models.IngestItem {
	if runID == "" {
		return nil
	}
	now := time.Now().UTC()
	item := &models.IngestItem{
		RunID:     runID,
		SvsID:     svsID,
		Status:    models.RunStatusRunning,
		Phase:     models.PhaseHTMLCrawl,
		StartedAt: &now,
	}
	if err := p.store.CreateRunItem(ctx, item); err != nil {
		p.log.WithError(err).WithField("svs_id", svsID).Warn("create run item failed")
		return nil
	}
	return item
}

func (p *Pipeline) finishRunItem(ctx context.Context, item *models.IngestItem, crawlErr error) {
	if item == nil {
		return
	}
	now := time.Now().UTC()
	item.CompletedAt = &now
	if crawlErr != nil {
		item.Status = models.RunStatusFailed
		item.ErrorMessage = crawlErr.Error()
	} else {
		item.Status = models.RunStatusCompleted
	}
	if err := p.store.UpdateRunItem(ctx, item); err != nil {
		p.log.WithError(err).WithField("svs_id", item.SvsID).Warn("update run item failed")
	}
}

// crawlPage runs the whole per-page flow: fetch, parse, write.
func (p *Pipeline) crawlPage(ctx context.Context, svsID int) error {
	html, err := p.client.FetchPageHTML(ctx, svsID)
	if err != nil {
		return fmt.Errorf("fetch html: %w", err)
	}
	parsed, err := p.parser.Parse(html, svsID)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	batch, err := p.store.BeginBatch(ctx)
	if err != nil {
		return err
	}
	if err := p.writePage(ctx, batch, parsed); err != nil {
		_ = batch.Rollback()
		return err
	}
	return batch.Commit()
}

func (p *Pipeline) writePage(ctx context.Context, batch core.WriteBatch, parsed *ParsedPage) error {
	page := pageFromParsed(parsed)
	if err := batch.UpdatePageContent(ctx, page); err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	if err := p.writeTags(ctx, batch, parsed); err != nil {
		return fmt.Errorf("write tags: %w", err)
	}
	bundles := assetBundlesFromParsed(parsed.Assets)
	if err := batch.ReplaceAssets(ctx, parsed.SvsID, bundles); err != nil {
		return fmt.Errorf("replace assets: %w", err)
	}
	for i := range bundles {
		assetChunks := p.buildAssetChunks(&bundles[i])
		if len(assetChunks) == 0 {
			continue
		}
		if err := batch.ReplaceAssetChunks(ctx, bundles[i].Asset.AssetID, assetChunks); err != nil {
			return fmt.Errorf("replace asset chunks: %w", err)
		}
	}
	if err := p.writeRelations(ctx, batch, parsed); err != nil {
		return fmt.Errorf("write relations: %w", err)
	}
	chunks := p.buildPageChunks(parsed)
	if err := batch.ReplacePageChunks(ctx, parsed.SvsID, chunks); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	return nil
}

func pageFromParsed(parsed *ParsedPage) *models.Page {
	page := &models.Page{
		SvsID:         parsed.SvsID,
		Title:         parsed.Title,
		CanonicalURL:  parsed.CanonicalURL,
		Description:   parsed.Description,
		Summary:       parsed.Summary,
		PublishedDate: parsed.PublishedDate,
		ThumbnailURL:  parsed.ThumbnailURL,
		Content:       parsed.Content,
	}
	for _, c := range parsed.Credits {
		page.Credits = append(page.Credits, models.Credit{
			Role:         c.Role,
			Name:         c.Name,
			Organization: c.Organization,
		})
	}
	return page
}

// writeTags persists keywords and the vocabulary matches, each under
// its own tag type.
func (p *Pipeline) writeTags(ctx context.Context, batch core.WriteBatch, parsed *ParsedPage) error {
	groups := []struct {
		tagType string
		values  []string
	}{
		{"keyword", parsed.Keywords},
		{"mission", parsed.Missions},
		{"target", parsed.Targets},
		{"domain", parsed.Domains},
	}
	for _, g := range groups {
		for _, value := range g.values {
			if strings.TrimSpace(value) == "" {
				continue
			}
			tagID, err := batch.GetOrCreateTag(ctx, g.tagType, value)
			if err != nil {
				return err
			}
			if err := batch.LinkPageTag(ctx, parsed.SvsID, tagID); err != nil {
				return err
			}
		}
	}
	return nil
}

func assetBundlesFromParsed(assets []ParsedAsset) []models.AssetBundle {
	out := make([]models.AssetBundle, 0, len(assets))
	for i, a := range assets {
		bundle := models.AssetBundle{
			Asset: models.Asset{
				Title:       a.Title,
				Description: a.Description,
				MediaType:   a.MediaType,
				Position:    i,
			},
		}
		for _, f := range a.Files {
			bundle.Files = append(bundle.Files, models.AssetFile{
				Variant:   f.Variant,
				FileURL:   f.URL,
				MimeType:  f.MimeType,
				SizeBytes: f.SizeBytes,
				Filename:  f.Filename,
				Width:     f.Width,
				Height:    f.Height,
			})
		}
		if a.ThumbnailURL != "" {
			bundle.Thumbnails = append(bundle.Thumbnails, models.AssetThumbnail{
				URL:    a.ThumbnailURL,
				Width:  320,
				Height: 180,
			})
		}
		out = append(out, bundle)
	}
	return out
}

// writeRelations ensures the target page exists as a stub before the
// edge is written, so edges to never-discovered pages still hold.
func (p *Pipeline) writeRelations(ctx context.Context, batch core.WriteBatch, parsed *ParsedPage) error {
	for _, rel := range parsed.RelatedPages {
		if rel.SvsID == parsed.SvsID {
			continue
		}
		title := rel.Title
		if title == "" {
			title = fmt.Sprintf("SVS %d", rel.SvsID)
		}
		canonical := fmt.Sprintf("%s/%d", p.client.BaseURL(), rel.SvsID)
		if err := batch.EnsurePage(ctx, rel.SvsID, title, canonical); err != nil {
			return err
		}
		if err := batch.UpsertRelation(ctx, &models.PageRelation{
			SourceSvsID:  parsed.SvsID,
			TargetSvsID:  rel.SvsID,
			RelationType: rel.RelationType,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) buildPageChunks(parsed *ParsedPage) []models.TextChunk {
	creditsText := creditsToText(parsed.Credits)
	chunks := p.chunker.ChunkPageContent(parsed.Description, creditsText, parsed.DownloadNotes)

	out := make([]models.TextChunk, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, models.TextChunk{
			OwnerID:     fmt.Sprintf("%d", parsed.SvsID),
			Section:     ch.Section,
			ChunkIndex:  ch.Index,
			Content:     ch.Content,
			TokenCount:  ch.TokenCount,
			ContentHash: ch.ContentHash,
		})
	}
	return out
}

func (p *Pipeline) buildAssetChunks(bundle *models.AssetBundle) []models.TextChunk {
	caption := bundle.Asset.CaptionText
	if caption == "" {
		caption = bundle.Asset.Description
	}
	chunks := p.chunker.ChunkAssetContent(caption, "", "")

	out := make([]models.TextChunk, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, models.TextChunk{
			OwnerID:     bundle.Asset.AssetID,
			Section:     ch.Section,
			ChunkIndex:  ch.Index,
			Content:     ch.Content,
			TokenCount:  ch.TokenCount,
			ContentHash: ch.ContentHash,
		})
	}
	return out
}

// creditsToText renders credits as one line per person for chunking.
func creditsToText(credits []ParsedCredit) string {
	var b strings.Builder
	for _, c := range credits {
		if c.Role == "" && c.Name == "" {
			continue
		}
		if c.Organization != "" {
			fmt.Fprintf(&b, "%s: %s (%s)\n", c.Role, c.Name, c.Organization)
		} else {
			fmt.Fprintf(&b, "%s: %s\n", c.Role, c.Name)
		}
	}
	return strings.TrimSpace(b.String())
}

// RunContentUpdate backfills structured content on pages that were
// crawled before rich-content extraction existed.
func (p *Pipeline) RunContentUpdate(ctx context.Context, maxPages int) (CrawlStats, error) {
	var stats CrawlStats

	pages, err := p.store.ListPagesMissingContent(ctx, maxPages)
	if err != nil {
		return stats, fmt.Errorf("list pages missing content: %w", err)
	}
	p.log.WithField("pages", len(pages)).Info("starting content update")

	for i := range pages {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		svsID := pages[i].SvsID
		if err := p.updatePageContent(ctx, svsID); err != nil {
			stats.Errors++
			p.log.WithError(err).WithField("svs_id", svsID).Warn("content update failed")
		} else {
			stats.Success++
		}
		stats.Processed++
	}
	return stats, nil
}

func (p *Pipeline) updatePageContent(ctx context.Context, svsID int) error {
	html, err := p.client.FetchPageHTML(ctx, svsID)
	if err != nil {
		return fmt.Errorf("fetch html: %w", err)
	}
	parsed, err := p.parser.Parse(html, svsID)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	if parsed.Content == nil {
		return nil
	}

	batch, err := p.store.BeginBatch(ctx)
	if err != nil {
		return err
	}
	if err := batch.UpdatePageRichContent(ctx, pageFromParsed(parsed)); err != nil {
		_ = batch.Rollback()
		return err
	}
	return batch.Commit()
}

// FullRunConfig is recorded on the run row for later inspection.
type FullRunConfig struct {
	MaxPages     int  `json:"max_pages"`
	SkipExisting bool `json:"skip_existing"`
}

// RunFullIngestion runs discovery then crawl under one run record.
func (p *Pipeline) RunFullIngestion(ctx context.Context, mode string, maxPages int, skipExisting bool) (*models.IngestRun, error) {
	cfgJSON, err := json.Marshal(FullRunConfig{MaxPages: maxPages, SkipExisting: skipExisting})
	if err != nil {
		return nil, err
	}

	run := &models.IngestRun{
		Mode:       mode,
		Status:     models.RunStatusPending,
		ConfigJSON: string(cfgJSON),
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusRunning
	run.StartedAt = &now
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("mark run running: %w", err)
	}

	finish := func(runErr error) {
		done := time.Now().UTC()
		run.CompletedAt = &done
		if runErr != nil {
			run.Status = models.RunStatusFailed
			run.ErrorSummary = runErr.Error()
		} else {
			run.Status = models.RunStatusCompleted
		}
		if err := p.store.UpdateRun(ctx, run); err != nil {
			p.log.WithError(err).Error("finalize run failed")
		}
	}

	disc, err := p.RunDiscovery(ctx, 0, nil)
	if err != nil {
		finish(err)
		return run, err
	}
	run.TotalItems = disc.Discovered

	crawl, err := p.RunHTMLCrawl(ctx, CrawlOptions{SkipExisting: skipExisting, MaxPages: maxPages, RunID: run.RunID})
	if err != nil {
		finish(err)
		return run, err
	}
	run.ProcessedItems = crawl.Processed
	run.SuccessCount = crawl.Success
	run.ErrorCount = crawl.Errors + disc.Errors

	finish(nil)
	return run, nil
}
