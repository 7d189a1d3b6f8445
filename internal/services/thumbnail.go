package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/svscope/svscope/internal/core"
)

const (
	thumbnailMaxBytes = 10 << 20
	thumbnailWorkers  = 4
)

// ThumbnailService copies page thumbnails from the upstream site into
// the object store so the API never hotlinks them.
type ThumbnailService struct {
	store      core.DbClient
	objects    core.ObjectClient
	bucket     string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewThumbnailService(store core.DbClient, objects core.ObjectClient, bucket string, log *logrus.Logger) *ThumbnailService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ThumbnailService{
		store:      store,
		objects:    objects,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.WithField("component", "thumbnails"),
	}
}

// CacheStats summarizes one caching pass.
type CacheStats struct {
	Processed int
	Cached    int
	Errors    int
}

// CachePending uploads thumbnails for every page that has a source URL
// but no stored copy yet. Downloads run on a small worker pool; the
// upstream site tolerates a few parallel image fetches.
func (s *ThumbnailService) CachePending(ctx context.Context, limit int) (CacheStats, error) {
	var stats CacheStats

	pages, err := s.store.ListPagesNeedingThumbnail(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("list pages needing thumbnail: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(thumbnailWorkers)

	for i := range pages {
		page := &pages[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			uri, err := s.cacheOne(gctx, page.SvsID, page.ThumbnailURL)
			if err == nil {
				err = s.store.SetPageThumbnailURI(gctx, page.SvsID, uri)
			}

			mu.Lock()
			defer mu.Unlock()
			stats.Processed++
			if err != nil {
				stats.Errors++
				s.log.WithError(err).WithField("svs_id", page.SvsID).Warn("thumbnail cache failed")
				return nil
			}
			stats.Cached++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	s.log.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"cached":    stats.Cached,
		"errors":    stats.Errors,
	}).Info("thumbnail pass complete")
	return stats, nil
}

func (s *ThumbnailService) cacheOne(ctx context.Context, svsID int, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch thumbnail: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, thumbnailMaxBytes))
	if err != nil {
		return "", fmt.Errorf("read thumbnail: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}

	key := fmt.Sprintf("thumbnails/pages/%d%s", svsID, extensionFor(sourceURL, contentType))
	return s.objects.UploadFile(ctx, s.bucket, key, data, contentType)
}

func extensionFor(sourceURL, contentType string) string {
	if ext := path.Ext(strings.SplitN(sourceURL, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
