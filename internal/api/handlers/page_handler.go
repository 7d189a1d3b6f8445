package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/svscope/svscope/internal/core"
	"github.com/svscope/svscope/internal/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type PageHandler struct {
	dbclient core.DbClient
	objects  core.ObjectClient
	bucket   string
}

func NewPageHandler(db core.DbClient, objects core.ObjectClient, bucket string) *PageHandler {
	return &PageHandler{dbclient: db, objects: objects, bucket: bucket}
}

type pageListResponse struct {
	Pages  []models.Page `json:"pages"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListPages returns active pages, newest first.
func (h *PageHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	pages, total, err := h.dbclient.ListPages(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list pages failed: %v", err), http.StatusInternalServerError)
		return
	}
	if pages == nil {
		pages = []models.Page{}
	}

	writeJSON(w, pageListResponse{Pages: pages, Total: total, Limit: limit, Offset: offset})
}

// GetPage returns one page by its SVS id.
func (h *PageHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	svsID, err := strconv.Atoi(chi.URLParam(r, "svs_id"))
	if err != nil || svsID <= 0 {
		http.Error(w, "invalid svs id", http.StatusBadRequest)
		return
	}

	page, err := h.dbclient.GetPage(r.Context(), svsID)
	if err != nil {
		http.Error(w, fmt.Sprintf("get page failed: %v", err), http.StatusInternalServerError)
		return
	}
	if page == nil {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	writeJSON(w, page)
}

// GetThumbnail streams a cached thumbnail from object storage, falling
// back to a redirect to the upstream URL when none is cached.
func (h *PageHandler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	svsID, err := strconv.Atoi(chi.URLParam(r, "svs_id"))
	if err != nil || svsID <= 0 {
		http.Error(w, "invalid svs id", http.StatusBadRequest)
		return
	}

	page, err := h.dbclient.GetPage(r.Context(), svsID)
	if err != nil {
		http.Error(w, fmt.Sprintf("get page failed: %v", err), http.StatusInternalServerError)
		return
	}
	if page == nil {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	if page.ThumbnailStorageURI == "" || h.objects == nil {
		if page.ThumbnailURL == "" {
			http.Error(w, "no thumbnail", http.StatusNotFound)
			return
		}
		http.Redirect(w, r, page.ThumbnailURL, http.StatusFound)
		return
	}

	key := storageKey(page.ThumbnailStorageURI)
	reader, err := h.objects.GetObjectReader(r.Context(), h.bucket, key)
	if err != nil {
		http.Error(w, fmt.Sprintf("thumbnail fetch failed: %v", err), http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentTypeForKey(key))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = io.Copy(w, reader)
}

// storageKey strips the bucket URL prefix from a stored object URI.
func storageKey(uri string) string {
	if i := strings.Index(uri, "/thumbnails/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".gif"):
		return "image/gif"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
