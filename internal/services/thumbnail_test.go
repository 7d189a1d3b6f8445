package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svscope/svscope/internal/models"
)

type fakeObjects struct {
	uploads map[string][]byte
	types   map[string]string
}

func (o *fakeObjects) UploadFile(_ context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if o.uploads == nil {
		o.uploads = map[string][]byte{}
		o.types = map[string]string{}
	}
	o.uploads[key] = data
	o.types[key] = contentType
	return fmt.Sprintf("https://%s.example.com/%s", bucket, key), nil
}

func (o *fakeObjects) DeleteFile(_ context.Context, _, _ string) error { return nil }

func (o *fakeObjects) GetFile(_ context.Context, _, _ string) ([]byte, error) { return nil, nil }

func (o *fakeObjects) GetObjectReader(_ context.Context, _, _ string) (io.ReadCloser, error) {
	return nil, nil
}

func TestCachePending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "png-bytes")
	}))
	defer srv.Close()

	store := &fakeSearchStore{
		thumbPages: []models.Page{
			{SvsID: 5187, ThumbnailURL: srv.URL + "/poster.png"},
			{SvsID: 100, ThumbnailURL: srv.URL + "/missing.jpg"},
		},
	}
	objects := &fakeObjects{}
	svc := NewThumbnailService(store, objects, "thumbs", quietLog())

	stats, err := svc.CachePending(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, CacheStats{Processed: 2, Cached: 1, Errors: 1}, stats)

	require.Contains(t, objects.uploads, "thumbnails/pages/5187.png")
	assert.Equal(t, []byte("png-bytes"), objects.uploads["thumbnails/pages/5187.png"])
	assert.Equal(t, "image/png", objects.types["thumbnails/pages/5187.png"])

	assert.Equal(t, "https://thumbs.example.com/thumbnails/pages/5187.png", store.thumbURIs[5187])
	assert.NotContains(t, store.thumbURIs, 100)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", extensionFor("https://x/poster.png?size=1", "image/jpeg"))
	assert.Equal(t, ".webp", extensionFor("https://x/poster", "image/webp"))
	assert.Equal(t, ".jpg", extensionFor("https://x/poster", "image/jpeg"))
}
