package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SVS API defaults.
const (
	DefaultBaseURL    = "https://svs.gsfc.nasa.gov"
	DefaultRateLimit  = 2.0
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second

	searchMaxLimit = 2000
	userAgent      = "SVScope/1.0 (NASA SVS knowledge browser; research project)"
)

// SearchResult is one entry from the SVS search API.
type SearchResult struct {
	ID          int    `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ReleaseDate string `json:"release_date"`
	ResultType  string `json:"result_type"`
}

// SearchResponse is one page of SVS search results.
type SearchResponse struct {
	Count       int            `json:"count"`
	Results     []SearchResult `json:"results"`
	NextURL     string         `json:"next"`
	PreviousURL string         `json:"previous"`
}

// StatusError reports a non-retryable HTTP status from the SVS site.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("svs: unexpected status %d for %s", e.Code, e.URL)
}

// Client talks to the SVS API and page server with rate limiting and
// retries. Requests are spaced to at most rateLimit per second; 429 and
// 5xx responses and network errors are retried with exponential backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        *logrus.Entry
}

// NewClient builds a Client. rateLimit is requests per second.
func NewClient(baseURL string, rateLimit float64, maxRetries int, retryDelay time.Duration, log *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rateLimit), 1),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		sleep:      sleepContext,
		log:        log.WithField("component", "svs_client"),
	}
}

// BaseURL returns the configured site root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// do performs one rate-limited request with retries and returns the
// response body. A non-retryable HTTP error is returned as *StatusError.
func (c *Client) do(ctx context.Context, method, rawURL string) ([]byte, int, error) {
	var lastErr error

	// The initial attempt plus maxRetries retries. No sleep after the
	// last failure; the error surfaces immediately.
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("svs: build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt == c.maxRetries {
				break
			}
			wait := c.backoff(attempt)
			c.log.WithError(err).Warnf("request error on attempt %d, retrying in %s: %s", attempt+1, wait, rawURL)
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, 0, serr
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				lastErr = readErr
				if attempt == c.maxRetries {
					break
				}
				wait := c.backoff(attempt)
				if serr := c.sleep(ctx, wait); serr != nil {
					return nil, 0, serr
				}
				continue
			}
			return body, resp.StatusCode, nil
		}

		statusErr := &StatusError{Code: resp.StatusCode, URL: rawURL}
		if !retryableStatus(resp.StatusCode) {
			return nil, resp.StatusCode, statusErr
		}
		lastErr = statusErr
		if attempt == c.maxRetries {
			break
		}
		wait := c.backoff(attempt)
		c.log.Warnf("HTTP %d on attempt %d, retrying in %s: %s", resp.StatusCode, attempt+1, wait, rawURL)
		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, 0, serr
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("svs: request failed after %d retries", c.maxRetries)
	}
	return nil, 0, lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.retryDelay * (1 << attempt)
}

// Search queries the SVS search API. The limit is capped at the API's
// maximum page size.
func (c *Client) Search(ctx context.Context, query string, missions []string, limit, offset int) (*SearchResponse, error) {
	if limit > searchMaxLimit {
		limit = searchMaxLimit
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	if query != "" {
		params.Set("search", query)
	}
	if len(missions) > 0 {
		params.Set("missions", strings.Join(missions, ","))
	}

	body, _, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/search/?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("svs: decode search response: %w", err)
	}
	if out.Count == 0 {
		out.Count = len(out.Results)
	}
	for i := range out.Results {
		if out.Results[i].URL == "" {
			out.Results[i].URL = fmt.Sprintf("%s/%d", c.baseURL, out.Results[i].ID)
		}
		if out.Results[i].ResultType == "" {
			out.Results[i].ResultType = "visualization"
		}
	}
	return &out, nil
}

// DiscoverAllPages walks the search API until every page is seen.
// progress, when non-nil, is called after each batch with (fetched, total).
func (c *Client) DiscoverAllPages(ctx context.Context, batchSize int, progress func(current, total int)) ([]SearchResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	first, err := c.Search(ctx, "", nil, batchSize, 0)
	if err != nil {
		return nil, err
	}
	total := first.Count
	all := append([]SearchResult(nil), first.Results...)

	c.log.Infof("discovered %d total SVS pages", total)
	if progress != nil {
		progress(len(all), total)
	}

	for offset := batchSize; offset < total; offset += batchSize {
		resp, err := c.Search(ctx, "", nil, batchSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Results...)
		if progress != nil {
			progress(len(all), total)
		}
		c.log.Debugf("fetched %d/%d pages", len(all), total)
	}
	return all, nil
}

// FetchPageHTML downloads the raw HTML of one SVS page.
func (c *Client) FetchPageHTML(ctx context.Context, svsID int) (string, error) {
	body, _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%d", c.baseURL, svsID))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// CheckPageExists issues a HEAD request. A 404 means the page does not
// exist and is not an error.
func (c *Client) CheckPageExists(ctx context.Context, svsID int) (bool, error) {
	_, status, err := c.do(ctx, http.MethodHead, fmt.Sprintf("%s/%d", c.baseURL, svsID))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return status == http.StatusOK, nil
}
