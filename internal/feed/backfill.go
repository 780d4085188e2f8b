package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/yfeed/internal/logging"
	"github.com/tOgg1/yfeed/internal/models"
)

// RecentPostsPath is the backfill endpoint relative to the base URL.
const RecentPostsPath = "/recent-posts"

const (
	defaultFetchTimeout = 10 * time.Second

	// maxBackfillBody caps how much of a response is read.
	maxBackfillBody = 4 << 20
)

// Fetcher retrieves the most recent posts, newest first.
type Fetcher interface {
	FetchRecent(ctx context.Context, limit int) ([]models.Post, error)
}

// HTTPFetcher implements Fetcher against GET <base>/recent-posts?limit=N.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// HTTPFetcherOption configures an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithFetchTimeout sets the per-request timeout of the default client.
func WithFetchTimeout(d time.Duration) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.client = &http.Client{Timeout: d}
		}
	}
}

// WithFetchLogger sets the logger used for dropped entries.
func WithFetchLogger(logger zerolog.Logger) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// NewHTTPFetcher creates a fetcher rooted at baseURL.
func NewHTTPFetcher(baseURL string, opts ...HTTPFetcherOption) (*HTTPFetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	f := &HTTPFetcher{
		baseURL: base,
		client:  &http.Client{Timeout: defaultFetchTimeout},
		logger:  logging.Component("backfill"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// FetchRecent asks for up to limit posts. Any failure is a *FetchError.
// Individual entries that fail to decode or validate are dropped.
func (f *HTTPFetcher) FetchRecent(ctx context.Context, limit int) ([]models.Post, error) {
	if limit < 0 {
		limit = 0
	}
	endpoint := f.baseURL + RecentPostsPath + "?limit=" + strconv.Itoa(limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBackfillBody))
		return nil, &FetchError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBackfillBody)).Decode(&raw); err != nil {
		return nil, &FetchError{URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}

	posts := make([]models.Post, 0, len(raw))
	for i, item := range raw {
		var post models.Post
		if err := json.Unmarshal(item, &post); err != nil {
			f.logger.Warn().Err(err).Int("index", i).Msg("dropping undecodable backfill entry")
			continue
		}
		if err := post.Validate(); err != nil {
			f.logger.Warn().Err(err).Int("index", i).Msg("dropping invalid backfill entry")
			continue
		}
		posts = append(posts, post)
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}
