// Package fetch retrieves cited and ingested pages politely: robots.txt,
// per-host rate limits, size caps and a page cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/cache"
	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/util"
	"github.com/ppiankov/credence/internal/worker"
)

// ErrDisallowed is returned when robots.txt forbids the URL
var ErrDisallowed = errors.New("fetch: disallowed by robots.txt")

// Page is a fetched document
type Page struct {
	URL          string     `json:"url"`
	FinalURL     string     `json:"final_url"`
	StatusCode   int        `json:"status"`
	ContentType  string     `json:"content_type,omitempty"`
	Title        string     `json:"title,omitempty"`
	Text         string     `json:"text"`
	Links        []string   `json:"links,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// Fetcher fetches pages over HTTP
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	limiter    *worker.Limiter
	robots     *RobotsChecker
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithRobots enables robots.txt checks
func WithRobots(r *RobotsChecker) Option {
	return func(f *Fetcher) { f.robots = r }
}

// WithLimiter enables per-host rate limiting
func WithLimiter(l *worker.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithCache caches successful fetches for ttl
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = c
		f.cacheTTL = ttl
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher from HTTP configuration
func New(cfg model.HTTPConfig, opts ...Option) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2_000_000
	}

	client := util.NewHTTPClient(timeout, cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("stopped after 5 redirects")
		}
		return nil
	}

	f := &Fetcher{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		maxBytes:   maxBytes,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves rawURL and extracts its readable text. Non-2xx responses
// are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	key := cache.Key(cache.NamespacePage, rawURL)
	var cached Page
	if cache.GetJSON(f.cache, key, &cached) {
		return &cached, nil
	}

	var crawlDelay time.Duration
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
		crawlDelay = delay
	}
	if f.limiter != nil {
		f.limiter.ApplyCrawlDelay(rawURL, crawlDelay)
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	f.setHeaders(req)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	page := &Page{
		URL:          rawURL,
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: parseLastModified(resp.Header.Get("Last-Modified")),
	}

	if isHTML(page.ContentType, body) {
		doc := string(body)
		page.Title, page.Text = ExtractText(doc)
		page.Links = ExtractLinks(doc, page.FinalURL)
	} else {
		page.Text = strings.TrimSpace(string(body))
	}

	if err := cache.SetJSON(f.cache, key, page, f.cacheTTL); err != nil {
		f.logger.Debug("page cache write failed", zap.String("url", rawURL), zap.Error(err))
	}
	return page, nil
}

func (f *Fetcher) setHeaders(req *http.Request) {
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

func isHTML(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") {
		return true
	}
	if ct != "" && !strings.HasPrefix(ct, "application/octet-stream") {
		return false
	}
	return strings.Contains(strings.ToLower(http.DetectContentType(body)), "html")
}

// parseLastModified accepts the HTTP date formats servers send
func parseLastModified(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return nil
	}
	return &t
}
