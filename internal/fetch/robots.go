package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// robots.txt bodies past this size are truncated before parsing
const maxRobotsBytes = 512 << 10

// RobotsChecker answers robots.txt questions for cited and ingested URLs.
// Rules are fetched once per origin and kept for the checker's lifetime;
// concurrent lookups of a cold origin share one download.
type RobotsChecker struct {
	client *http.Client
	ua     string
	agent  string

	mu    sync.RWMutex
	rules map[string]*robotstxt.RobotsData
	group singleflight.Group
}

// NewRobotsChecker builds a checker identifying itself as userAgent
func NewRobotsChecker(userAgent string, timeout time.Duration) *RobotsChecker {
	return &RobotsChecker{
		client: &http.Client{Timeout: timeout},
		ua:     userAgent,
		agent:  NormalizeUserAgent(userAgent),
		rules:  map[string]*robotstxt.RobotsData{},
	}
}

// CanFetch reports whether rawURL may be fetched and the crawl delay its
// origin asks for. An origin whose robots.txt cannot be read is open.
func (r *RobotsChecker) CanFetch(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, 0, fmt.Errorf("parse URL: %w", err)
	}
	if u.Host == "" {
		return false, 0, fmt.Errorf("parse URL: no host in %q", rawURL)
	}

	data, err := r.rulesFor(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		return true, 0, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, r.agent), data.FindGroup(r.agent).CrawlDelay, nil
}

func (r *RobotsChecker) rulesFor(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, ok := r.rules[origin]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := r.group.Do(origin, func() (interface{}, error) {
		data, err := r.download(ctx, origin)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.rules[origin] = data
		r.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotstxt.RobotsData), nil
}

func (r *RobotsChecker) download(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.ua)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("robots.txt for %s: %w", origin, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("robots.txt for %s: %w", origin, err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("robots.txt for %s: %w", origin, err)
	}
	return data, nil
}

// NormalizeUserAgent keeps the product token of a User-Agent header, so
// "credence/0.1 (+url)" matches robots.txt groups for "credence"
func NormalizeUserAgent(ua string) string {
	product, _, _ := strings.Cut(strings.TrimSpace(ua), " ")
	product, _, _ = strings.Cut(product, "/")
	return product
}
