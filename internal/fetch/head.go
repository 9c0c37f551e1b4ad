package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const headMaxRetries = 3

// headSleepFunc is the sleep function used between retries (injectable for tests)
var headSleepFunc = time.Sleep

// HeadInfo is what a HEAD probe learns about a URL
type HeadInfo struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	LastModified  *time.Time
}

// Head probes rawURL without downloading the body, retrying transient
// failures with exponential backoff.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (*HeadInfo, error) {
	var (
		info *HeadInfo
		err  error
	)
	for attempt := 0; attempt < headMaxRetries; attempt++ {
		info, err = f.headOnce(ctx, rawURL)
		if !isRetryableHead(info, err) || ctx.Err() != nil {
			break
		}
		if attempt < headMaxRetries-1 {
			headSleepFunc(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return info, err
}

func (f *Fetcher) headOnce(ctx context.Context, rawURL string) (*HeadInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	f.setHeaders(req)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return &HeadInfo{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		LastModified:  parseLastModified(resp.Header.Get("Last-Modified")),
	}, nil
}

// isRetryableHead is true for 5xx, 429 and transient network errors
func isRetryableHead(info *HeadInfo, err error) bool {
	if err != nil {
		s := strings.ToLower(err.Error())
		return strings.Contains(s, "timeout") ||
			strings.Contains(s, "connection refused") ||
			strings.Contains(s, "connection reset")
	}
	if info == nil {
		return false
	}
	return info.StatusCode == http.StatusTooManyRequests || (info.StatusCode >= 500 && info.StatusCode < 600)
}
