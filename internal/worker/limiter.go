package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/credence/internal/authority"
)

const defaultBurst = 5

// Limiter keeps one token bucket per host. "www.uscis.gov" and "uscis.gov"
// share a bucket. A host that publishes a robots.txt crawl delay is slowed
// to one request per delay and never sped up again.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
}

// NewLimiter allows requestsPerSecond per host; a non-positive rate means
// no limit
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = defaultBurst
	}
	every := rate.Inf
	if requestsPerSecond > 0 {
		every = rate.Limit(requestsPerSecond)
	}
	return &Limiter{buckets: make(map[string]*rate.Limiter), every: every, burst: burst}
}

// Wait blocks until rawURL's host has a token or ctx ends
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	b, err := l.bucketFor(rawURL)
	if err != nil {
		return err
	}
	return b.Wait(ctx)
}

// Allow takes a token without waiting
func (l *Limiter) Allow(rawURL string) bool {
	b, err := l.bucketFor(rawURL)
	return err == nil && b.Allow()
}

// ApplyCrawlDelay slows rawURL's host to one request per delay when that is
// slower than its current rate
func (l *Limiter) ApplyCrawlDelay(rawURL string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	b, err := l.bucketFor(rawURL)
	if err != nil {
		return
	}
	slow := rate.Every(delay)
	if slow < b.Limit() {
		b.SetLimit(slow)
		b.SetBurst(1)
	}
}

func (l *Limiter) bucketFor(rawURL string) (*rate.Limiter, error) {
	host := authority.Host(rawURL)
	if host == "" {
		return nil, fmt.Errorf("rate limit: no host in %q", rawURL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[host] = b
	}
	return b, nil
}
