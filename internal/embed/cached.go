package embed

import (
	"context"
	"strings"
	"time"

	"github.com/ppiankov/credence/internal/cache"
)

// Cached memoizes vectors by model and text
type Cached struct {
	next  Embedder
	store cache.Cache
	model string
	ttl   time.Duration
}

// WithCache wraps next; a nil store returns next unchanged
func WithCache(next Embedder, store cache.Cache, modelName string, ttl time.Duration) Embedder {
	if store == nil {
		return next
	}
	return &Cached{next: next, store: store, model: modelName, ttl: ttl}
}

// Embed implements Embedder
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key(cache.NamespaceEmbedding, c.model+"\x00"+strings.TrimSpace(text))

	var vec []float32
	if cache.GetJSON(c.store, key, &vec) && len(vec) > 0 {
		return vec, nil
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = cache.SetJSON(c.store, key, vec, c.ttl)
	return vec, nil
}
