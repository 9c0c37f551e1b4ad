package embed

import (
	"context"

	"github.com/sony/gobreaker"
)

// WithBreaker guards next with cb; a nil breaker returns next unchanged
func WithBreaker(next Embedder, cb *gobreaker.CircuitBreaker) Embedder {
	if cb == nil {
		return next
	}
	return EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		out, err := cb.Execute(func() (interface{}, error) {
			return next.Embed(ctx, text)
		})
		if err != nil {
			return nil, err
		}
		return out.([]float32), nil
	})
}
