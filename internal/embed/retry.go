package embed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/breaker"
)

// sleepFunc waits between retries (injectable for tests)
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrying retries a failed embedding with doubling backoff (base, 2*base...)
type Retrying struct {
	next     Embedder
	attempts int
	base     time.Duration
	logger   *zap.Logger
}

// WithRetry wraps next; attempts below 2 disable retrying and a
// non-positive base means one second
func WithRetry(next Embedder, attempts int, base time.Duration, logger *zap.Logger) Embedder {
	if next == nil || attempts < 2 {
		return next
	}
	if base <= 0 {
		base = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, attempts: attempts, base: base, logger: logger}
}

// Embed implements Embedder
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		vec, err := r.next.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == r.attempts-1 {
			break
		}

		backoff := r.base << uint(attempt)
		r.logger.Debug("embedding failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleepFunc(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err == ErrEmptyInput || breaker.IsOpen(err) {
		return false
	}
	return true
}
