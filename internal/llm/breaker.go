package llm

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
)

// BreakerProvider guards a Provider with a circuit breaker. An open breaker
// fails fast with gobreaker.ErrOpenState, which callers treat like any other
// model failure.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps p; a nil breaker returns p unchanged
func WithBreaker(p Provider, cb *gobreaker.CircuitBreaker) Provider {
	if cb == nil || p == nil {
		return p
	}
	return &BreakerProvider{next: p, cb: cb}
}

// Name returns the wrapped provider name
func (b *BreakerProvider) Name() string {
	return b.next.Name()
}

// IsAvailable bypasses the breaker
func (b *BreakerProvider) IsAvailable(ctx context.Context) bool {
	return b.next.IsAvailable(ctx)
}

// Complete runs the call through the breaker. Caller cancellation is not
// counted as an oracle failure.
func (b *BreakerProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return b.execute(ctx, func(ctx context.Context) (*CompletionResponse, error) {
		return b.next.Complete(ctx, req)
	})
}

// Stream runs a streamed call through the breaker, falling back to a plain
// completion when the wrapped provider cannot stream. A failing onChunk
// means the reader went away and is not counted either.
func (b *BreakerProvider) Stream(ctx context.Context, req CompletionRequest, onChunk func(string) error) (*CompletionResponse, error) {
	var sinkErr error
	return b.execute(ctx, func(ctx context.Context) (*CompletionResponse, error) {
		resp, err := StreamOrComplete(ctx, b.next, req, func(chunk string) error {
			sinkErr = onChunk(chunk)
			return sinkErr
		})
		if err != nil && sinkErr != nil {
			return nil, errSink{sinkErr}
		}
		return resp, err
	})
}

// errSink carries a reader-side failure past the breaker
type errSink struct{ err error }

func (e errSink) Error() string { return e.err.Error() }
func (e errSink) Unwrap() error { return e.err }

func (b *BreakerProvider) execute(ctx context.Context, call func(context.Context) (*CompletionResponse, error)) (*CompletionResponse, error) {
	var uncounted error
	out, err := b.cb.Execute(func() (interface{}, error) {
		resp, err := call(ctx)
		var sink errSink
		switch {
		case err == nil:
		case ctx.Err() != nil:
			uncounted = err
			return nil, nil
		case errors.As(err, &sink):
			uncounted = sink.err
			return nil, nil
		}
		return resp, err
	})
	if uncounted != nil {
		return nil, uncounted
	}
	if err != nil {
		return nil, err
	}
	return out.(*CompletionResponse), nil
}
