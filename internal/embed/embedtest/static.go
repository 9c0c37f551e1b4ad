// Package embedtest provides deterministic embedders for tests.
package embedtest

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnknownText is returned when Static has no vector for the text
var ErrUnknownText = errors.New("embedtest: no vector for text")

// Static returns fixed vectors. A text matches the first registered key it
// contains; the default vector, when set, answers everything else.
type Static struct {
	mu      sync.Mutex
	keys    []string
	vectors map[string][]float32
	def     []float32
	err     error
	calls   int
}

// New returns an empty Static embedder
func New() *Static {
	return &Static{vectors: make(map[string][]float32)}
}

// On maps texts containing key to vec
func (s *Static) On(key string, vec ...float32) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.vectors[key] = vec
	return s
}

// Default sets the vector for unmatched texts
func (s *Static) Default(vec ...float32) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = vec
	return s
}

// FailWith makes every call return err
func (s *Static) FailWith(err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Embed implements embed.Embedder
func (s *Static) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	for _, k := range s.keys {
		if strings.Contains(text, k) {
			return s.vectors[k], nil
		}
	}
	if s.def != nil {
		return s.def, nil
	}
	return nil, ErrUnknownText
}

// Calls returns the number of Embed calls
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
