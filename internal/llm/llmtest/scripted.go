// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ppiankov/credence/internal/llm"
)

// ErrUnscripted is returned when no rule matches and no default is set
var ErrUnscripted = errors.New("llmtest: no scripted reply")

type rule struct {
	match string
	reply string
	err   error
}

// Scripted answers each request with the first rule whose match string
// appears in the system prompt or any message.
type Scripted struct {
	mu    sync.Mutex
	rules []rule
	calls []llm.CompletionRequest
}

// New returns an empty script
func New() *Scripted {
	return &Scripted{}
}

// On replies with reply when match is found
func (s *Scripted) On(match, reply string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{match: match, reply: reply})
	return s
}

// Fail returns err when match is found
func (s *Scripted) Fail(match string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{match: match, err: err})
	return s
}

// Name returns "scripted"
func (s *Scripted) Name() string { return "scripted" }

// IsAvailable always returns true
func (s *Scripted) IsAvailable(context.Context) bool { return true }

// Complete implements llm.Provider
func (s *Scripted) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	reply, err := s.reply(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: reply, Model: "scripted"}, nil
}

// Stream implements llm.Streamer, delivering the reply word by word
func (s *Scripted) Stream(ctx context.Context, req llm.CompletionRequest, onChunk func(string) error) (*llm.CompletionResponse, error) {
	reply, err := s.reply(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, chunk := range strings.SplitAfter(reply, " ") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := onChunk(chunk); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Text: reply, Model: "scripted"}, nil
}

func (s *Scripted) reply(ctx context.Context, req llm.CompletionRequest) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	rules := s.rules
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	var haystack strings.Builder
	haystack.WriteString(req.System)
	for _, m := range req.Messages {
		haystack.WriteString("\n")
		haystack.WriteString(m.Content)
	}
	text := haystack.String()

	for _, r := range rules {
		if strings.Contains(text, r.match) {
			if r.err != nil {
				return "", r.err
			}
			return r.reply, nil
		}
	}
	return "", ErrUnscripted
}

// CompleteOnly hides Stream, for exercising non-streaming fallbacks
type CompleteOnly struct{ llm.Provider }

// Calls returns every request seen so far
func (s *Scripted) Calls() []llm.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.CompletionRequest, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of requests seen so far
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
