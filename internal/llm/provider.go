package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model answers with no content
var ErrEmptyResponse = errors.New("empty model response")

// Provider defines the interface for language-model providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete runs one chat completion
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Streamer is implemented by providers that can deliver a completion in
// pieces. onChunk sees each piece in order; an error from it ends the call.
type Streamer interface {
	Stream(ctx context.Context, req CompletionRequest, onChunk func(string) error) (*CompletionResponse, error)
}

// StreamOrComplete streams req when p supports it. Otherwise it runs a
// plain completion and hands the whole text to onChunk once.
func StreamOrComplete(ctx context.Context, p Provider, req CompletionRequest, onChunk func(string) error) (*CompletionResponse, error) {
	if s, ok := p.(Streamer); ok {
		return s.Stream(ctx, req, onChunk)
	}
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := onChunk(resp.Text); err != nil {
		return nil, err
	}
	return resp, nil
}

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest contains the input for one model call
type CompletionRequest struct {
	// System is the optional system prompt
	System string

	Messages []Message

	// Model overrides the configured model
	Model string

	Temperature float32
	MaxTokens   int

	// JSONMode asks the provider to return a single JSON object
	JSONMode bool
}

// CompletionResponse contains the model output
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, OpenAI-compatible gateways)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens is used when a request does not set its own
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Timeout:   30,
		MaxTokens: 1000,
	}
}

// User builds a single-message conversation
func User(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}

func resolveMaxTokens(req CompletionRequest, cfg Config) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 1000
}
