package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/credence/internal/model"
)

type constructor func(Config) (Provider, error)

var providers = map[string]constructor{
	"openai":    func(c Config) (Provider, error) { return NewOpenAIProvider(c) },
	"anthropic": func(c Config) (Provider, error) { return NewAnthropicProvider(c) },
	"claude":    func(c Config) (Provider, error) { return NewAnthropicProvider(c) },
	"ollama":    func(c Config) (Provider, error) { return NewOllamaProvider(c) },
}

// NewProvider builds the provider named by config.Provider
func NewProvider(config Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(config.Provider))
	if name == "" {
		return nil, fmt.Errorf("no LLM provider configured (set llm::provider)")
	}
	build, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q (supported: %s)", config.Provider, strings.Join(Supported(), ", "))
	}
	return build(config)
}

// Supported lists the accepted provider names
func Supported() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigFromModel maps the llm section of the application config
func ConfigFromModel(c model.LLMConfig) Config {
	return Config{
		Provider:   c.Provider,
		Model:      c.Model,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Timeout:    c.Timeout,
		MaxTokens:  c.MaxTokens,
		HTTPProxy:  c.HTTPProxy,
		HTTPSProxy: c.HTTPSProxy,
		NoProxy:    c.NoProxy,
	}
}
