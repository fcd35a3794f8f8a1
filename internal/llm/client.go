package llm

import (
	"context"
	"fmt"

	"github.com/lazypower/synapse/internal/config"
)

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
	Truncated  bool // provider stopped at the token limit
}

// Options are generation parameters shared by the providers.
type Options struct {
	MaxTokens   int
	Temperature float64
	System      string // instructions sent apart from the prompt where the provider allows
	JSON        bool   // ask the provider to constrain output to JSON
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
	if o.Temperature < 0 {
		o.Temperature = 0.3
	}
	return o
}

// NewClient creates an LLM client based on the config provider setting.
// The returned client retries failed calls and bounds each attempt by
// cfg.CallTimeout.
func NewClient(cfg config.LLMConfig) (Client, error) {
	base, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return WithRetry(base, RetryPolicy{
		Attempts: cfg.MaxAttempts,
		Backoff:  cfg.RetryBackoff,
		Timeout:  cfg.CallTimeout,
	}), nil
}

func newProvider(cfg config.LLMConfig) (Client, error) {
	opts := Options{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		System:      SystemPrompt,
		JSON:        true,
	}
	switch cfg.Provider {
	case "claude-cli":
		model := cfg.Model
		if model == "" {
			model = "haiku"
		}
		return NewClaudeCLI(model, opts), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model, opts), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model, opts), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
