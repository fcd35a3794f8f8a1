package llm

import (
	"context"
	"net/http"
	"strings"
)

// Ollama calls a local Ollama instance.
type Ollama struct {
	url    string
	model  string
	opts   Options
	client *http.Client
}

// NewOllama creates a new Ollama client.
func NewOllama(url, model string, opts Options) *Ollama {
	return &Ollama{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		opts:   opts.withDefaults(),
		client: &http.Client{},
	}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type ollamaResponse struct {
	Response   string `json:"response"`
	DoneReason string `json:"done_reason"`
	EvalCount  int    `json:"eval_count"`
}

// Complete sends a prompt to Ollama's generate endpoint. In JSON mode the
// model is constrained to emit a single JSON value.
func (o *Ollama) Complete(ctx context.Context, prompt string) (*Response, error) {
	req := ollamaRequest{
		Model:  o.model,
		Prompt: prompt,
		System: o.opts.System,
		Options: map[string]any{
			"temperature": o.opts.Temperature,
			"num_predict": o.opts.MaxTokens,
		},
	}
	if o.opts.JSON {
		req.Format = "json"
	}

	var result ollamaResponse
	if err := postJSON(ctx, o.client, "ollama", o.url+"/api/generate", nil, req, &result); err != nil {
		return nil, err
	}

	return &Response{
		Content:    result.Response,
		Provider:   "ollama",
		TokensUsed: result.EvalCount,
		Truncated:  result.DoneReason == "length",
	}, nil
}
