// Package llm is the language-model capability used by the planner: a
// single non-streaming completion call with token usage, and the error
// classes callers need to decide whether a retry is worthwhile.
package llm

import (
	"context"
	"time"
)

// Message represents a chat message sent to or received from the model.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Options configures a single completion request.
type Options struct {
	// System is the system prompt, sent outside the transcript.
	System      string
	MaxTokens   int64
	Temperature float64
	// Purpose labels the call for metrics (turn, structure, plan, ...).
	Purpose string
}

// Response is the result of a completion.
type Response struct {
	Content      string
	FinishReason string
	PromptTokens int64
	OutputTokens int64
}

// Truncated reports whether the model stopped at the token limit.
func (r *Response) Truncated() bool {
	return r.FinishReason == "length" || r.FinishReason == "max_tokens"
}

// Provider abstracts a language-model backend.
type Provider interface {
	// Complete sends the transcript and returns the full reply.
	Complete(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// Name returns the provider name (e.g. "openai").
	Name() string

	// Available returns true if the provider is configured and ready.
	Available() bool
}

// Config holds provider configuration.
type Config struct {
	// Provider selects the wire protocol: "openai" (default) or "anthropic".
	Provider    string
	APIKey      string
	Model       string
	Endpoint    string // base URL override (Ollama, vLLM, Azure, proxies)
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

// DefaultConfig returns defaults for an OpenAI-compatible backend.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Model:       "gpt-4o",
		MaxTokens:   4096,
		Temperature: 0.7,
		Timeout:     90 * time.Second,
	}
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) Provider {
	if cfg.Provider == "anthropic" {
		return NewAnthropicProvider(cfg)
	}
	return NewOpenAIProvider(cfg)
}
