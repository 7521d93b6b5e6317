// Package llm provides a unified interface for chat completion providers
// with token streaming. Supports OpenAI-compatible APIs, Anthropic, and a
// mock backend for tests.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Default request bounds.
const (
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 4096
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse is a complete (non-streamed) chat completion.
type ChatResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	PromptTokens int           `json:"prompt_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// StreamChunk is one increment of a streamed completion. Err is set on the
// final chunk when the stream failed mid-way.
type StreamChunk struct {
	Delta string
	Done  bool
	Err   error
}

// Provider defines the interface for chat completion backends.
type Provider interface {
	// Chat produces a complete response in one call.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream produces a response incrementally. The returned channel is
	// closed after the final chunk. Cancel ctx to abandon the stream.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)

	// Name returns the provider identifier.
	Name() string

	// Available checks whether the provider is reachable.
	Available(ctx context.Context) bool
}

// Config selects and configures a provider.
type Config struct {
	// Provider type: "openai", "anthropic", "mock"
	Provider string

	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// New creates a Provider from configuration.
func New(cfg Config) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	switch strings.ToLower(cfg.Provider) {
	case "openai", "openai-compatible", "":
		return newOpenAIProvider(cfg), nil
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	case "mock":
		return NewMockProvider(cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (supported: openai, anthropic, mock)", cfg.Provider)
	}
}
