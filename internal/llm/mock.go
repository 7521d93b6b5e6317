package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider returns scripted responses for tests and local development.
// Set Response or ChatFunc to control output; Err forces a failure.
type MockProvider struct {
	model    string
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider.
func NewMockProvider(model string) *MockProvider {
	if model == "" {
		model = "mock-model"
	}
	return &MockProvider{model: model}
}

func (p *MockProvider) Name() string { return "mock" }

// Chat returns the scripted response, or echoes the last user message.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if p.ChatFunc != nil {
		return p.ChatFunc(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}

	content := p.Response
	if content == "" {
		last := ""
		if len(req.Messages) > 0 {
			last = req.Messages[len(req.Messages)-1].Content
		}
		content = fmt.Sprintf("[mock] response to: %.50s", last)
	}
	return &ChatResponse{
		Content:      content,
		Model:        p.model,
		PromptTokens: 50,
		OutputTokens: len(content) / 4,
	}, nil
}

// ChatStream splits the scripted response into word-sized chunks.
func (p *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		words := strings.SplitAfter(resp.Content, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			select {
			case out <- StreamChunk{Delta: w}:
			case <-ctx.Done():
				out <- StreamChunk{Done: true, Err: ctx.Err()}
				return
			}
		}
		out <- StreamChunk{Done: true}
	}()
	return out, nil
}

// Available always reports true.
func (p *MockProvider) Available(_ context.Context) bool { return true }
