package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(Config{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	p, err = New(Config{Provider: "openai", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = New(Config{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = New(Config{Provider: "telegraph"})
	require.Error(t, err)
}

func TestMockChatStream(t *testing.T) {
	p := NewMockProvider("")
	p.Response = "alpha beta gamma"

	ch, err := p.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	var parts []string
	done := false
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		if chunk.Done {
			done = true
			continue
		}
		parts = append(parts, chunk.Delta)
	}
	assert.True(t, done)
	assert.Equal(t, "alpha beta gamma", strings.Join(parts, ""))
	assert.Greater(t, len(parts), 1, "response is split across chunks")
}

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "the answer"}}],
			"model": "glm-4.6",
			"usage": {"prompt_tokens": 10, "completion_tokens": 3}
		}`)
	}))
	defer srv.Close()

	p := newOpenAIProvider(Config{BaseURL: srv.URL, APIKey: "k", Model: "glm-4.6"})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "question"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, "glm-4.6", resp.Model)
	assert.Equal(t, 10, resp.PromptTokens)
}

func TestOpenAIChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newOpenAIProvider(Config{BaseURL: srv.URL, Model: "glm-4.6"})
	ch, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var text strings.Builder
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text.WriteString(chunk.Delta)
	}
	assert.Equal(t, "Hello", text.String())
}

func TestOpenAIChatStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newOpenAIProvider(Config{BaseURL: srv.URL})
	_, err := p.ChatStream(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestAnthropicChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		fmt.Fprint(w, `{
			"content": [{"type": "text", "text": "claude says hi"}],
			"model": "claude-sonnet-4-5",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`)
	}))
	defer srv.Close()

	p := newAnthropicProvider(Config{BaseURL: srv.URL, APIKey: "k", MaxTokens: 1024})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "claude says hi", resp.Content)
	assert.Equal(t, 12, resp.PromptTokens)
}

func TestAnthropicChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_delta\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi \"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"there\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	p := newAnthropicProvider(Config{BaseURL: srv.URL, APIKey: "k"})
	ch, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var text strings.Builder
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text.WriteString(chunk.Delta)
	}
	assert.Equal(t, "Hi there", text.String())
}
