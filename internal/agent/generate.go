package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/askrepo/askrepo/internal/errors"
	"github.com/askrepo/askrepo/internal/llm"
)

const systemPromptTemplate = `You are an expert code documentation assistant. Your role is to help developers understand codebases by analyzing the provided code.

CONTEXT:
%s

INSTRUCTIONS:
1. Answer based ONLY on the provided code
2. Cite specific files and line numbers
3. Explain technical concepts clearly
4. If uncertain, say "I don't see this in the provided code"
5. For "how does X work" questions, trace through the code execution
6. Format code references as: ` + "`file_path:line_start-line_end`"

// generate streams the answer from the LLM, forwarding each fragment to
// onDelta and accumulating the full response on the state.
func (p *Pipeline) generate(ctx context.Context, state *State, onDelta func(string)) error {
	context_ := state.Context
	if len(context_) > p.maxContextChars {
		context_ = context_[:p.maxContextChars]
	}

	messages := []llm.Message{{Role: "system", Content: systemPrompt(context_)}}
	history := state.History
	if len(history) > promptHistoryLimit {
		history = history[len(history)-promptHistoryLimit:]
	}
	for _, msg := range history {
		if msg.Role == "user" || msg.Role == "assistant" {
			messages = append(messages, msg)
		}
	}
	messages = append(messages, llm.Message{Role: "user", Content: state.Query})

	stream, err := p.provider.ChatStream(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		p.metrics.CountLLM("error")
		return errors.Wrap(errors.ErrCodeLLMFailed, err)
	}

	var response strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			p.metrics.CountLLM("error")
			return errors.Wrap(errors.ErrCodeLLMFailed, chunk.Err)
		}
		if chunk.Delta != "" {
			response.WriteString(chunk.Delta)
			if onDelta != nil {
				onDelta(chunk.Delta)
			}
		}
	}

	p.metrics.CountLLM("success")
	state.Response = response.String()
	state.Step = StepResponded

	p.logger.Info("response_generated",
		slog.Int("response_chars", len(state.Response)),
		slog.Int("history_messages", len(history)))
	return nil
}

func systemPrompt(context string) string {
	return strings.Replace(systemPromptTemplate, "%s", context, 1)
}
