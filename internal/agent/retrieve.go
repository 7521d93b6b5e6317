package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/askrepo/askrepo/internal/errors"
	"github.com/askrepo/askrepo/internal/session"
)

// retrieve embeds the query and pulls the closest chunks for the codebase,
// recording a citation source per chunk.
func (p *Pipeline) retrieve(ctx context.Context, state *State) error {
	embedding, err := p.embedder.Embed(ctx, state.Query)
	if err != nil {
		p.metrics.CountEmbedding("error")
		return errors.Wrap(errors.ErrCodeRetrievalFailed, err)
	}
	p.metrics.CountEmbedding("success")

	results, err := p.index.Query(ctx, embedding, state.CodebaseID, p.topK, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeRetrievalFailed, err)
	}

	for _, result := range results {
		state.Chunks = append(state.Chunks, result.Chunk)
		state.Sources = append(state.Sources, session.Citation{
			FilePath:  result.Chunk.FilePath,
			LineStart: result.Chunk.LineStart,
			LineEnd:   result.Chunk.LineEnd,
			Snippet:   snippet(result.Chunk.Content),
		})
	}
	state.Step = StepRetrieved

	p.logger.Info("retrieval_complete",
		slog.String("codebase_id", state.CodebaseID),
		slog.Int("chunks", len(state.Chunks)))
	return nil
}

func snippet(content string) string {
	if len(content) > snippetMaxChars {
		return content[:snippetMaxChars] + "..."
	}
	return content
}

// buildContext renders the retrieved chunks into the prompt context block.
func (p *Pipeline) buildContext(state *State) {
	parts := make([]string, 0, len(state.Chunks))
	for _, c := range state.Chunks {
		parts = append(parts, fmt.Sprintf("File: %s (Lines %d-%d)\n```%s\n%s\n```",
			c.FilePath, c.LineStart, c.LineEnd, c.Language, c.Content))
	}
	state.Context = strings.Join(parts, "\n\n")
	state.Step = StepContextBuilt
}
