package chunk

import (
	"context"
	"log/slog"
	"strings"
)

// Chunker turns source files into semantic chunks. It is not safe for
// concurrent use; the ingestion worker pool creates one per worker.
type Chunker struct {
	parser    *Parser
	registry  *LanguageRegistry
	maxTokens int
}

// NewChunker creates a chunker with the default language registry.
func NewChunker(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{
		parser:    NewParser(),
		registry:  DefaultRegistry(),
		maxTokens: maxTokens,
	}
}

// Close releases parser resources.
func (c *Chunker) Close() {
	c.parser.Close()
}

// ChunkFile parses one file and emits its chunks. Files whose extension is
// not in the language table yield (nil, nil). A parse failure also yields an
// empty result: the file is skipped with a warning, never a pipeline error.
func (c *Chunker) ChunkFile(ctx context.Context, filePath, content string) []*Chunk {
	language := c.registry.DetectLanguage(filePath)
	if language == "" {
		return nil
	}

	tree, err := c.parser.Parse(ctx, []byte(content), language)
	if err != nil {
		slog.Warn("parse_failed",
			slog.String("file_path", filePath),
			slog.String("language", language),
			slog.String("error", err.Error()))
		return nil
	}

	config, _ := c.registry.GetByName(language)
	parsed := Extract(tree, config, filePath)
	return c.Emit(parsed, content)
}

// Emit applies the chunk emission rules to an extracted file:
//   - each function >= MinFunctionTokens becomes one chunk, shorter dropped
//   - each class becomes one chunk, truncated at maxTokens with a marker
//   - all imports collapse into one chunk spanning first to last import line
func (c *Chunker) Emit(parsed *ParsedFile, content string) []*Chunk {
	lines := strings.Split(content, "\n")
	var chunks []*Chunk

	for _, fn := range parsed.Functions {
		text := sliceLines(lines, fn.LineStart, fn.LineEnd)
		if len(text)/BytesPerToken < MinFunctionTokens {
			continue
		}
		truncated := false
		if len(text)/BytesPerToken > c.maxTokens {
			text = truncate(text, c.maxTokens)
			truncated = true
		}
		chunks = append(chunks, &Chunk{
			FilePath:   parsed.FilePath,
			LineStart:  fn.LineStart,
			LineEnd:    fn.LineEnd,
			Content:    text,
			Language:   parsed.Language,
			Type:       TypeFunction,
			Name:       fn.Name,
			Complexity: parsed.Complexity,
			Metadata:   truncatedMeta(truncated),
		})
	}

	for _, cls := range parsed.Classes {
		text := sliceLines(lines, cls.LineStart, cls.LineEnd)
		truncated := false
		if len(text)/BytesPerToken > c.maxTokens {
			text = truncate(text, c.maxTokens)
			truncated = true
		}
		chunks = append(chunks, &Chunk{
			FilePath:   parsed.FilePath,
			LineStart:  cls.LineStart,
			LineEnd:    cls.LineEnd,
			Content:    text,
			Language:   parsed.Language,
			Type:       TypeClass,
			Name:       cls.Name,
			Complexity: parsed.Complexity,
			Metadata:   truncatedMeta(truncated),
		})
	}

	if len(parsed.Imports) > 0 {
		first, last := parsed.Imports[0].LineStart, parsed.Imports[0].LineEnd
		texts := make([]string, 0, len(parsed.Imports))
		for _, imp := range parsed.Imports {
			texts = append(texts, imp.Text)
			if imp.LineStart < first {
				first = imp.LineStart
			}
			if imp.LineEnd > last {
				last = imp.LineEnd
			}
		}
		chunks = append(chunks, &Chunk{
			FilePath:  parsed.FilePath,
			LineStart: first,
			LineEnd:   last,
			Content:   strings.Join(texts, "\n"),
			Language:  parsed.Language,
			Type:      TypeImport,
		})
	}

	return chunks
}

// sliceLines returns the inclusive 1-indexed line span joined by newlines.
func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// truncate cuts content at the last newline inside maxTokens*BytesPerToken
// bytes and appends a truncation marker.
func truncate(content string, maxTokens int) string {
	maxBytes := maxTokens * BytesPerToken
	if len(content) <= maxBytes {
		return content
	}

	cut := content[:maxBytes]
	if idx := strings.LastIndex(cut, "\n"); idx > maxBytes/2 {
		cut = content[:idx]
	}
	return cut + "\n# ... (truncated)"
}

func truncatedMeta(truncated bool) map[string]string {
	if !truncated {
		return nil
	}
	return map[string]string{"truncated": "true"}
}
