package embed

import (
	"fmt"
	"log/slog"
)

// New builds the configured embedding provider wrapped in an LRU cache.
func New(cfg Config, logger *slog.Logger) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "jina", "":
		inner = NewJinaEmbedder(cfg)
	case "openai":
		inner = NewOpenAIEmbedder(cfg)
	case "mock":
		inner = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize, logger)
}
