package embed

import (
	"context"
	"crypto/sha256"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default LRU entry count.
const DefaultCacheSize = 10000

// CachedEmbedder wraps an Embedder with an in-memory LRU cache keyed by
// content hash. Safe for concurrent use.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[[32]byte, []float32]
	logger *slog.Logger
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner Embedder, size int, logger *slog.Logger) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[[32]byte, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}, nil
}

// Embed returns a cached embedding or delegates to the inner embedder.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves cache hits locally and batches only the misses to the
// inner embedder, preserving input order.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	keys := make([][32]byte, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		keys[i] = sha256.Sum256([]byte(text))
		if vec, ok := e.cache.Get(keys[i]); ok {
			vecs[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vecs, nil
	}

	fresh, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		vecs[i] = fresh[j]
		e.cache.Add(keys[i], fresh[j])
	}

	e.logger.Debug("embedding_cache_batch",
		slog.Int("total", len(texts)),
		slog.Int("misses", len(missTexts)))
	return vecs, nil
}

// Dimensions returns the inner embedder's dimensionality.
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (e *CachedEmbedder) ModelName() string { return e.inner.ModelName() }

// Available delegates to the inner embedder.
func (e *CachedEmbedder) Available(ctx context.Context) bool { return e.inner.Available(ctx) }

// Close purges the cache and closes the inner embedder.
func (e *CachedEmbedder) Close() error {
	e.cache.Purge()
	return e.inner.Close()
}
