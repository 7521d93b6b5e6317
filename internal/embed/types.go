// Package embed generates vector embeddings for code chunks and queries
// through pluggable HTTP providers.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding defaults.
const (
	// DefaultBatchSize is texts per provider request.
	DefaultBatchSize = 100

	// MaxBatchSize caps a single request to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout bounds one provider request.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions matches jina-embeddings-v3.
	DefaultDimensions = 1024
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one request.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks whether the provider is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string // "jina", "openai", or "mock"
	Model      string
	APIKey     string
	Endpoint   string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int // LRU entries; 0 selects the default
}

// normalizeVector scales a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
