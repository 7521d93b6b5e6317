package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// MockEmbedder generates deterministic embeddings without network access.
// The same text always yields the same unit vector, so tests and local
// development get stable nearest-neighbor behavior.
type MockEmbedder struct {
	dims  int
	model string
}

var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a deterministic embedder.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &MockEmbedder{dims: dims, model: "mock"}
}

// Embed generates a deterministic embedding for a single text.
func (e *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// EmbedBatch generates deterministic embeddings for multiple texts.
func (e *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = e.vector(text)
	}
	return vecs, nil
}

// vector expands sha256(text) into dims float32 values and normalizes.
func (e *MockEmbedder) vector(text string) []float32 {
	seed := sha256.Sum256([]byte(text))

	v := make([]float32, e.dims)
	counter := uint64(0)
	var block [sha256.Size]byte
	for i := 0; i < e.dims; i += sha256.Size / 4 {
		var buf [sha256.Size + 8]byte
		copy(buf[:], seed[:])
		binary.LittleEndian.PutUint64(buf[sha256.Size:], counter)
		block = sha256.Sum256(buf[:])
		counter++

		for j := 0; j < sha256.Size/4 && i+j < e.dims; j++ {
			bits := binary.LittleEndian.Uint32(block[j*4:])
			// Map to [-1, 1).
			v[i+j] = float32(int32(bits)) / float32(1<<31)
		}
	}
	return normalizeVector(v)
}

// Dimensions returns the embedding dimensionality.
func (e *MockEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *MockEmbedder) ModelName() string { return e.model }

// Available always reports true.
func (e *MockEmbedder) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (e *MockEmbedder) Close() error { return nil }
