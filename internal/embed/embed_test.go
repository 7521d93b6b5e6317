package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(64)

	a, err := e.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)
	c, err := e.Embed(context.Background(), "class Foo:")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text yields same vector")
	assert.NotEqual(t, a, c, "different text yields different vector")
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5, "vectors are unit length")
}

func TestCachedEmbedderHitsSkipInner(t *testing.T) {
	var calls atomic.Int64
	inner := &countingEmbedder{inner: NewMockEmbedder(32), calls: &calls}

	cached, err := NewCachedEmbedder(inner, 100, nil)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), "hello")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())

	vecs, err := cached.EmbedBatch(context.Background(), []string{"hello", "world", "hello"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.Equal(t, int64(2), calls.Load(), "only the miss goes to the inner embedder")
}

type countingEmbedder struct {
	inner Embedder
	calls *atomic.Int64
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return e.inner.Embed(ctx, text)
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	return e.inner.EmbedBatch(ctx, texts)
}

func (e *countingEmbedder) Dimensions() int                    { return e.inner.Dimensions() }
func (e *countingEmbedder) ModelName() string                  { return e.inner.ModelName() }
func (e *countingEmbedder) Available(ctx context.Context) bool { return true }
func (e *countingEmbedder) Close() error                       { return nil }

func TestJinaEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req jinaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"data": []map[string]any{}}
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, 8)
			vec[i%8] = 1
			data[i] = map[string]any{"index": i, "embedding": vec}
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewJinaEmbedder(Config{
		Endpoint:   srv.URL,
		APIKey:     "test-key",
		Dimensions: 8,
	})

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[1][1])
}

func TestJinaRejectsOversizeBatch(t *testing.T) {
	e := NewJinaEmbedder(Config{Endpoint: "http://unused", Dimensions: 8})

	texts := make([]string, MaxBatchSize+1)
	_, err := e.EmbedBatch(context.Background(), texts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestJinaDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1, 2, 3}}},
		})
	}))
	defer srv.Close()

	e := NewJinaEmbedder(Config{Endpoint: srv.URL, Dimensions: 8})
	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestWithRetryTransient(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	attempts := 0
	err := WithRetry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		return nil
	})
	// assert.AnError is not transient, so retries stop immediately.
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = WithRetry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errTransient{}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

type errTransient struct{}

func (errTransient) Error() string { return "jina returned status 503: overloaded" }

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errTransient{}))
	assert.False(t, isTransient(assert.AnError))
	assert.False(t, isTransient(nil))
}

func TestFactorySelectsProvider(t *testing.T) {
	e, err := New(Config{Provider: "mock", Dimensions: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, e.Dimensions())
	assert.Equal(t, "mock", e.ModelName())

	_, err = New(Config{Provider: "carrier-pigeon"}, nil)
	require.Error(t, err)
}
