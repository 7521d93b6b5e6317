package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/askrepo/askrepo/internal/errors"
)

// Jina defaults.
const (
	DefaultJinaEndpoint = "https://api.jina.ai/v1/embeddings"
	DefaultJinaModel    = "jina-embeddings-v3"
)

// JinaEmbedder generates embeddings via the Jina AI HTTP API.
type JinaEmbedder struct {
	client   *http.Client
	endpoint string
	apiKey   string
	model    string
	dims     int
	retry    RetryConfig
	breaker  *errors.CircuitBreaker
}

var _ Embedder = (*JinaEmbedder)(nil)

// NewJinaEmbedder creates a Jina-backed embedder.
func NewJinaEmbedder(cfg Config) *JinaEmbedder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultJinaEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultJinaModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &JinaEmbedder{
		client:   &http.Client{Timeout: cfg.Timeout},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		retry:    DefaultRetryConfig(),
		breaker:  errors.NewCircuitBreaker("jina"),
	}
}

type jinaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type jinaResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding for a single text.
func (e *JinaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for up to MaxBatchSize texts per request.
func (e *JinaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch size %d exceeds maximum %d", len(texts), MaxBatchSize)
	}

	// The breaker fails fast while the provider is down instead of
	// holding callers through full retry cycles.
	var vecs [][]float32
	err := e.breaker.Execute(func() error {
		return WithRetry(ctx, e.retry, func() error {
			var reqErr error
			vecs, reqErr = e.request(ctx, texts)
			return reqErr
		})
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (e *JinaEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(jinaRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jina request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("jina returned status %d: %s", resp.StatusCode, string(detail))
	}

	var parsed jinaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("jina returned %d embeddings for %d texts", len(parsed.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vecs) {
			return nil, fmt.Errorf("jina returned out-of-range index %d", item.Index)
		}
		if len(item.Embedding) != e.dims {
			return nil, fmt.Errorf("jina returned %d dimensions, expected %d", len(item.Embedding), e.dims)
		}
		vecs[item.Index] = normalizeVector(item.Embedding)
	}
	return vecs, nil
}

// Dimensions returns the embedding dimensionality.
func (e *JinaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *JinaEmbedder) ModelName() string { return e.model }

// Available probes the endpoint with a tiny request.
func (e *JinaEmbedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := e.request(probeCtx, []string{"ping"})
	return err == nil
}

// Close releases resources.
func (e *JinaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
