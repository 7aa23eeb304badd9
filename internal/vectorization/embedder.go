package vectorization

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Provider is the embedding backend contract (spec.md section 6). Same
// interchangeable-provider shape as internal/transcription.Provider.
type Provider interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Ready() bool
}

// MockProvider returns deterministic, cheap embeddings for tests — a hash
// of the text spread across the configured dimension.
type MockProvider struct {
	dim int
}

// NewMockProvider creates a mock embedder of the given dimension.
func NewMockProvider(dim int) *MockProvider {
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Name() string    { return "mock" }
func (m *MockProvider) Dimension() int  { return m.dim }
func (m *MockProvider) Ready() bool     { return true }

func (m *MockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dim)
		var h uint32 = 2166136261
		for _, c := range text {
			h ^= uint32(c)
			h *= 16777619
		}
		for j := range vec {
			vec[j] = float32((h>>uint(j%24))&0xFF) / 255.0
		}
		out[i] = vec
	}
	return out, nil
}

// HTTPProvider calls a remote embedding endpoint over HTTP. Built on
// github.com/go-resty/resty/v2, the same client library
// internal/transcription.HTTPProvider uses, for a consistent resty-based
// HTTP contract across both of the pipeline's remote-provider stages.
type HTTPProvider struct {
	client   *resty.Client
	endpoint string
	dim      int
}

// NewHTTPProvider creates an HTTP-backed embedding provider.
func NewHTTPProvider(endpoint, apiKey string, dim int) *HTTPProvider {
	client := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Authorization", "Bearer "+apiKey)
	return &HTTPProvider{client: client, endpoint: endpoint, dim: dim}
}

func (h *HTTPProvider) Name() string   { return "http" }
func (h *HTTPProvider) Dimension() int { return h.dim }
func (h *HTTPProvider) Ready() bool    { return h.endpoint != "" }

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (h *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result embedResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(embedRequest{Texts: texts}).
		SetResult(&result).
		Post("/embed")
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("embedding endpoint returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}
