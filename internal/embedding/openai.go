package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/provider"
)

// OpenAI defaults.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-ada-002"
	DefaultOpenAITimeout = 30 * time.Second
)

var openAIModelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Retry      provider.RetryPolicy
	Throttle   *provider.Throttle
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *provider.Client
	model      string
	dimensions int
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewOpenAIEmbedder validates cfg and returns an embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOpenAITimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = provider.DefaultRetryPolicy(cfg.Timeout)
	}
	if cfg.Retry.Timeout == 0 {
		cfg.Retry.Timeout = cfg.Timeout
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		var ok bool
		if dims, ok = openAIModelDimensions[cfg.Model]; !ok {
			return nil, fmt.Errorf("openai: dimensions required for model %q", cfg.Model)
		}
	}
	return &OpenAIEmbedder{
		client: &provider.Client{
			Name:     "openai",
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			HTTP:     &http.Client{},
			Retry:    cfg.Retry,
			Throttle: cfg.Throttle,
		},
		model:      cfg.Model,
		dimensions: dims,
	}, nil
}

// Embed returns the embedding of a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Results are ordered like texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := embeddingRequest{Model: e.model, Input: texts}
	if e.model != "text-embedding-ada-002" {
		if def, ok := openAIModelDimensions[e.model]; !ok || def != e.dimensions {
			req.Dimensions = e.dimensions
		}
	}

	var resp embeddingResponse
	if err := e.client.PostJSON(ctx, "embed", "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, &errs.ProviderError{Provider: "openai", Op: "embed", StatusCode: http.StatusOK,
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))}
	}
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		if len(d.Embedding) != e.dimensions {
			return nil, &errs.DimensionMismatchError{Expected: e.dimensions, Actual: len(d.Embedding)}
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the configured model.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Close is a no-op; the HTTP client needs no cleanup.
func (e *OpenAIEmbedder) Close() error { return nil }
