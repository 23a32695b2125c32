package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of texts sent to the backend per EmbedBatch call.
const DefaultBatchSize = 64

// CachedEmbedder wraps an Embedder with an EmbeddingCache keyed by content hash,
// so identical text in different files is embedded once. Returned vectors are
// shared with the cache and must not be modified.
type CachedEmbedder struct {
	inner     Embedder
	cache     *EmbeddingCache
	batchSize int
	logger    *zap.Logger
}

// CachedOption configures a CachedEmbedder.
type CachedOption func(*CachedEmbedder)

// WithBatchSize sets how many cache misses are sent to the backend at once.
func WithBatchSize(n int) CachedOption {
	return func(c *CachedEmbedder) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) CachedOption {
	return func(c *CachedEmbedder) {
		c.logger = logger
	}
}

// NewCachedEmbedder returns inner fronted by a cache of cacheSize entries.
func NewCachedEmbedder(inner Embedder, cacheSize int, opts ...CachedOption) *CachedEmbedder {
	c := &CachedEmbedder{
		inner:     inner,
		cache:     NewEmbeddingCache(cacheSize),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed returns the vector for text, computing it on a cache miss.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text. Misses are deduplicated by content
// hash and sent to the backend in batches.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	pending := make(map[string][]int)
	var missKeys []string
	var missTexts []string

	for i, text := range texts {
		key := fileid.ContentHash(text)
		keys[i] = key
		if vec, ok := c.cache.Get(key); ok {
			out[i] = vec
			continue
		}
		if _, seen := pending[key]; !seen {
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, text)
		}
		pending[key] = append(pending[key], i)
	}

	for start := 0; start < len(missTexts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		vecs, err := c.inner.EmbedBatch(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, &errs.ProviderError{Provider: ModelName(c.inner), Op: "embed", Err: fmt.Errorf("got %d vectors for %d inputs", len(vecs), end-start)}
		}
		for j, vec := range vecs {
			if len(vec) != c.inner.Dimensions() {
				return nil, &errs.DimensionMismatchError{Expected: c.inner.Dimensions(), Actual: len(vec)}
			}
			key := missKeys[start+j]
			c.cache.Set(key, vec)
			for _, idx := range pending[key] {
				out[idx] = vec
			}
		}
	}

	if c.logger != nil && len(missTexts) > 0 {
		c.logger.Debug("computed embeddings",
			zap.Int("requested", len(texts)),
			zap.Int("computed", len(missTexts)))
	}
	return out, nil
}

// EmbedChunks sets the Vector of every chunk.
func (c *CachedEmbedder) EmbedChunks(ctx context.Context, chunks []*models.Chunk) error {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := c.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for i, ch := range chunks {
		ch.Vector = vecs[i]
	}
	return nil
}

// Dimensions returns the backend dimension.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the backend model name.
func (c *CachedEmbedder) ModelName() string { return ModelName(c.inner) }

// Stats returns cache counters.
func (c *CachedEmbedder) Stats() CacheStats { return c.cache.Stats() }

// Close closes the backend.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }
