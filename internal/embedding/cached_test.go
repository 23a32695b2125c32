package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	*HashEmbedder
	mu     sync.Mutex
	calls  int
	inputs int
	fail   error
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.inputs += len(texts)
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_SharesIdenticalText(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(32)}
	c := NewCachedEmbedder(inner, 100)

	vecs, err := c.EmbedBatch(context.Background(), []string{"same words", "other words", "same words"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.Equal(t, 2, inner.inputs, "duplicate text should be embedded once")

	_, err = c.Embed(context.Background(), "same words")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "cached text should not reach the backend")
}

func TestCachedEmbedder_Batches(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	c := NewCachedEmbedder(inner, 100, WithBatchSize(2))
	_, err := c.EmbedBatch(context.Background(), []string{"a1", "b2", "c3", "d4", "e5"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 5, inner.inputs)
}

func TestCachedEmbedder_PropagatesProviderError(t *testing.T) {
	inner := &countingEmbedder{
		HashEmbedder: NewHashEmbedder(16),
		fail:         &errs.ProviderError{Provider: "test", Op: "embed", StatusCode: 500, Err: errors.New("boom")},
	}
	c := NewCachedEmbedder(inner, 10)
	_, err := c.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, errs.ErrProvider)
	assert.Equal(t, 0, c.Stats().Entries, "failures must not be cached")
}

func TestCachedEmbedder_EmbedChunks(t *testing.T) {
	c := NewCachedEmbedder(NewHashEmbedder(8), 10)
	chunks := []*models.Chunk{{Text: "alpha"}, {Text: "beta"}}
	require.NoError(t, c.EmbedChunks(context.Background(), chunks))
	for _, ch := range chunks {
		assert.Len(t, ch.Vector, 8)
	}
	assert.Equal(t, "hash-fnv64a", c.ModelName())
}

func TestHashEmbedder_Similarity(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "thermodynamics entropy heat engines")
	b, _ := e.Embed(ctx, "entropy and heat in thermodynamics")
	c, _ := e.Embed(ctx, "photosynthesis chlorophyll plants")

	dot := func(x, y []float32) float32 {
		var s float32
		for i := range x {
			s += x[i] * y[i]
		}
		return s
	}
	assert.Greater(t, dot(a, b), dot(a, c))
	assert.InDelta(t, 1.0, dot(a, a), 1e-5)

	again, _ := e.Embed(ctx, "thermodynamics entropy heat engines")
	assert.Equal(t, a, again)
}

func TestHashEmbedder_EmptyTextIsNotZero(t *testing.T) {
	v, err := NewHashEmbedder(4).Embed(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, float32(1), v[0])
}
