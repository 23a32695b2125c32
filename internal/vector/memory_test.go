package vector

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(seed int64, n, dims int) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dims)
		for d := range v {
			v[d] = float32(r.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestMemoryIndex_InsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Add([]string{"a", "b", "c"}, [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}))
	assert.Equal(t, 3, idx.Size())

	results, err := idx.Search(ctx, []float32{2, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "b", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	err := idx.Insert("a", []float32{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
	var dm *errs.DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	_, err = idx.Search(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
}

func TestMemoryIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, idx.Insert(id, []float32{1, 1}))
	}
	results, err := idx.Search(context.Background(), []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{results[0].ID, results[1].ID, results[2].ID})

	results, _ = idx.Search(context.Background(), []float32{1, 1}, 1)
	assert.Equal(t, "first", results[0].ID)
}

func TestMemoryIndex_RemoveIsLogical(t *testing.T) {
	idx, _ := NewMemoryIndex(2, WithCompactionRatio(0))
	require.NoError(t, idx.Add([]string{"x", "y"}, [][]float32{{1, 0}, {0, 1}}))

	assert.True(t, idx.Remove("x"))
	assert.False(t, idx.Remove("x"), "second remove is a no-op")
	assert.False(t, idx.Remove("never"), "absent id is a no-op")
	assert.Equal(t, 1, idx.Size())
	assert.Equal(t, 1, idx.Stats().Tombstones)

	for k := 1; k <= 3; k++ {
		results, err := idx.Search(context.Background(), []float32{1, 0}, k)
		require.NoError(t, err)
		for _, r := range results {
			assert.NotEqual(t, "x", r.ID, "tombstoned id returned for k=%d", k)
		}
		assert.Len(t, results, 1)
	}
}

func TestMemoryIndex_ReinsertReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2, WithCompactionRatio(0))
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("a", []float32{0, 1}))
	assert.Equal(t, 1, idx.Size())
	results, _ := idx.Search(context.Background(), []float32{0, 1}, 5)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestMemoryIndex_AutoCompaction(t *testing.T) {
	idx, _ := NewMemoryIndex(4, WithCompactionRatio(0.2))
	vecs := randomVectors(1, 10, 4)
	for i, v := range vecs {
		require.NoError(t, idx.Insert(fmt.Sprintf("id-%d", i), v))
	}
	assert.True(t, idx.Remove("id-0"))
	assert.True(t, idx.Remove("id-1"))
	assert.Equal(t, 2, idx.Stats().Tombstones, "at exactly 20%% nothing is compacted yet")
	assert.True(t, idx.Remove("id-2"))
	assert.Equal(t, 0, idx.Stats().Tombstones, "crossing 20%% compacts")
	assert.Equal(t, 7, idx.Size())

	assert.Equal(t, []string{"id-3", "id-4", "id-5", "id-6", "id-7", "id-8", "id-9"}, idx.IDs())
	results, err := idx.Search(context.Background(), vecs[5], 1)
	require.NoError(t, err)
	assert.Equal(t, "id-5", results[0].ID)
}

func TestMemoryIndex_ExactRecallFlat(t *testing.T) {
	idx, _ := NewMemoryIndex(16, WithType(IndexTypeFlat))
	vecs := randomVectors(7, 300, 16)
	for i, v := range vecs {
		require.NoError(t, idx.Insert(fmt.Sprintf("v%d", i), v))
	}
	for i, v := range vecs {
		results, err := idx.Search(context.Background(), v, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, fmt.Sprintf("v%d", i), results[0].ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	}
}

func TestMemoryIndex_CloneIsIndependent(t *testing.T) {
	idx, _ := NewMemoryIndex(2, WithCompactionRatio(0))
	require.NoError(t, idx.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	c := idx.Clone()
	c.Remove("a")
	require.NoError(t, c.Insert("c", []float32{1, 1}))

	assert.True(t, idx.Contains("a"))
	assert.False(t, idx.Contains("c"))
	assert.Equal(t, 2, idx.Size())
	assert.Equal(t, []string{"b", "c"}, c.IDs())
}

func TestMemoryIndex_SearchCancelled(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryIndex_Empty(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	results, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	results, err = idx.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
