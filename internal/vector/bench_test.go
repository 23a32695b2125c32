package vector

import (
	"context"
	"fmt"
	"testing"
)

func benchmarkSearch(b *testing.B, typ IndexType, n int) {
	idx, err := NewMemoryIndex(128, WithType(typ))
	if err != nil {
		b.Fatal(err)
	}
	for i, v := range randomVectors(1, n, 128) {
		if err := idx.Insert(fmt.Sprintf("v%d", i), v); err != nil {
			b.Fatal(err)
		}
	}
	if err := idx.Optimize(context.Background()); err != nil {
		b.Fatal(err)
	}
	q := randomVectors(2, 1, 128)[0]
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Search(context.Background(), q, 4); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchFlat10k(b *testing.B) { benchmarkSearch(b, IndexTypeFlat, 10000) }
func BenchmarkSearchIVF10k(b *testing.B)  { benchmarkSearch(b, IndexTypeIVF, 10000) }
