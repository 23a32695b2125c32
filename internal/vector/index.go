// Package vector provides the chunk vector index: cosine-similarity k-NN search
// with logical deletion, compaction, an IVF partitioning for large corpora, and
// a versioned binary file format.
package vector

import "context"

// VectorIndex defines vector storage and similarity search.
//
// Scores are cosine similarities in [-1, 1]: vectors are L2-normalized on insert
// and queries are normalized before scoring. Results are ordered by descending
// score; equal scores keep insertion order.
type VectorIndex interface {
	Insert(id string, vector []float32) error
	Remove(id string) bool
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// VectorResult is a single vector search hit (ID is the chunk ID).
type VectorResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Stats describes the internal layout of an index.
type Stats struct {
	Type       IndexType `json:"type"`
	Dimensions int       `json:"dimensions"`
	Live       int       `json:"live"`
	Tombstones int       `json:"tombstones"`
	Lists      int       `json:"lists"`
	Trained    bool      `json:"trained"`
}
