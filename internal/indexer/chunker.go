// Package indexer owns chunking, the corpus manifest, and the index manager that
// builds, updates, persists, and publishes index snapshots.
package indexer

import (
	"strings"

	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/models"
)

// Default chunking policy, in runes.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators in boundary preference order. A cut is placed right after the separator.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("! "),
	[]rune("? "),
	[]rune(" "),
}

// Chunker splits text into overlapping rune windows that prefer to end on a
// paragraph, line, sentence, or word boundary.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	lookback     int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithLookback sets how far before the hard cut the chunker looks for a boundary.
func WithLookback(n int) ChunkerOption {
	return func(c *Chunker) {
		if n >= 0 {
			c.lookback = n
		}
	}
}

// NewChunker creates a chunker with the given size and overlap (in runes).
// An overlap that is not smaller than the size is reduced to a quarter of it.
func NewChunker(chunkSize, chunkOverlap int, opts ...ChunkerOption) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 4
	}
	c := &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		lookback:     chunkSize / 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	// every cut must land past start+overlap or the window would not advance
	if max := chunkSize - chunkOverlap - 1; c.lookback > max {
		c.lookback = max
	}
	return c
}

// Size returns the chunk size in runes.
func (c *Chunker) Size() int { return c.chunkSize }

// Overlap returns the overlap in runes.
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Lookback returns how far before a hard cut a boundary is searched for.
func (c *Chunker) Lookback() int { return c.lookback }

// Split normalizes text and returns its chunks in document order. Vectors are unset.
func (c *Chunker) Split(text, sourcePath string) []*models.Chunk {
	runes := []rune(Preprocess(text))
	n := len(runes)
	if n == 0 {
		return nil
	}
	sourcePath = fileid.NormalizePath(sourcePath)

	var chunks []*models.Chunk
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end >= n {
			end = n
		} else {
			end = c.cut(runes, start, end)
		}

		piece := string(runes[start:end])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, &models.Chunk{
				ID:         fileid.ChunkID(sourcePath, start, piece),
				SourcePath: sourcePath,
				Start:      start,
				End:        end,
				Text:       piece,
			})
		}
		if end >= n {
			break
		}
		start = end - c.chunkOverlap
	}
	return chunks
}

// cut returns the end of the window [start, hardEnd): the position right after
// the most preferred separator found in the lookback window, or hardEnd.
func (c *Chunker) cut(runes []rune, start, hardEnd int) int {
	lo := hardEnd - c.lookback
	if min := start + c.chunkOverlap + 1; lo < min {
		lo = min
	}
	if lo >= hardEnd {
		return hardEnd
	}
	for _, sep := range separators {
		if pos := lastIndex(runes[lo:hardEnd], sep); pos >= 0 {
			return lo + pos + len(sep)
		}
	}
	return hardEnd
}

func lastIndex(haystack, sep []rune) int {
	for i := len(haystack) - len(sep); i >= 0; i-- {
		match := true
		for j, r := range sep {
			if haystack[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
