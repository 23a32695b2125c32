// Package models defines core data structures for chunks, docstore records, and answers.
package models

// Chunk is a contiguous span of a source document. Start and End are rune offsets
// into the normalized document text. A chunk is never mutated: changed content
// produces a chunk with a different ID.
type Chunk struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"-"`
}

// Record converts the chunk into its docstore form.
func (c *Chunk) Record() *Record {
	return &Record{
		ChunkID:    c.ID,
		SourcePath: c.SourcePath,
		Start:      c.Start,
		End:        c.End,
		Text:       c.Text,
	}
}

// Record is the human-readable side of a chunk, stored in the docstore.
type Record struct {
	ChunkID    string `json:"chunk_id" db:"chunk_id"`
	SourcePath string `json:"source_path" db:"source_path"`
	Start      int    `json:"start" db:"start_offset"`
	End        int    `json:"end" db:"end_offset"`
	Text       string `json:"text" db:"text"`
}
