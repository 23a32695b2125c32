package models

// Passage is a retrieved chunk with its similarity to the question.
type Passage struct {
	ChunkID    string  `json:"chunk_id"`
	SourcePath string  `json:"source_path"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// Answer is the result of a question. Sources holds distinct source paths in
// the order they first appear among the ranked passages.
type Answer struct {
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Sources   []string   `json:"sources"`
	Passages  []*Passage `json:"passages"`
	QueryTime int64      `json:"query_time_ms"`
}

// SearchResponse is the response for a retrieval-only request.
type SearchResponse struct {
	Query     string     `json:"query"`
	Passages  []*Passage `json:"passages"`
	Total     int        `json:"total"`
	QueryTime int64      `json:"query_time_ms"`
}
