package models

import (
	"fmt"
	"strings"
)

// MaxTopK bounds how many passages a single request may retrieve.
const MaxTopK = 50

// AnswerRequest is the input for a question over the corpus.
type AnswerRequest struct {
	Question string `json:"question"`
}

// Validate trims the question and rejects empty input.
func (r *AnswerRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	return nil
}

// SearchQuery is a retrieval-only request.
type SearchQuery struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Validate ensures the query is non-empty and clamps K into [1, MaxTopK], using
// defaultK when K is unset.
func (q *SearchQuery) Validate(defaultK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if q.K <= 0 {
		q.K = 4
	}
	if q.K > MaxTopK {
		q.K = MaxTopK
	}
	return nil
}

// UpdateRequest lists corpus paths to re-ingest.
type UpdateRequest struct {
	Paths []string `json:"paths"`
}
