// Package retrieval answers questions from the published index snapshot.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/generation"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultTopK            = 4
	DefaultMaxContextChars = 6000
)

// SnapshotSource hands out reference-counted snapshots. *indexer.Manager
// implements it.
type SnapshotSource interface {
	Acquire() (*indexer.Snapshot, error)
}

// Options tunes retrieval.
type Options struct {
	TopK            int
	MaxContextChars int
}

// Service embeds a question, retrieves the closest chunks from one snapshot and
// asks the generator to answer from them.
type Service struct {
	source    SnapshotSource
	embedder  embedding.Embedder
	generator generation.Generator
	opts      Options
	logger    *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService returns a retrieval service. embedder must be the one the index
// was built with.
func NewService(source SnapshotSource, embedder embedding.Embedder, generator generation.Generator, opts Options, options ...ServiceOption) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultMaxContextChars
	}
	s := &Service{source: source, embedder: embedder, generator: generator, opts: opts}
	for _, o := range options {
		o(s)
	}
	return s
}

// TopK returns the configured number of passages per question.
func (s *Service) TopK() int { return s.opts.TopK }

// Answer retrieves the top passages for question and generates an answer from
// them.
func (s *Service) Answer(ctx context.Context, question string) (*models.Answer, error) {
	start := time.Now()
	req := models.AnswerRequest{Question: question}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	passages, err := s.retrieve(ctx, req.Question, s.opts.TopK)
	if err != nil {
		return nil, err
	}
	prompt := generation.BuildPrompt(BuildContext(passages, s.opts.MaxContextChars), req.Question)
	text, err := s.generator.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	answer := &models.Answer{
		Question:  req.Question,
		Answer:    text,
		Sources:   Sources(passages),
		Passages:  passages,
		QueryTime: time.Since(start).Milliseconds(),
	}
	if s.logger != nil {
		s.logger.Debug("question answered",
			zap.Int("passages", len(passages)),
			zap.Strings("sources", answer.Sources),
			zap.Duration("elapsed", time.Since(start)))
	}
	return answer, nil
}

// Search returns the k passages closest to query without generating an answer.
func (s *Service) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(s.opts.TopK); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	passages, err := s.retrieve(ctx, query.Query, query.K)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:     query.Query,
		Passages:  passages,
		Total:     len(passages),
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// retrieve resolves the top k chunks of one snapshot into passages, ranked by
// descending similarity.
func (s *Service) retrieve(ctx context.Context, question string, k int) ([]*models.Passage, error) {
	snap, err := s.source.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	if snap.Size() == 0 {
		return nil, errs.ErrEmptyCorpus
	}

	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	hits, err := snap.Index.Search(ctx, vec, k)
	if err != nil {
		if errors.Is(err, errs.ErrDimensionMismatch) {
			return nil, fmt.Errorf("question embedding does not match the index: %w", err)
		}
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	passages := make([]*models.Passage, 0, len(hits))
	for _, h := range hits {
		rec, err := snap.Docs.Get(h.ID)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("indexed chunk has no docstore record",
					zap.String("chunk_id", h.ID), zap.String("snapshot", snap.ID))
			}
			continue
		}
		passages = append(passages, &models.Passage{
			ChunkID:    rec.ChunkID,
			SourcePath: rec.SourcePath,
			Start:      rec.Start,
			End:        rec.End,
			Text:       rec.Text,
			Score:      h.Score,
			Rank:       len(passages) + 1,
		})
	}
	return passages, nil
}

// BuildContext joins passages into the prompt context, each headed by its
// source, keeping at most maxChars runes. The passage that crosses the limit is
// truncated and the rest are dropped.
func BuildContext(passages []*models.Passage, maxChars int) string {
	var b strings.Builder
	used := 0
	for i, p := range passages {
		var block string
		if i > 0 {
			block = "\n\n"
		}
		block += "[source: " + p.SourcePath + "]\n" + p.Text
		n := utf8.RuneCountInString(block)
		if maxChars > 0 && used+n > maxChars {
			remaining := maxChars - used
			if remaining > 0 {
				b.WriteString(truncateRunes(block, remaining))
			}
			break
		}
		b.WriteString(block)
		used += n
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Sources returns the distinct source paths of passages in order of first
// appearance.
func Sources(passages []*models.Passage) []string {
	seen := make(map[string]bool, len(passages))
	out := make([]string, 0, len(passages))
	for _, p := range passages {
		if !seen[p.SourcePath] {
			seen[p.SourcePath] = true
			out = append(out, p.SourcePath)
		}
	}
	return out
}
