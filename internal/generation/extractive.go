package generation

import (
	"context"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/embedding"
)

// NoAnswer is returned by the extractive generator when no context sentence
// shares a term with the question.
const NoAnswer = "I don't know."

// Extractive answers without a language model by quoting the context sentences
// that share the most terms with the question. It is deterministic and works
// offline.
type Extractive struct {
	// MaxSentences caps the quoted sentences. Zero means 2.
	MaxSentences int
}

// NewExtractive returns an extractive generator.
func NewExtractive() *Extractive {
	return &Extractive{MaxSentences: 2}
}

// Complete returns the best-matching sentences of the prompt's context, in
// context order.
func (e *Extractive) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	contextText, question, ok := splitPrompt(prompt)
	if !ok {
		contextText, question = prompt, prompt
	}
	want := make(map[string]bool)
	for _, t := range embedding.Terms(question) {
		want[t] = true
	}

	type scored struct {
		pos   int
		score int
		text  string
	}
	var candidates []scored
	for i, s := range sentences(contextText) {
		n := 0
		seen := make(map[string]bool)
		for _, t := range embedding.Terms(s) {
			if want[t] && !seen[t] {
				seen[t] = true
				n++
			}
		}
		if n > 0 {
			candidates = append(candidates, scored{pos: i, score: n, text: s})
		}
	}
	if len(candidates) == 0 {
		return NoAnswer, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	limit := e.MaxSentences
	if limit <= 0 {
		limit = 2
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].pos < candidates[j].pos })

	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = c.text
	}
	return strings.Join(parts, " "), nil
}

// sentences splits text on line breaks and sentence-ending punctuation. Source
// header lines written by the retrieval context ("[source: ...]") are skipped.
func sentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) {
			continue
		}
		start := 0
		for i := 0; i < len(line); i++ {
			switch line[i] {
			case '.', '!', '?':
				if i+1 == len(line) || line[i+1] == ' ' {
					if s := strings.TrimSpace(line[start : i+1]); s != "" {
						out = append(out, s)
					}
					start = i + 1
				}
			}
		}
		if s := strings.TrimSpace(line[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Close is a no-op.
func (e *Extractive) Close() error { return nil }
