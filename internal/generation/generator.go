// Package generation turns a retrieval prompt into an answer.
package generation

import (
	"context"
	"strings"
)

// Generator completes a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// The stuff prompt: every retrieved passage is placed in a single prompt ahead
// of the question.
const (
	promptPreamble = "Use the following pieces of context to answer the question at the end. " +
		"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n\n"
	questionMarker = "\n\nQuestion: "
	answerMarker   = "\nHelpful Answer:"
)

// BuildPrompt fills the stuff prompt template.
func BuildPrompt(context, question string) string {
	var b strings.Builder
	b.Grow(len(promptPreamble) + len(context) + len(question) + len(questionMarker) + len(answerMarker))
	b.WriteString(promptPreamble)
	b.WriteString(context)
	b.WriteString(questionMarker)
	b.WriteString(question)
	b.WriteString(answerMarker)
	return b.String()
}

// splitPrompt recovers the context and question from a prompt produced by
// BuildPrompt. ok is false for any other text.
func splitPrompt(prompt string) (context, question string, ok bool) {
	if !strings.HasPrefix(prompt, promptPreamble) || !strings.HasSuffix(prompt, answerMarker) {
		return "", "", false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(prompt, promptPreamble), answerMarker)
	i := strings.LastIndex(body, questionMarker)
	if i < 0 {
		return "", "", false
	}
	return body[:i], body[i+len(questionMarker):], true
}
