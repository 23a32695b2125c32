// Package extract turns note files (plain text, PDF, office documents) into raw text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxBytes bounds the size of a file Extract will read.
const DefaultMaxBytes = 64 << 20

var (
	// ErrUnsupported is returned for binary content with no registered format.
	ErrUnsupported = errors.New("unsupported document format")
	// ErrTooLarge is returned for files above the size limit.
	ErrTooLarge = errors.New("document too large")
)

type formatFunc func(content []byte) (string, error)

// Extractor extracts plain text from document files by extension.
type Extractor struct {
	maxBytes int64
	formats  map[string]formatFunc
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes sets the largest file Extract accepts. Zero or negative disables the limit.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// NewExtractor returns an Extractor for the built-in formats.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		maxBytes: DefaultMaxBytes,
		formats: map[string]formatFunc{
			".txt":  extractPlain,
			".md":   extractPlain,
			".rst":  extractPlain,
			".pdf":  extractPDF,
			".docx": extractDOCX,
			".odt":  extractWithCat,
			".rtf":  extractWithCat,
			".xlsx": extractExcel,
			".pptx": extractPPTX,
			".odp":  extractODP,
			".ods":  extractODS,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Formats returns the registered extensions, sorted.
func (e *Extractor) Formats() []string {
	out := make([]string, 0, len(e.formats))
	for ext := range e.formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if e.maxBytes > 0 && info.Size() > e.maxBytes {
		return "", fmt.Errorf("%s is %d bytes (limit %d): %w", filepath.Base(path), info.Size(), e.maxBytes, ErrTooLarge)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	text, err := e.ExtractBytes(content, filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

// ExtractBytes extracts text from content based on the given extension
// (with the leading dot, any case). Unknown extensions are read as plain text
// unless the content looks binary.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	if fn, ok := e.formats[ext]; ok {
		return fn(content)
	}
	if looksBinary(content) {
		return "", fmt.Errorf("%q: %w", ext, ErrUnsupported)
	}
	return extractPlain(content)
}

// looksBinary reports whether the first block of content holds a NUL byte.
func looksBinary(content []byte) bool {
	head := content
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}
