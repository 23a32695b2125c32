// Package errs defines the error taxonomy shared by the indexing and retrieval engine.
//
// Sentinel values are matched with errors.Is; the typed errors carry details and
// report the matching sentinel from their Is method.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is a configuration error: a vector does not have the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrCorruptIndex marks a persisted file that cannot be trusted. Callers rebuild.
	ErrCorruptIndex = errors.New("corrupt index")
	// ErrProvider marks a rejected embedding or generation call.
	ErrProvider = errors.New("provider error")
	// ErrProviderTimeout marks a provider call that ran past its deadline.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrIndexNotReady is returned to readers before a snapshot has been published.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrEmptyCorpus is returned when the index holds no entries.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrNotFound is a docstore lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks a rejected request, such as an empty question.
	ErrInvalidInput = errors.New("invalid input")
)

// DimensionMismatchError reports the expected and actual vector lengths.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// CorruptIndexError reports a persisted file that failed validation.
type CorruptIndexError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptIndexError) Error() string {
	msg := "corrupt index"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptIndexError) Unwrap() error { return e.Err }

func (e *CorruptIndexError) Is(target error) bool { return target == ErrCorruptIndex }

// Corrupt builds a CorruptIndexError.
func Corrupt(path, reason string, err error) error {
	return &CorruptIndexError{Path: path, Reason: reason, Err: err}
}

// ProviderError reports a failed call to an embedding or generation backend.
// StatusCode is zero for transport-level failures.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Retryable reports whether the call may succeed if repeated: transport failures,
// rate limiting and server-side errors. Other 4xx responses are content rejections.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable reports whether err is a ProviderError worth repeating.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
