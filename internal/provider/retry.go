// Package provider holds the plumbing shared by embedding and generation backends:
// retry with backoff, per-call timeouts, throughput limits, and a JSON HTTP client.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/shiori/internal/errs"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

// RetryPolicy retries retryable ProviderErrors with bounded exponential backoff
// and a timed-out call exactly once. Every attempt runs under Timeout when set.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy(timeout time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Timeout:     timeout,
	}
}

// Delay returns the backoff before the attempt following attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return maxDelay
	}
	d := base << attempt
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

// Do runs op until it succeeds, fails permanently, or the attempts are used up.
// A deadline hit by a single attempt surfaces as errs.ErrProviderTimeout; cancellation
// of ctx itself is returned as ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, name, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	timeouts := 0
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err

		switch {
		case errors.Is(err, errs.ErrProviderTimeout):
			timeouts++
			if timeouts > 1 {
				return fmt.Errorf("%s %s: %w", name, op, err)
			}
			// a timed-out call gets one more chance regardless of MaxAttempts
			if attempt == maxAttempts-1 {
				maxAttempts++
			}
			continue
		case errs.IsRetryable(err):
		default:
			return err
		}

		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return fmt.Errorf("%s %s: giving up after %d attempts: %w", name, op, maxAttempts, lastErr)
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", errs.ErrProviderTimeout, p.Timeout)
	}
	return err
}
