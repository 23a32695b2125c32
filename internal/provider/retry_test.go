package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int, timeout time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Timeout: timeout}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
	assert.Equal(t, 200*time.Millisecond, p.Delay(0))
	assert.Equal(t, 400*time.Millisecond, p.Delay(1))
	assert.Equal(t, 800*time.Millisecond, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(10))
	assert.Equal(t, 5*time.Second, p.Delay(100))
}

func TestRetryPolicy_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(4, 0).Do(context.Background(), "test", "embed", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &errs.ProviderError{Provider: "test", Op: "embed", StatusCode: 503, Err: errors.New("unavailable")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3, 0).Do(context.Background(), "test", "embed", func(ctx context.Context) error {
		calls++
		return &errs.ProviderError{Provider: "test", Op: "embed", StatusCode: 429, Err: errors.New("slow down")}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProvider)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_DoesNotRetryRejections(t *testing.T) {
	calls := 0
	err := fastPolicy(5, 0).Do(context.Background(), "test", "embed", func(ctx context.Context) error {
		calls++
		return &errs.ProviderError{Provider: "test", Op: "embed", StatusCode: 400, Err: errors.New("too long")}
	})
	assert.ErrorIs(t, err, errs.ErrProvider)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_TimeoutRetriedOnce(t *testing.T) {
	calls := 0
	err := fastPolicy(5, 10*time.Millisecond).Do(context.Background(), "test", "complete", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProviderTimeout)
	assert.NotErrorIs(t, err, errs.ErrProvider)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_TimeoutRetryAllowedOnLastAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy(1, 10*time.Millisecond).Do(context.Background(), "test", "embed", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicy_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastPolicy(3, time.Second).Do(ctx, "test", "embed", func(ctx context.Context) error {
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errs.ErrProviderTimeout)
}
