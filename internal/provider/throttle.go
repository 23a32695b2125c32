package provider

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Throttle bounds provider calls by rate and by number in flight. A nil
// Throttle admits everything.
type Throttle struct {
	limiter  *rate.Limiter
	inFlight *semaphore.Weighted
}

// NewThrottle returns a throttle allowing perSecond calls per second (0 means
// unlimited) with at most maxInFlight concurrent calls (0 means unlimited).
func NewThrottle(perSecond float64, maxInFlight int) *Throttle {
	t := &Throttle{}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	if maxInFlight > 0 {
		t.inFlight = semaphore.NewWeighted(int64(maxInFlight))
	}
	return t
}

// Acquire blocks until a call may start. The returned func must be called when
// the call finishes.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	if t == nil {
		return func() {}, nil
	}
	if t.inFlight != nil {
		if err := t.inFlight.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if t.inFlight != nil {
				t.inFlight.Release(1)
			}
			return nil, err
		}
	}
	return func() {
		if t.inFlight != nil {
			t.inFlight.Release(1)
		}
	}, nil
}
