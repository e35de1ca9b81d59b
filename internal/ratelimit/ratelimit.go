// package ratelimit gates outbound search calls with a concurrency bound
// and fixed-interval pacing.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxConcurrent = 10
	DefaultRatePerSecond = 10.0
)

// RateLimiter combines a counting permit set with a request pacer. One
// instance is shared by every outbound search in a sync session: a caller
// first waits for a free concurrency slot, then for its paced turn.
type RateLimiter struct {
	sem   chan struct{}
	pacer *rate.Limiter
}

// New creates a RateLimiter allowing maxConcurrent calls in flight and at
// most ratePerSecond acquires per second. Non-positive arguments fall back
// to the defaults.
func New(maxConcurrent int, ratePerSecond float64) *RateLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if ratePerSecond <= 0 {
		ratePerSecond = DefaultRatePerSecond
	}

	return &RateLimiter{
		sem:   make(chan struct{}, maxConcurrent),
		pacer: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}
}

// Start marks the beginning of a sync run. The limiter itself is always
// ready; the marker exists so Stop can pair with it on every control path.
func (r *RateLimiter) Start() {}

// Stop marks the end of a sync run.
func (r *RateLimiter) Stop() {}

// Acquire blocks until a concurrency permit is free and this caller's paced
// turn arrives. The permit is held until Release.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.pacer.Wait(ctx); err != nil {
		r.Release()
		return err
	}
	return nil
}

// Release returns a concurrency permit. Calling it without a matching
// Acquire is a no-op, so degenerate error paths can release unconditionally.
func (r *RateLimiter) Release() {
	select {
	case <-r.sem:
	default:
	}
}

// InFlight reports how many permits are currently held.
func (r *RateLimiter) InFlight() int {
	return len(r.sem)
}
