// package retry wraps remote calls with classification of transient faults
// and exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// Policy controls retry behavior for a wrapped call.
type Policy struct {
	MaxAttempts     int           // Total attempts including the first try
	BaseDelay       time.Duration // Delay before the second attempt
	MaxDelay        time.Duration // Ceiling on any single backoff sleep
	ExponentialBase float64       // Growth factor between attempts
	Jitter          bool          // Randomize each delay to avoid thundering herds
}

// DefaultPolicy mirrors the tuning used for music service APIs: three
// attempts, one second base, thirty second cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// Delay computes the backoff before retrying after the given attempt
// (1-based): min(base * exp^(attempt-1), max), jittered by a uniform factor
// in [0.5, 1.0) when enabled.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + 0.5*rand.Float64()
	}
	return time.Duration(d)
}

// retryablePhrases catches transient faults surfaced as wrapped or
// stringified errors from HTTP stacks.
var retryablePhrases = []string{
	"connection reset",
	"connection aborted",
	"connection refused",
	"timed out",
	"timeout",
	"temporary failure",
	"name resolution",
	"broken pipe",
}

// IsRetryable reports whether an error indicates a transient network fault
// worth retrying. Anything else is fatal and must surface immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation is a caller decision, never retried.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Do invokes op, retrying transient failures per the policy. Fatal errors
// are returned immediately without consuming a retry; after MaxAttempts
// transient failures the last error is returned. Backoff sleeps honor
// context cancellation.
func Do(ctx context.Context, p Policy, logger *log.Logger, op func() error) error {
	_, err := DoValue(ctx, p, logger, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, logger *log.Logger, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}

		if !IsRetryable(err) || attempt == attempts {
			return zero, err
		}

		lastErr = err
		delay := p.Delay(attempt)
		if logger != nil {
			logger.Warn("retrying after transient error", "attempt", attempt, "max", attempts, "delay", delay, "err", err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
