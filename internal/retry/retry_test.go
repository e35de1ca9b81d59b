package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		BaseDelay:       time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		ExponentialBase: 2,
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"net timeout", timeoutErr{}, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.example.com"}, true},
		{"connection reset errno", syscall.ECONNRESET, true},
		{"broken pipe errno", syscall.EPIPE, true},
		{"wrapped errno", fmt.Errorf("request failed: %w", syscall.ECONNREFUSED), true},
		{"phrase match", errors.New("read tcp: Connection Reset by peer"), true},
		{"timeout phrase", errors.New("operation timed out"), true},
		{"context canceled", context.Canceled, false},
		{"plain failure", errors.New("status 401"), false},
		{"not found", errors.New("no such playlist"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
	}

	if got := p.Delay(1); got != time.Second {
		t.Errorf("Delay(1) = %v, want 1s", got)
	}
	if got := p.Delay(2); got != 2*time.Second {
		t.Errorf("Delay(2) = %v, want 2s", got)
	}
	if got := p.Delay(3); got != 4*time.Second {
		t.Errorf("Delay(3) = %v, want 4s", got)
	}
	if got := p.Delay(10); got != 30*time.Second {
		t.Errorf("Delay(10) = %v, want 30s cap", got)
	}
}

func TestPolicyDelay_Jitter(t *testing.T) {
	p := Policy{
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}

	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 500*time.Millisecond || d >= time.Second {
			t.Fatalf("jittered Delay(1) = %v, want within [0.5s, 1s)", d)
		}
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), nil, func() error {
		calls++
		if calls < 3 {
			return timeoutErr{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_FatalErrorShortCircuits(t *testing.T) {
	fatal := errors.New("status 403")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), nil, func() error {
		calls++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("fatal error should not be retried, got %d calls", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), nil, func() error {
		calls++
		return timeoutErr{}
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestDo_ContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute, ExponentialBase: 2}
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, nil, func() error { return timeoutErr{} })
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return promptly after cancellation")
	}
}

func TestDoValue(t *testing.T) {
	calls := 0
	got, err := DoValue(context.Background(), fastPolicy(3), nil, func() (string, error) {
		calls++
		if calls == 1 {
			return "", timeoutErr{}
		}
		return "found", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "found" {
		t.Errorf("got %q, want %q", got, "found")
	}
}
