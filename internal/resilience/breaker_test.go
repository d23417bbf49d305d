package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failN(b *Breaker, n int, t *testing.T) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Execute = %v, want errBoom", err)
		}
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3})

	failN(b, 2, t)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	failN(b, 1, t)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute while open = %v, want ErrOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3})

	failN(b, 2, t)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute = %v", err)
	}
	failN(b, 2, t)

	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed (counter should reset on success)", got)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	failN(b, 1, t)
	time.Sleep(20 * time.Millisecond)

	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", got)
	}
	// Two successful probes close the breaker.
	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d = %v", i, err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after probes = %v, want closed", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	failN(b, 1, t)
	time.Sleep(20 * time.Millisecond)
	failN(b, 1, t)

	if got := b.State(); got != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", got)
	}
}
