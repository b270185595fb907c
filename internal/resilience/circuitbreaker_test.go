package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute}, zerolog.Nop())
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	ctx := context.Background()
	fail := func(context.Context) error { return errUpstream }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: got %v", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open circuit should reject without calling, got %v called=%v", err, called)
	}

	clock = clock.Add(2 * time.Minute)
	v, err := ExecuteWithResult(ctx, cb, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("half-open probe = %d, %v", v, err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED after probe", cb.State())
	}

	stats := cb.Stats()
	if stats.TotalCalls != 4 || stats.TotalFailures != 2 || stats.TotalRejected != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if rate := stats.FailureRate(); rate != 50 {
		t.Errorf("failure rate = %v, want 50", rate)
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(&clock)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	if cb.State() != CircuitClosed {
		t.Errorf("cancellations opened the circuit")
	}

	cancel()
	if err := cb.Execute(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context = %v", err)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(&clock)
	ctx := context.Background()
	fail := func(context.Context) error { return errUpstream }

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock = clock.Add(time.Minute)
	_ = cb.Execute(ctx, fail)
	if cb.State() != CircuitOpen {
		t.Errorf("state = %s, want OPEN after failed probe", cb.State())
	}
}
