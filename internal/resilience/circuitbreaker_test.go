package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

var errBackendDown = types.Errorf(types.KindTransient, "backend unreachable")

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "who",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})

	calls := 0
	failing := func() error { calls++; return errBackendDown }

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failing); !errors.Is(err, errBackendDown) {
			t.Fatalf("Execute() #%d error = %v, want backend error", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v after %d failures, want open", cb.State(), calls)
	}

	// Open breaker fails fast without touching the backend.
	if err := cb.Execute(failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if calls != 3 {
		t.Errorf("backend calls = %d, want 3", calls)
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	if err := cb.Execute(func() error { return errBackendDown }); err == nil {
		t.Fatal("Execute() error = nil, want backend error")
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := cb.Execute(func() error { return errBackendDown }); err == nil {
		t.Fatal("Execute() error = nil, want backend error")
	}
	// One intervening success means the streak never reached two.
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestBreakerIgnoresRequestErrors(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	// Caller mistakes and cancellations say nothing about backend health.
	benign := []error{
		types.Errorf(types.KindValidation, "empty term"),
		types.Errorf(types.KindNotFound, "term unknown to source"),
		context.Canceled,
		types.ErrCancelled,
	}
	for _, cause := range benign {
		if err := cb.Execute(func() error { return cause }); !errors.Is(err, cause) {
			t.Fatalf("Execute() error = %v, want %v passed through", err, cause)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v after benign errors, want closed", cb.State())
	}

	if err := cb.Execute(func() error { return errBackendDown }); err == nil {
		t.Fatal("Execute() error = nil, want backend error")
	}
	if cb.State() != StateOpen {
		t.Errorf("State() = %v, want open after one counted failure", cb.State())
	}
}

func TestBreakerCustomCountsFilter(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		Counts:       func(error) bool { return false },
	})
	for i := 0; i < 5; i++ {
		cb.Execute(func() error { return errBackendDown })
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v with counting disabled, want closed", cb.State())
	}
}

func TestBreakerHalfOpenProbes(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	cb.Execute(func() error { return errBackendDown })
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v after reset timeout, want half-open", cb.State())
	}

	// Two successful probes close the breaker.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe #%d error = %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v after successful probes, want closed", cb.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  3,
	})

	cb.Execute(func() error { return errBackendDown })
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return errBackendDown }); !errors.Is(err, errBackendDown) {
		t.Fatalf("probe error = %v, want backend error", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("State() = %v after failed probe, want open", cb.State())
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	cb.Execute(func() error { return errBackendDown })
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("State() = %v after Reset, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute() after Reset error = %v", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
