package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

// backend is a minimal test double for fallback groups.
type backend struct {
	name  string
	err   error
	calls int
}

func (b *backend) do() (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return b.name, nil
}

func newGroup(primary *backend, fallbacks ...*backend) *FallbackGroup[*backend] {
	g := NewFallbackGroup(primary, primary.name, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for _, f := range fallbacks {
		g.AddFallback(f.name, f)
	}
	return g
}

func TestFallbackPrefersPrimary(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary"}
	secondary := &backend{name: "secondary"}
	g := newGroup(primary, secondary)

	got, err := ExecuteWithResult(g, (*backend).do)
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != "primary" {
		t.Errorf("served by %q, want primary", got)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary calls = %d, want 0", secondary.calls)
	}
}

func TestFallbackFailsOver(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary", err: errBackendDown}
	secondary := &backend{name: "secondary"}
	g := newGroup(primary, secondary)

	got, err := ExecuteWithResult(g, (*backend).do)
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != "secondary" {
		t.Errorf("served by %q, want secondary", got)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
}

func TestFallbackSkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary", err: errBackendDown}
	secondary := &backend{name: "secondary"}
	g := newGroup(primary, secondary)

	// Two failing calls trip the primary's breaker (MaxFailures: 2).
	for i := 0; i < 3; i++ {
		if _, err := ExecuteWithResult(g, (*backend).do); err != nil {
			t.Fatalf("ExecuteWithResult() #%d error = %v", i, err)
		}
	}
	if primary.calls != 2 {
		t.Errorf("primary calls = %d, want 2 before the breaker opened", primary.calls)
	}
	if secondary.calls != 3 {
		t.Errorf("secondary calls = %d, want 3", secondary.calls)
	}
}

func TestFallbackAllFailed(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary", err: errBackendDown}
	secondary := &backend{name: "secondary", err: types.Errorf(types.KindExternal, "secondary also down")}
	g := newGroup(primary, secondary)

	_, err := ExecuteWithResult(g, (*backend).do)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("ExecuteWithResult() error = %v, want ErrAllFailed", err)
	}
}

func TestFallbackStopsOnRequestError(t *testing.T) {
	t.Parallel()

	badInput := types.Errorf(types.KindValidation, "audio shorter than one frame")
	primary := &backend{name: "primary", err: badInput}
	secondary := &backend{name: "secondary"}
	g := newGroup(primary, secondary)

	// A request the primary rejected as malformed would fail everywhere;
	// the chain must not mask it behind a fallback attempt.
	_, err := ExecuteWithResult(g, (*backend).do)
	if !errors.Is(err, badInput) {
		t.Fatalf("ExecuteWithResult() error = %v, want validation error", err)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary calls = %d, want 0", secondary.calls)
	}
}

func TestFallbackStopsOnCancellation(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary", err: types.ErrCancelled}
	secondary := &backend{name: "secondary"}
	g := newGroup(primary, secondary)

	_, err := ExecuteWithResult(g, (*backend).do)
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("ExecuteWithResult() error = %v, want ErrCancelled", err)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary calls = %d, want 0", secondary.calls)
	}
}

func TestFallbackExecuteWithoutResult(t *testing.T) {
	t.Parallel()

	primary := &backend{name: "primary", err: errBackendDown}
	secondary := &backend{name: "secondary"}
	g := newGroup(primary, secondary)

	err := g.Execute(func(b *backend) error {
		_, err := b.do()
		return err
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
}
