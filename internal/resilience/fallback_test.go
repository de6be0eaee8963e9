package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newGroup(3)

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newGroup(3)

	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "answer from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "answer from secondary" {
		t.Fatalf("got %q", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := newGroup(3)

	err := fg.Execute(context.Background(), func(context.Context, string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the last provider error wrapped", err)
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	fg := newGroup(2)

	for range 2 {
		_ = fg.Execute(context.Background(), func(_ context.Context, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	status := fg.Status()
	if len(status) != 2 || status[0].State != StateOpen || status[1].State != StateClosed {
		t.Fatalf("status = %+v", status)
	}

	var called []string
	_ = fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return nil
	})
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary] while primary circuit is open", called)
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	fg := newGroup(3)
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := fg.Execute(ctx, func(_ context.Context, v string) error {
		called = append(called, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Fatal("cancellation should not be reported as ErrAllFailed")
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the primary", called)
	}
}

func TestFallbackGroup_Primary(t *testing.T) {
	if got := newGroup(1).Primary(); got != "primary" {
		t.Errorf("Primary() = %q", got)
	}
}

func TestFallbackGroup_PermanentErrorStopsFailover(t *testing.T) {
	errBadUnit := errors.New("unreadable unit")
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
		Permanent:      func(err error) bool { return errors.Is(err, errBadUnit) },
	})
	fg.AddFallback("secondary", "secondary")

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		called = append(called, v)
		return errBadUnit
	})
	if !errors.Is(err, errBadUnit) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want the permanent error alone", err)
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the primary", called)
	}
	if st := fg.Status()[0]; st.State != StateClosed || st.Failures != 0 {
		t.Errorf("primary status = %+v, want closed with no failures", st)
	}
}

func TestFallbackGroup_StatusReportsFailures(t *testing.T) {
	fg := newGroup(5)

	_ = fg.Execute(context.Background(), func(_ context.Context, v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})

	st := fg.Status()
	if st[0].Name != "primary" || st[0].Failures != 1 || st[0].LastError != errTest.Error() {
		t.Errorf("primary status = %+v", st[0])
	}
	if st[1].Name != "secondary" || st[1].Failures != 0 {
		t.Errorf("secondary status = %+v", st[1])
	}
}
