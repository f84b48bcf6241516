package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(max int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  max,
		ResetTimeout: reset,
		Now:          clk.Now,
	}), clk
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 1 {
		t.Errorf("halfOpenMax = %d, want 1", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errTest })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errTest })

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CancellationDoesNotCount(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)

	err := cb.Execute(func() error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)
	_ = cb.Execute(func() error { return errTest })

	clk.Advance(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)
	_ = cb.Execute(func() error { return errTest })

	clk.Advance(time.Minute)
	_ = cb.Execute(func() error { return errTest })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	clk.Advance(30 * time.Second)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen before the reset timeout", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var got []string
	clk := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          clk.Now,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errTest })
	clk.Advance(time.Second)
	_ = cb.Execute(func() error { return nil })

	want := []string{"llm:closed->open", "llm:open->half-open", "llm:half-open->closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	_ = cb.Execute(func() error { return errTest })
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
