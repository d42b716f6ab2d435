package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errTestError = errors.New("test error")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := New(Config{FailureThreshold: threshold, Timeout: time.Minute})
	cb.now = clock.now
	return cb, clock
}

func fail() error { return errTestError }
func succeed() error { return nil }

func TestCircuitBreaker_PassesErrorsThrough(t *testing.T) {
	cb, _ := newTestBreaker(3)

	if err := cb.Execute(fail); !errors.Is(err, errTestError) {
		t.Errorf("Expected test error, got: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(2)

	cb.Execute(fail)
	cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected state open, got: %v", cb.State())
	}

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)

	cb.Execute(fail)
	cb.Execute(succeed)
	cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Errorf("Expected state closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_ProbeAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.Execute(fail)

	clock.t = clock.t.Add(time.Minute)
	if err := cb.Execute(fail); !errors.Is(err, errTestError) {
		t.Fatalf("Expected probe to run, got: %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected failed probe to reopen, got: %v", cb.State())
	}
	if err := cb.Execute(succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen right after reopening, got: %v", err)
	}

	clock.t = clock.t.Add(time.Minute)
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Expected probe to succeed, got: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state closed, got: %v", cb.State())
	}
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.Execute(fail)
	clock.t = clock.t.Add(time.Minute)

	inner := make(chan error, 1)
	cb.Execute(func() error {
		inner <- cb.Execute(succeed)
		return nil
	})
	if err := <-inner; !errors.Is(err, ErrOpen) {
		t.Errorf("Expected concurrent call to be rejected during probe, got: %v", err)
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb, clock := newTestBreaker(1)

	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.Execute(fail)
	clock.t = clock.t.Add(time.Minute)
	cb.Execute(succeed)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %v, got: %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}
