package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDependency = errors.New("dependency failed")

func failingFn(ctx context.Context) error { return errDependency }
func passingFn(ctx context.Context) error { return nil }

// TestOpensAfterFailureThreshold verifies the breaker opens after
// consecutive failures
func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failingFn); !errors.Is(err, errDependency) {
			t.Fatalf("Expected dependency error, got %v", err)
		}
	}

	if cb.State() != StateOpen {
		t.Errorf("Expected open state, got %s", cb.State())
	}

	// Requests are rejected without invoking the function
	invoked := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("Expected function not to run while open")
	}

	t.Log("✓ Breaker opens after failure threshold and rejects requests")
}

// TestSuccessResetsFailureCount verifies intermittent failures never open
// the breaker
func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		cb.Execute(ctx, failingFn)
		cb.Execute(ctx, failingFn)
		cb.Execute(ctx, passingFn)
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state with intermittent failures, got %s", cb.State())
	}

	t.Log("✓ Successes reset the failure count")
}

// TestHalfOpenAfterTimeout verifies recovery probing after the cooldown
func TestHalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	})

	ctx := context.Background()
	cb.Execute(ctx, failingFn)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	// First probe is allowed through
	if err := cb.Execute(ctx, passingFn); err != nil {
		t.Fatalf("Expected probe to pass, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open state after one success, got %s", cb.State())
	}

	// Second success closes the breaker
	if err := cb.Execute(ctx, passingFn); err != nil {
		t.Fatalf("Expected second probe to pass, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed state after success threshold, got %s", cb.State())
	}

	t.Log("✓ Breaker transitions open -> half-open -> closed on recovery")
}

// TestHalfOpenFailureReopens verifies a failed probe reopens immediately
func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          20 * time.Millisecond,
	})

	ctx := context.Background()
	cb.Execute(ctx, failingFn)
	time.Sleep(30 * time.Millisecond)

	cb.Execute(ctx, failingFn)
	if cb.State() != StateOpen {
		t.Errorf("Expected reopened state after failed probe, got %s", cb.State())
	}

	t.Log("✓ Failed probe reopens the breaker")
}

// TestContextErrorsDoNotTrip verifies caller cancellations are not held
// against the dependency
func TestContextErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		cb.Execute(ctx, func(ctx context.Context) error { return context.Canceled })
		cb.Execute(ctx, func(ctx context.Context) error { return context.DeadlineExceeded })
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", cb.State())
	}

	t.Log("✓ Context cancellations do not trip the breaker")
}

// TestOnStateChangeCallback verifies transitions are observable
func TestOnStateChangeCallback(t *testing.T) {
	type transition struct{ from, to State }
	var transitions []transition

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, transition{from, to})
		},
	})

	cb.Execute(context.Background(), failingFn)
	cb.Reset()

	if len(transitions) != 2 {
		t.Fatalf("Expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Errorf("Expected closed->open, got %s->%s", transitions[0].from, transitions[0].to)
	}
	if transitions[1].from != StateOpen || transitions[1].to != StateClosed {
		t.Errorf("Expected open->closed on reset, got %s->%s", transitions[1].from, transitions[1].to)
	}

	t.Log("✓ State transitions fire the callback")
}

// TestOnStateChangeRunsOutsideLock verifies a callback can read breaker
// state, so a slow or re-entrant subscriber cannot deadlock requests
func TestOnStateChangeRunsOutsideLock(t *testing.T) {
	observed := make(chan State, 1)

	var cb *CircuitBreaker
	cb = NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(from, to State) {
			// Deadlocks if the callback were invoked under the mutex
			observed <- cb.State()
		},
	})

	done := make(chan struct{})
	go func() {
		cb.Execute(context.Background(), failingFn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute deadlocked in the state-change callback")
	}

	if state := <-observed; state != StateOpen {
		t.Errorf("Expected callback to observe open state, got %s", state)
	}

	t.Log("✓ State-change callback runs with the breaker lock released")
}

// TestExecuteWithResult verifies the generic path shares breaker state
func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
	})

	ctx := context.Background()

	val, err := ExecuteWithResult(cb, ctx, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || val != "ok" {
		t.Fatalf("Expected ok result, got %q, %v", val, err)
	}

	_, err = ExecuteWithResult(cb, ctx, func(ctx context.Context) (string, error) {
		return "", errDependency
	})
	if !errors.Is(err, errDependency) {
		t.Fatalf("Expected dependency error, got %v", err)
	}

	// Breaker opened; zero value and ErrCircuitOpen come back
	val, err = ExecuteWithResult(cb, ctx, func(ctx context.Context) (string, error) {
		return "should not run", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if val != "" {
		t.Errorf("Expected zero value, got %q", val)
	}

	t.Log("✓ ExecuteWithResult shares breaker state with Execute")
}
