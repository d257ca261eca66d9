// Package resilience provides failure-handling primitives for external
// dependencies: a circuit breaker guarding the durable cache tier and a
// bounded retry used by the alerting path.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents circuit breaker state
type State int

const (
	// StateClosed allows all requests
	StateClosed State = iota
	// StateOpen rejects all requests
	StateOpen
	// StateHalfOpen allows limited requests to test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration

	state         State
	failures      int
	successes     int
	lastFailTime  time.Time
	mu            sync.RWMutex
	onStateChange func(from, to State)
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // Number of failures before opening
	SuccessThreshold int           // Number of successes in half-open before closing
	Timeout          time.Duration // Time to wait before transitioning from open to half-open
	OnStateChange    func(from, to State)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		state:            StateClosed,
		onStateChange:    cfg.OnStateChange,
	}
}

// Execute executes a function through the circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)

	return err
}

// ExecuteWithResult executes a function with result through circuit breaker.
// A standalone generic function rather than a method, as Go does not
// support generic methods.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := cb.beforeRequest(); err != nil {
		return zero, err
	}

	res, err := fn(ctx)
	cb.afterRequest(err)

	return res, err
}

// transition is a recorded state change awaiting notification.
type transition struct {
	from, to State
}

// beforeRequest checks if request should be allowed
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()

	var tr *transition
	var err error
	switch cb.state {
	case StateClosed:
		// Allow request

	case StateOpen:
		if time.Since(cb.lastFailTime) > cb.timeout {
			tr = cb.setState(StateHalfOpen)
		} else {
			err = ErrCircuitOpen
		}

	case StateHalfOpen:
		// Allow request (testing recovery)

	default:
		err = ErrCircuitOpen
	}

	cb.mu.Unlock()
	cb.notify(tr)
	return err
}

// afterRequest records the result of a request
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()

	var tr *transition
	if err != nil {
		// Context cancellations say nothing about dependency health
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			cb.mu.Unlock()
			return
		}
		cb.failures++
		cb.successes = 0
		cb.lastFailTime = time.Now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				tr = cb.setState(StateOpen)
			}
		case StateHalfOpen:
			tr = cb.setState(StateOpen)
		}
	} else {
		cb.successes++

		switch cb.state {
		case StateClosed:
			cb.failures = 0

		case StateHalfOpen:
			if cb.successes >= cb.successThreshold {
				tr = cb.setState(StateClosed)
				cb.failures = 0
			}
		}
	}

	cb.mu.Unlock()
	cb.notify(tr)
}

// setState transitions to a new state. The caller must hold cb.mu and
// deliver the returned transition via notify after releasing it.
func (cb *CircuitBreaker) setState(newState State) *transition {
	oldState := cb.state
	cb.state = newState
	if oldState == newState {
		return nil
	}
	return &transition{from: oldState, to: newState}
}

// notify fires the state-change callback outside the lock. A slow
// subscriber (a publish to an alerting channel, say) must never stall
// requests passing through the breaker on other goroutines.
func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil || cb.onStateChange == nil {
		return
	}
	cb.onStateChange(tr.from, tr.to)
}

// State returns current state
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Name returns circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.mu.Unlock()

	cb.notify(tr)
}

// Stats returns circuit breaker statistics
func (cb *CircuitBreaker) Stats() (state State, failures, successes int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.failures, cb.successes
}
