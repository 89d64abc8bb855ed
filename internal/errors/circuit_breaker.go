package errors

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// Closed means calls flow normally.
	Closed CircuitState = iota
	// Open means calls are refused until the cool-down passes.
	Open
	// HalfOpen lets a single probe through.
	HalfOpen
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute while the breaker refuses calls.
var ErrCircuitOpen = New("circuit breaker is open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Cooldown         time.Duration // time spent open before probing
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing collaborator for a while.
type CircuitBreaker struct {
	mu sync.Mutex

	config CircuitBreakerConfig
	state  CircuitState

	failures      int
	successes     int
	openedAt      time.Time
	probing       bool
	now           func() time.Time
	onStateChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// OnStateChange sets a callback for state changes. It runs under the
// breaker's lock and must not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return false
		}
		cb.transitionTo(HalfOpen)
		cb.probing = true
		return true
	case HalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failures = 0
	case HalfOpen:
		cb.probing = false
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(Closed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(Open)
		}
	case HalfOpen:
		cb.transitionTo(Open)
	}
}

func (cb *CircuitBreaker) transitionTo(next CircuitState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.failures = 0
	cb.successes = 0
	cb.probing = false
	if next == Open {
		cb.openedAt = cb.now()
	}
	if cb.onStateChange != nil {
		cb.onStateChange(prev, next)
	}
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(Closed)
	cb.failures = 0
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
