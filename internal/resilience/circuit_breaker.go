package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call when the breaker rejects a request
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // calls pass through
	StateOpen                         // calls fail fast until the cooldown ends
	StateHalfOpen                     // one probe at a time decides recovery
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// probeSuccesses is the number of consecutive half-open successes that
// close the circuit again
const probeSuccesses = 2

// CircuitBreaker stops calling an upstream service after maxFailures
// consecutive failures and lets a single probe through once cooldown has
// passed.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	probing   bool
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed breaker for the named service
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Name returns the protected service name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call runs fn unless the circuit is open. A non-nil error from fn counts
// as a failure; callers filter out errors that say nothing about the
// service's health before returning them.
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	cb.done(probe, err == nil)
	return err
}

func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.state = StateHalfOpen
		cb.successes = 0
	}

	switch cb.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if cb.probing {
			return false, false
		}
		cb.probing = true
		return true, true
	}
	return false, false
}

func (cb *CircuitBreaker) done(probe, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}

	if !success {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.trip()
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen && probe {
		cb.successes++
		if cb.successes >= probeSuccesses {
			cb.state = StateClosed
			cb.successes = 0
		}
	}
}

// trip opens the circuit. Callers hold mu.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.successes = 0
}

// State returns the current state without admitting a request
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
