package resilience

import (
	"sync"
	"time"
)

// RestartPolicy bounds automatic restarts of a long-running session.
// The delay grows linearly: BaseDelay multiplied by the attempt number.
// Success resets the attempt counter.
type RestartPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	mu       sync.Mutex
	attempts int
}

// NewRestartPolicy creates a restart policy
func NewRestartPolicy(maxAttempts int, baseDelay time.Duration) *RestartPolicy {
	return &RestartPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
	}
}

// Next reserves the next attempt and returns its delay.
// ok is false once MaxAttempts consecutive attempts have been used.
func (p *RestartPolicy) Next() (delay time.Duration, attempt int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attempts >= p.MaxAttempts {
		return 0, p.attempts, false
	}
	p.attempts++
	return p.BaseDelay * time.Duration(p.attempts), p.attempts, true
}

// Success resets the attempt counter
func (p *RestartPolicy) Success() {
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()
}

// Attempts returns the number of consecutive attempts used
func (p *RestartPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Exhausted reports whether no further attempts are allowed
func (p *RestartPolicy) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts >= p.MaxAttempts
}
