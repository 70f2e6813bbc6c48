package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream unavailable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("test", maxFailures, 10*time.Second)
	cb.now = clock.Now
	return cb, clock
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)

	cb.Call(fail)
	cb.Call(fail)
	cb.Call(succeed)
	cb.Call(fail)
	cb.Call(fail)
	if cb.State() != StateClosed {
		t.Fatalf("Expected a success to reset the failure count, got %s", cb.State())
	}

	if err := cb.Call(fail); !errors.Is(err, errUpstream) {
		t.Errorf("Expected upstream error to pass through, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after 3 consecutive failures, got %s", cb.State())
	}

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected open circuit to skip the call")
	}
}

func TestCircuitBreaker_ProbesAfterCooldown(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.Call(fail)

	clock.Advance(9 * time.Second)
	if err := cb.Call(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected circuit still open before cooldown, got %v", err)
	}

	clock.Advance(time.Second)
	if err := cb.Call(succeed); err != nil {
		t.Fatalf("Expected probe to be admitted, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open after one probe, got %s", cb.State())
	}

	cb.Call(succeed)
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after %d successful probes, got %s", probeSuccesses, cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		cb.Call(fail)
	}

	clock.Advance(10 * time.Second)
	cb.Call(fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected failed probe to reopen, got %s", cb.State())
	}

	clock.Advance(5 * time.Second)
	if err := cb.Call(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected cooldown to restart from the failed probe, got %v", err)
	}
}

func TestCircuitBreaker_OneProbeAtATime(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.Call(fail)
	clock.Advance(10 * time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()

	<-inProbe
	if err := cb.Call(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected second caller rejected during probe, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
	if err := cb.Call(succeed); err != nil {
		t.Errorf("Expected next probe admitted, got %v", err)
	}
}

func TestNewCircuitBreaker_MinimumOneFailure(t *testing.T) {
	cb, _ := newTestBreaker(0)
	cb.Call(fail)
	if cb.State() != StateOpen {
		t.Errorf("Expected maxFailures to be at least 1, got %s", cb.State())
	}
	if cb.Name() != "test" {
		t.Errorf("Expected name 'test', got %q", cb.Name())
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half-open",
		CircuitState(42): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("CircuitState(%d).String(): expected %q, got %q", int(state), want, got)
		}
	}
}
