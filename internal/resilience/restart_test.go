package resilience

import (
	"testing"
	"time"
)

func TestRestartPolicy_LinearDelays(t *testing.T) {
	p := NewRestartPolicy(3, time.Second)

	for i := 1; i <= 3; i++ {
		delay, attempt, ok := p.Next()
		if !ok {
			t.Fatalf("Expected attempt %d to be allowed", i)
		}
		if attempt != i {
			t.Errorf("Expected attempt %d, got %d", i, attempt)
		}
		if delay != time.Duration(i)*time.Second {
			t.Errorf("Expected delay %v, got %v", time.Duration(i)*time.Second, delay)
		}
	}

	if _, _, ok := p.Next(); ok {
		t.Error("Expected fourth attempt to be refused")
	}
	if !p.Exhausted() {
		t.Error("Expected policy to be exhausted")
	}
}

func TestRestartPolicy_SuccessResets(t *testing.T) {
	p := NewRestartPolicy(3, 10*time.Millisecond)
	p.Next()
	p.Next()

	p.Success()

	if p.Attempts() != 0 {
		t.Errorf("Expected 0 attempts after success, got %d", p.Attempts())
	}
	delay, attempt, ok := p.Next()
	if !ok || attempt != 1 || delay != 10*time.Millisecond {
		t.Errorf("Expected first attempt with base delay, got attempt=%d delay=%v ok=%v", attempt, delay, ok)
	}
}

func TestRestartPolicy_ZeroAttempts(t *testing.T) {
	p := NewRestartPolicy(0, time.Second)
	if _, _, ok := p.Next(); ok {
		t.Error("Expected no attempts with MaxAttempts 0")
	}
}
