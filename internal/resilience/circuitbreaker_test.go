package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/kaizen403/vivavoce/pkg/provider/fault"
)

var errProvider = errors.New("provider failure")

// trip drives n consecutive failures through the breaker.
func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errProvider })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm.structured"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "llm.structured" {
		t.Errorf("Name = %q", cb.Name())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm.structured",
		MaxFailures:  5,
		ResetTimeout: time.Hour,
	})

	trip(cb, 4)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed before threshold", cb.State())
	}

	trip(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 5 failures", cb.State())
	}

	// Calls behind an open breaker are rejected without running, and the
	// rejection is a permanent fault so the retry layer gives up immediately.
	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if fault.KindOf(err) != fault.KindPermanent {
		t.Errorf("kind = %v, want permanent", fault.KindOf(err))
	}
	if ran {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "emb.batch", MaxFailures: 3})

	trip(cb, 2)
	_ = cb.Execute(func() error { return nil })

	// Two more failures should not trip a 3-failure breaker after the success.
	trip(cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success resets the counter)", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAfterResetWindow(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "asr.stream",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
	})

	trip(cb, 2)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after the reset window", cb.State())
	}
}

func TestCircuitBreaker_SingleProbeCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "tts.stream",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
	})

	trip(cb, 2)
	time.Sleep(15 * time.Millisecond)

	// One successful call after the reset window closes the circuit.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: unexpected error: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after one successful probe", cb.State())
	}

	// And the failure counter started over.
	trip(cb, 1)
	if cb.State() != StateClosed {
		t.Fatal("one post-recovery failure should not re-open a 2-failure breaker")
	}
}

func TestCircuitBreaker_ReopensOnProbeFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm.report",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
	})

	trip(cb, 2)
	time.Sleep(15 * time.Millisecond)

	if err := cb.Execute(func() error { return errProvider }); err == nil {
		t.Fatal("expected error from failing probe")
	}

	// The reset window restarted, so the breaker reports open again.
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after a failed probe", cb.State())
	}
}

func TestCircuitBreaker_OneProbeAtATime(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm.detect",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})

	trip(cb, 1)
	time.Sleep(15 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeErr := make(chan error, 1)
	go func() {
		probeErr <- cb.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	// While the probe is in flight, further calls are rejected.
	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent call err = %v, want ErrCircuitOpen", err)
	}

	close(release)
	if err := <-probeErr; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed once the probe succeeds", cb.State())
	}
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm.detect",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	trip(cb, 2)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after manual reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
