package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kaizen403/vivavoce/pkg/provider/fault"
)

func fastProfile() Profile {
	return Profile{Retry: fastRetry(3), Timeout: time.Second}
}

func TestCall_RetriesThroughBreaker(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{MaxFailures: 10})
	calls := 0

	err := Call(context.Background(), reg, "llm.evaluate", fastProfile(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fault.Transient(errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestCall_OpenCircuitNotRetried(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	fail := func(context.Context) error { return fault.Transient(errors.New("503")) }

	// Trip the breaker (2 consecutive failures within retries).
	_ = Call(context.Background(), reg, "llm.evaluate", fastProfile(), fail)

	calls := 0
	err := Call(context.Background(), reg, "llm.evaluate", fastProfile(), func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Errorf("fn ran %d times behind an open breaker", calls)
	}
}

func TestCall_BreakerRecoversAfterReset(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})

	_ = Call(context.Background(), reg, "emb.embed", fastProfile(), func(context.Context) error {
		return fault.Permanent(errors.New("boom"))
	})
	if reg.For("emb.embed").State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(15 * time.Millisecond)

	err := Call(context.Background(), reg, "emb.embed", fastProfile(), func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if reg.For("emb.embed").State() != StateClosed {
		t.Errorf("breaker state = %v, want closed after successful probe", reg.For("emb.embed").State())
	}
}

func TestCall_TimeoutWrappedAsTimeoutKind(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{MaxFailures: 10})
	p := Profile{Retry: fastRetry(1), Timeout: 5 * time.Millisecond}

	err := Call(context.Background(), reg, "slow.op", p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if fault.KindOf(err) != fault.KindTimeout {
		t.Errorf("kind = %v, want timeout", fault.KindOf(err))
	}
}

func TestCall_KeysIsolateBreakers(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	_ = Call(context.Background(), reg, "tts.speak", fastProfile(), func(context.Context) error {
		return fault.Permanent(errors.New("boom"))
	})

	if reg.For("tts.speak").State() != StateOpen {
		t.Error("tts.speak breaker should be open")
	}
	if reg.For("asr.stream").State() != StateClosed {
		t.Error("asr.stream breaker should be unaffected")
	}
}

func TestCallValue(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{MaxFailures: 10})

	v, err := CallValue(context.Background(), reg, "llm.structured", fastProfile(), func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("v = %d, want 42", v)
	}

	boom := fault.Permanent(errors.New("boom"))
	_, err = CallValue(context.Background(), reg, "llm.structured", fastProfile(), func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
