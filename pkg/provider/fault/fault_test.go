package fault

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

var errBackend = errors.New("backend exploded")

func TestKindOf_ExplicitWrappers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"transient", Transient(errBackend), KindTransient},
		{"permanent", Permanent(errBackend), KindPermanent},
		{"timeout", Timeout(errBackend), KindTimeout},
		{"nested", fmt.Errorf("adapter: %w", Transient(errBackend)), KindTransient},
		{"unwrapped", errBackend, KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf_ChainFallbacks(t *testing.T) {
	if got := KindOf(fmt.Errorf("call: %w", context.DeadlineExceeded)); got != KindTimeout {
		t.Errorf("deadline KindOf = %v, want timeout", got)
	}
	if got := KindOf(fmt.Errorf("dial: %w", syscall.ECONNRESET)); got != KindTransient {
		t.Errorf("reset KindOf = %v, want transient", got)
	}
	if got := KindOf(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)); got != KindTransient {
		t.Errorf("refused KindOf = %v, want transient", got)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Transient(errBackend)) {
		t.Error("transient should be retryable")
	}
	if !Retryable(Timeout(errBackend)) {
		t.Error("timeout should be retryable")
	}
	if Retryable(Permanent(errBackend)) {
		t.Error("permanent should not be retryable")
	}
	if Retryable(errBackend) {
		t.Error("unclassified should not be retryable")
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{429, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
		{504, KindTransient},
		{408, KindTimeout},
		{400, KindPermanent},
		{401, KindPermanent},
		{500, KindPermanent},
	}
	for _, tt := range tests {
		if got := FromStatus(tt.status); got != tt.want {
			t.Errorf("FromStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestErrorChainPreserved(t *testing.T) {
	wrapped := Transient(fmt.Errorf("gateway: %w", errBackend))
	if !errors.Is(wrapped, errBackend) {
		t.Error("errors.Is should see through the fault wrapper")
	}
}
