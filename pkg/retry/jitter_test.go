package retry

import (
	"testing"
	"time"
)

func TestHashUnitIsDeterministic(t *testing.T) {
	a := hashUnit("retry-correlation-001", 2)
	b := hashUnit("retry-correlation-001", 2)
	if a != b {
		t.Fatalf("hashUnit not deterministic: %v vs %v", a, b)
	}
	if a < 0 || a >= 1 {
		t.Fatalf("hashUnit = %v, want value in [0,1)", a)
	}
}

func TestHashUnitVariesWithAttempt(t *testing.T) {
	a := hashUnit("corr", 1)
	b := hashUnit("corr", 2)
	if a == b {
		t.Fatal("expected different attempts to (almost always) hash differently")
	}
}

func TestApplyJitterNoneIsIdentity(t *testing.T) {
	d := 500 * time.Millisecond
	if got := applyJitter(JitterNone, d, "corr", 1); got != d {
		t.Fatalf("applyJitter(none) = %v, want %v unchanged", got, d)
	}
}

func TestApplyJitterFullStaysWithinBounds(t *testing.T) {
	d := 1000 * time.Millisecond
	got := applyJitter(JitterDeterministicFull, d, "corr", 1)
	if got < 0 || got > d {
		t.Fatalf("applyJitter(full) = %v, want within [0, %v]", got, d)
	}
}

func TestApplyJitterFullIsDeterministic(t *testing.T) {
	d := 1000 * time.Millisecond
	a := applyJitter(JitterDeterministicFull, d, "retry-correlation-001", 2)
	b := applyJitter(JitterDeterministicFull, d, "retry-correlation-001", 2)
	if a != b {
		t.Fatalf("applyJitter not deterministic: %v vs %v", a, b)
	}
}

func TestApplyJitterEqualStaysWithinBounds(t *testing.T) {
	d := 1000 * time.Millisecond
	got := applyJitter(JitterDeterministicEqual, d, "corr", 3)
	if got < d/2 || got > d+d/2 {
		t.Fatalf("applyJitter(equal) = %v, want within [%v, %v]", got, d/2, d+d/2)
	}
}

func TestApplyJitterZeroDelayStaysZero(t *testing.T) {
	if got := applyJitter(JitterDeterministicFull, 0, "corr", 1); got != 0 {
		t.Fatalf("applyJitter(0) = %v, want 0", got)
	}
}
