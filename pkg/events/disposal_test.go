package events

import (
	"errors"
	"testing"
)

func TestDisposalOrchestratorOrdersByPriority(t *testing.T) {
	d := NewDisposalOrchestrator()
	var order []string

	d.RegisterFunc("last", 10, func() { order = append(order, "last") })
	d.RegisterFunc("first", 1, func() { order = append(order, "first") })
	d.RegisterFunc("middle", 5, func() { order = append(order, "middle") })

	if err := d.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}

	want := []string{"first", "middle", "last"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDisposalOrchestratorTieBreaksByRegistrationOrder(t *testing.T) {
	d := NewDisposalOrchestrator()
	var order []string

	d.RegisterFunc("a", 0, func() { order = append(order, "a") })
	d.RegisterFunc("b", 0, func() { order = append(order, "b") })

	_ = d.Dispose()

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
}

func TestDisposalOrchestratorIsIdempotent(t *testing.T) {
	d := NewDisposalOrchestrator()
	calls := 0
	d.RegisterFunc("once", 0, func() { calls++ })

	_ = d.Dispose()
	_ = d.Dispose()

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDisposalOrchestratorAggregatesErrors(t *testing.T) {
	d := NewDisposalOrchestrator()
	boom := errors.New("boom")

	d.RegisterFunc("ok", 0, func() {})
	d.Register("failing", 1, DisposableFunc(func() { panic(boom) }))
	d.RegisterFunc("also-ok", 2, func() {})

	err := d.Dispose()
	if err == nil {
		t.Fatal("expected aggregated error, got nil")
	}

	var de *ErrDisposable
	if !errors.As(err, &de) {
		t.Fatalf("expected *ErrDisposable in chain, got %v", err)
	}
	if de.Name != "failing" {
		t.Fatalf("ErrDisposable.Name = %q, want %q", de.Name, "failing")
	}
}

func TestDisposalOrchestratorRunsRemainingStepsAfterFailure(t *testing.T) {
	d := NewDisposalOrchestrator()
	ranAfter := false

	d.Register("boom", 0, DisposableFunc(func() { panic("kaboom") }))
	d.RegisterFunc("after", 1, func() { ranAfter = true })

	_ = d.Dispose()

	if !ranAfter {
		t.Fatal("expected step after a failing step to still run")
	}
}

func TestDisposalOrchestratorIgnoresNilTarget(t *testing.T) {
	d := NewDisposalOrchestrator()
	d.Register("nil", 0, nil)

	if d.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 for nil target", d.Len())
	}
}
