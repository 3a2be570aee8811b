package retry

import (
	"errors"
	"testing"

	"github.com/voxcode/core/pkg/events"
)

func TestIsFatalTrueForNonRetryableFault(t *testing.T) {
	f := events.NewFault(events.DomainAuth, events.Kind("invalid_credential"), nil)
	if !IsFatal(f) {
		t.Fatal("expected non-retryable fault to be fatal")
	}
}

func TestIsFatalFalseForRetryableFault(t *testing.T) {
	f := events.NewFault(events.DomainTransport, events.Kind("ice_connection_failed"), nil).WithRetryable(true)
	if IsFatal(f) {
		t.Fatal("expected retryable fault to not be fatal")
	}
}

func TestIsFatalFalseForPlainError(t *testing.T) {
	if IsFatal(errors.New("ICE_CONNECTION_FAILED")) {
		t.Fatal("expected a plain error with no Fault to be treated as transient")
	}
}
