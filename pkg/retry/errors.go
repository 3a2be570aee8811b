package retry

import (
	"errors"

	"github.com/voxcode/core/pkg/events"
)

// ErrCircuitOpen is returned when an attempt is rejected because the
// domain's circuit breaker is open and its cooldown hasn't elapsed.
var ErrCircuitOpen = errors.New("retry: circuit open")

// ErrBudgetExhausted is returned when cumulative elapsed time has already
// reached the envelope's failure budget before the next attempt could be
// scheduled.
var ErrBudgetExhausted = errors.New("retry: failure budget exhausted")

// IsFatal reports whether err should bypass retry entirely, per §4.1's
// "fatal classification bypasses retry" rule: auth invalid, config
// invalid, and region unsupported are fatal; everything else (network
// timeout, ICE, data-channel) is transient and retryable.
//
// A *events.Fault carries this explicitly via Retryable; any other error
// is treated as transient so unrecognized errors still get a retry budget.
func IsFatal(err error) bool {
	var f *events.Fault
	if errors.As(err, &f) {
		return !f.Retryable
	}
	return false
}
