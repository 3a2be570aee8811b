package retry

import "time"

// Policy selects the backoff shape used to compute the delay before the
// next attempt.
type Policy string

const (
	PolicyNone        Policy = "none"
	PolicyImmediate   Policy = "immediate"
	PolicyLinear      Policy = "linear"
	PolicyExponential Policy = "exponential"
	PolicyHybrid      Policy = "hybrid"
)

// JitterStrategy selects how the computed delay is perturbed.
type JitterStrategy string

const (
	JitterNone             JitterStrategy = "none"
	JitterDeterministicFull  JitterStrategy = "deterministic-full"
	JitterDeterministicEqual JitterStrategy = "deterministic-equal"
)

// Envelope configures one retryable operation: its backoff shape, jitter,
// attempt cap, and the failure budget that bounds total elapsed time across
// every attempt.
type Envelope struct {
	Domain          string
	Policy          Policy
	InitialDelayMs  int64
	Multiplier      float64
	MaxDelayMs      int64
	MaxAttempts     int
	JitterStrategy  JitterStrategy
	CoolDownMs      int64
	FailureBudgetMs int64
	// Threshold is the number of successive failures that trips this
	// domain's circuit breaker open. Only the first Envelope to reach a
	// given Domain through Execute sets it; the registry keeps one breaker
	// per domain for the life of the Executor.
	Threshold int
}

// InitialDelay, MaxDelay, CoolDown, and FailureBudget are time.Duration
// conveniences over the envelope's millisecond fields.
func (e Envelope) InitialDelay() time.Duration {
	return time.Duration(e.InitialDelayMs) * time.Millisecond
}

func (e Envelope) MaxDelay() time.Duration {
	return time.Duration(e.MaxDelayMs) * time.Millisecond
}

func (e Envelope) CoolDown() time.Duration {
	return time.Duration(e.CoolDownMs) * time.Millisecond
}

func (e Envelope) FailureBudget() time.Duration {
	return time.Duration(e.FailureBudgetMs) * time.Millisecond
}

// delayForAttempt computes the pre-jitter delay for the given 1-indexed
// attempt, per the envelope's policy.
func (e Envelope) delayForAttempt(attempt int) time.Duration {
	initial := e.InitialDelay()
	maxDelay := e.MaxDelay()

	clamp := func(d time.Duration) time.Duration {
		if maxDelay > 0 && d > maxDelay {
			return maxDelay
		}
		return d
	}

	switch e.Policy {
	case PolicyExponential:
		mult := e.Multiplier
		if mult <= 0 {
			mult = 2
		}
		d := float64(initial) * pow(mult, float64(attempt-1))
		return clamp(time.Duration(d))
	case PolicyLinear:
		step := time.Duration(float64(attempt-1) * e.Multiplier * float64(time.Millisecond))
		return clamp(initial + step)
	case PolicyHybrid:
		switch {
		case attempt <= 1:
			return 0
		case attempt == 2:
			return clamp(initial)
		default:
			exp := Envelope{Policy: PolicyExponential, InitialDelayMs: e.InitialDelayMs, Multiplier: e.Multiplier, MaxDelayMs: e.MaxDelayMs}
			return exp.delayForAttempt(attempt - 2)
		}
	case PolicyImmediate, PolicyNone:
		return 0
	default:
		return 0
	}
}

func pow(base, exp float64) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
