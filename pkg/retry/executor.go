package retry

import (
	"context"
	"time"
)

// Clock abstracts time so tests can drive retry loops without sleeping for
// real. DefaultClock wraps the time package.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// DefaultClock is the real-time Clock used outside tests.
type DefaultClock struct{}

func (DefaultClock) Now() time.Time                         { return time.Now() }
func (DefaultClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Plan describes the retry about to be scheduled.
type Plan struct {
	Attempt int
	Delay   time.Duration
}

// FailureDecision is what OnFailure returns: whether to retry, and the
// error to surface if not (normally the original error, but a hook may
// translate it).
type FailureDecision struct {
	Err         error
	ShouldRetry bool
}

// Hooks are the callback surface an operation's caller supplies. All are
// optional.
type Hooks struct {
	// OnFailure classifies an attempt's error. If nil, the default
	// classification is: IsFatal(err) decides ShouldRetry.
	OnFailure func(attempt int, err error) FailureDecision
	// OnRetryScheduled fires once a retry's delay has been computed, before
	// waiting on it.
	OnRetryScheduled func(plan Plan)
	// OnCircuitOpen fires when an attempt is rejected outright because the
	// domain breaker is open.
	OnCircuitOpen func()
	// OnComplete fires exactly once, after the final attempt (success or
	// exhausted retries).
	OnComplete func(attempts int, err error)
}

// Executor runs operations under a retry Envelope, tracking a circuit
// breaker per domain.
type Executor struct {
	breakers *Registry
	clock    Clock
}

// NewExecutor creates an Executor with its own breaker registry and the
// real-time clock.
func NewExecutor() *Executor {
	return &Executor{breakers: NewRegistry(), clock: DefaultClock{}}
}

// NewExecutorWithClock creates an Executor using clock, for deterministic
// tests.
func NewExecutorWithClock(clock Clock) *Executor {
	return &Executor{breakers: NewRegistry(), clock: clock}
}

// Execute runs op under envelope, retrying per its policy/jitter until it
// succeeds, a failure is classified non-retryable, maxAttempts is reached,
// or the failure budget is exhausted. A retry delay that would overrun the
// budget is shortened to the time left in it. Go doesn't allow generic methods, so
// this is a package-level function parameterized over the operation's
// result type.
func Execute[T any](ctx context.Context, ex *Executor, envelope Envelope, correlationID string, op func(context.Context) (T, error), hooks Hooks) (T, error) {
	var zero T
	breaker := ex.breakers.Get(envelope.Domain, envelope.Threshold)

	maxAttempts := envelope.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	start := ex.clock.Now()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		now := ex.clock.Now()
		if !breaker.Allow(now) {
			if hooks.OnCircuitOpen != nil {
				hooks.OnCircuitOpen()
			}
			if hooks.OnComplete != nil {
				hooks.OnComplete(attempt-1, ErrCircuitOpen)
			}
			return zero, ErrCircuitOpen
		}

		result, err := op(ctx)
		if err == nil {
			breaker.RecordSuccess()
			if hooks.OnComplete != nil {
				hooks.OnComplete(attempt, nil)
			}
			return result, nil
		}

		lastErr = err
		decision := classify(hooks, attempt, err)

		if !decision.ShouldRetry || attempt >= maxAttempts {
			breaker.RecordFailure(ex.clock.Now(), envelope.CoolDown())
			if hooks.OnComplete != nil {
				hooks.OnComplete(attempt, decision.Err)
			}
			return zero, decision.Err
		}
		breaker.RecordFailure(ex.clock.Now(), envelope.CoolDown())

		delay := envelope.delayForAttempt(attempt + 1)
		delay = applyJitter(envelope.JitterStrategy, delay, correlationID, attempt+1)

		if envelope.FailureBudgetMs > 0 {
			remaining := envelope.FailureBudget() - ex.clock.Now().Sub(start)
			if remaining <= 0 {
				if hooks.OnComplete != nil {
					hooks.OnComplete(attempt, ErrBudgetExhausted)
				}
				return zero, ErrBudgetExhausted
			}
			if delay > remaining {
				delay = remaining
			}
		}

		plan := Plan{Attempt: attempt + 1, Delay: delay}
		if hooks.OnRetryScheduled != nil {
			hooks.OnRetryScheduled(plan)
		}

		select {
		case <-ctx.Done():
			if hooks.OnComplete != nil {
				hooks.OnComplete(attempt, ctx.Err())
			}
			return zero, ctx.Err()
		case <-ex.clock.After(delay):
		}
	}

	return zero, lastErr
}

func classify(hooks Hooks, attempt int, err error) FailureDecision {
	if hooks.OnFailure != nil {
		return hooks.OnFailure(attempt, err)
	}
	return FailureDecision{Err: err, ShouldRetry: !IsFatal(err)}
}
