package retry

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// defaultThreshold is the successive-failure count that trips a breaker
// when the envelope/domain doesn't specify one.
const defaultThreshold = 3

// CircuitBreaker tracks successive failures for a single domain and opens
// once they cross a threshold, staying open until a cooldown elapses.
type CircuitBreaker struct {
	mu                sync.Mutex
	state             BreakerState
	threshold         int
	successiveFailures int
	cooldownUntil     time.Time
}

func newCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &CircuitBreaker{state: BreakerClosed, threshold: threshold}
}

// Allow reports whether an attempt may proceed right now, transitioning
// open→half-open once the cooldown has elapsed.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if !now.Before(b.cooldownUntil) {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure counter. A
// half-open breaker that sees a success closes immediately.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.successiveFailures = 0
}

// RecordFailure increments the failure counter and opens the breaker once
// it reaches the threshold, scheduling a cooldown from now.
func (b *CircuitBreaker) RecordFailure(now time.Time, coolDown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successiveFailures++
	if b.state == BreakerHalfOpen || b.successiveFailures >= b.threshold {
		b.state = BreakerOpen
		b.cooldownUntil = now.Add(coolDown)
	}
}

// State reports the breaker's current state, mainly for diagnostics/tests.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry is a domain-keyed set of circuit breakers. Domains are created
// lazily on first use, each with its own threshold.
type Registry struct {
	breakers sync.Map // domain string -> *CircuitBreaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Get returns the breaker for domain, creating one with threshold if it
// doesn't exist yet. threshold is ignored on subsequent calls for the same
// domain.
func (r *Registry) Get(domain string, threshold int) *CircuitBreaker {
	if v, ok := r.breakers.Load(domain); ok {
		return v.(*CircuitBreaker)
	}
	b := newCircuitBreaker(threshold)
	actual, _ := r.breakers.LoadOrStore(domain, b)
	return actual.(*CircuitBreaker)
}
