package retry

import (
	"sync"
	"time"
)

// SlidingWindowBreaker opens once at least threshold events have landed
// within the trailing window, and stays open for coolDown. Unlike
// CircuitBreaker (successive-failure counting with cooldown-based
// half-open), this counts occurrences within a trailing time window
// regardless of intervening successes — the shape the Conversation State
// Machine's fault breaker needs (§4.8: "≥3 faults in 60s opens the circuit
// for 120s").
type SlidingWindowBreaker struct {
	mu            sync.Mutex
	window        time.Duration
	threshold     int
	coolDown      time.Duration
	timestamps    []time.Time
	open          bool
	cooldownUntil time.Time
}

// NewSlidingWindowBreaker creates a breaker that opens once threshold
// events land within window, staying open for coolDown.
func NewSlidingWindowBreaker(window time.Duration, threshold int, coolDown time.Duration) *SlidingWindowBreaker {
	return &SlidingWindowBreaker{window: window, threshold: threshold, coolDown: coolDown}
}

// Record registers an event at now, opening the breaker if the trailing
// window now holds at least threshold events.
func (b *SlidingWindowBreaker) Record(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timestamps = append(b.timestamps, now)
	b.timestamps = prune(b.timestamps, now, b.window)

	if len(b.timestamps) >= b.threshold {
		b.open = true
		b.cooldownUntil = now.Add(b.coolDown)
	}
}

// Allow reports whether the breaker is currently closed (or has cooled
// down since opening). A cooldown elapsing clears the open state and the
// recorded history, giving the domain a clean slate.
func (b *SlidingWindowBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if now.Before(b.cooldownUntil) {
		return false
	}
	b.open = false
	b.timestamps = nil
	return true
}

// IsOpen reports the breaker's open/closed state as of now, without
// mutating it (Allow does the cooldown-expiry transition).
func (b *SlidingWindowBreaker) IsOpen(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return false
	}
	return now.Before(b.cooldownUntil)
}

func prune(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}
