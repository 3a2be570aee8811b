package sessiontimer

import (
	"sync"
	"time"

	"github.com/voxcode/core/pkg/events"
)

// namedTimer wraps a *time.Timer (or *time.Ticker for heartbeat) as a
// Disposable and records the deadline it was last armed for, since Go's
// timers don't expose remaining time once started.
type namedTimer struct {
	mu       sync.Mutex
	deadline time.Time
	interval time.Duration // non-zero for repeating (heartbeat) timers
	raw      *time.Timer   // set for once-firing, resettable timers (renewal, inactivity)
	stop     func() bool
	active   bool
}

func newOnceTimer(d time.Duration, fire func()) *namedTimer {
	t := time.AfterFunc(d, fire)
	return &namedTimer{
		deadline: time.Now().Add(d),
		raw:      t,
		stop:     t.Stop,
		active:   true,
	}
}

func newRepeatingTimer(interval time.Duration, fire func()) *namedTimer {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fire()
			}
		}
	}()
	return &namedTimer{
		deadline: time.Now().Add(interval),
		interval: interval,
		stop: func() bool {
			ticker.Stop()
			close(done)
			return true
		},
		active: true,
	}
}

// Dispose stops the timer. Idempotent.
func (t *namedTimer) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.active = false
	t.stop()
}

// reset re-arms a once-firing timer at a new deadline relative to now. It
// restarts the inactivity timer on activity and re-arms the renewal timer
// on reschedule; it does nothing for the repeating heartbeat timer.
func (t *namedTimer) reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.raw == nil {
		return
	}
	if !t.raw.Stop() {
		select {
		case <-t.raw.C:
		default:
		}
	}
	t.raw.Reset(d)
	t.deadline = time.Now().Add(d)
}

func (t *namedTimer) status(now time.Time) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return Status{Active: t.active, Remaining: remaining}
}

var _ events.Disposable = (*namedTimer)(nil)

// Status is a point-in-time snapshot of one timer for diagnostics.
type Status struct {
	Active    bool
	Remaining time.Duration
}
