package sessiontimer

import (
	"sync"
	"time"

	"github.com/voxcode/core/pkg/events"
)

// Callbacks are the three handlers a session wires to its timers, per
// §4.3.
type Callbacks struct {
	OnRenewalRequired func(sessionID string)
	OnTimeoutExpired  func(sessionID string)
	OnHeartbeatCheck  func(sessionID string)
}

// Config sets the three cadences, per §6.3's recognized options.
type Config struct {
	InactivityTimeout time.Duration
	HeartbeatInterval time.Duration
}

type sessionTimers struct {
	renewal    *namedTimer
	inactivity *namedTimer
	heartbeat  *namedTimer
	disposal   *events.DisposalOrchestrator
}

// Manager schedules and tracks the renewal/inactivity/heartbeat timers for
// every active session. Each session's timers are registered in their own
// priority-ordered DisposalOrchestrator so EndSession tears all three down
// deterministically regardless of which fired or was cancelled first.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionTimers
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*sessionTimers)}
}

// StartSession arms the renewal timer at renewAt and the inactivity and
// heartbeat timers per cfg, wiring cb's callbacks. A session's timers
// replace any previous entry for the same sessionID.
func (m *Manager) StartSession(sessionID string, renewAt time.Time, cfg Config, cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[sessionID]; ok {
		existing.disposal.Dispose()
	}

	disposal := events.NewDisposalOrchestrator()
	st := &sessionTimers{disposal: disposal}

	renewalDelay := time.Until(renewAt)
	if renewalDelay < 0 {
		renewalDelay = 0
	}
	st.renewal = newOnceTimer(renewalDelay, func() {
		if cb.OnRenewalRequired != nil {
			cb.OnRenewalRequired(sessionID)
		}
	})
	disposal.Register("renewal", 0, st.renewal)

	inactivityTimeout := cfg.InactivityTimeout
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	st.inactivity = newOnceTimer(inactivityTimeout, func() {
		if cb.OnTimeoutExpired != nil {
			cb.OnTimeoutExpired(sessionID)
		}
	})
	disposal.Register("inactivity", 1, st.inactivity)

	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	st.heartbeat = newRepeatingTimer(heartbeatInterval, func() {
		if cb.OnHeartbeatCheck != nil {
			cb.OnHeartbeatCheck(sessionID)
		}
	})
	disposal.Register("heartbeat", 2, st.heartbeat)

	m.sessions[sessionID] = st
}

// NotifyActivity resets the inactivity timer for sessionID, per §4.3:
// "Inactivity timer: resets on user/transport activity".
func (m *Manager) NotifyActivity(sessionID string, timeout time.Duration) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	st.inactivity.reset(timeout)
}

// RescheduleRenewal re-arms the renewal timer at a new time, typically
// after a successful key renewal pushes expiresAt forward.
func (m *Manager) RescheduleRenewal(sessionID string, renewAt time.Time) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	delay := time.Until(renewAt)
	if delay < 0 {
		delay = 0
	}
	st.renewal.reset(delay)
}

// TimerStatus reports remaining/active state for all three timers,
// per §4.3's getTimerStatus.
type TimerStatus struct {
	Renewal    Status
	Inactivity Status
	Heartbeat  Status
}

// GetTimerStatus computes remaining durations from each timer's stored
// deadline. The zero value is returned if sessionID is unknown.
func (m *Manager) GetTimerStatus(sessionID string) TimerStatus {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return TimerStatus{}
	}
	now := time.Now()
	return TimerStatus{
		Renewal:    st.renewal.status(now),
		Inactivity: st.inactivity.status(now),
		Heartbeat:  st.heartbeat.status(now),
	}
}

// EndSession disposes all three timers for sessionID deterministically,
// renewal first, then inactivity, then heartbeat.
func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return st.disposal.Dispose()
}
