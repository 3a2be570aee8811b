package session

import "time"

// State is a Session Record's lifecycle position.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateRenewing State = "renewing"
	StatePaused   State = "paused"
	StateEnding   State = "ending"
	StateFailed   State = "failed"
)

// Config is the mutable subset of per-session settings. Zero values fall
// back to the defaults documented in §6.3.
type Config struct {
	RenewalMarginSeconds     int
	InactivityTimeoutMinutes int
	HeartbeatIntervalSeconds int
	Voice                    string
	Language                 string
}

// Statistics tracks simple per-session counters surfaced via diagnostics.
type Statistics struct {
	TurnsCompleted   int
	Interruptions    int
	RenewalCount     int
	RenewalFailures  int
}

// ConnectionInfo mirrors the transport's view of the session, kept here so
// session queries don't need to reach into the transport directly.
type ConnectionInfo struct {
	State   string
	Quality string
}

// Record is the Session Record from §3: owned exclusively by the Manager;
// other components hold it by sessionID only.
type Record struct {
	SessionID      string
	State          State
	StartedAt      time.Time
	LastActivity   time.Time
	ExpiresAt      time.Time
	Config         Config
	Statistics     Statistics
	ConnectionInfo ConnectionInfo
	ConversationID string
}

// Info is the externally visible projection of a Record returned by the
// query surface — a value copy so callers can't mutate Manager state.
type Info struct {
	SessionID      string
	State          State
	StartedAt      time.Time
	LastActivity   time.Time
	ExpiresAt      time.Time
	Config         Config
	Statistics     Statistics
	ConnectionInfo ConnectionInfo
	ConversationID string
}

func (r *Record) toInfo() Info {
	return Info{
		SessionID:      r.SessionID,
		State:          r.State,
		StartedAt:      r.StartedAt,
		LastActivity:   r.LastActivity,
		ExpiresAt:      r.ExpiresAt,
		Config:         r.Config,
		Statistics:     r.Statistics,
		ConnectionInfo: r.ConnectionInfo,
		ConversationID: r.ConversationID,
	}
}

// CheckStatus is a diagnostic check's verdict.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Diagnostics is the result of TestSessionHealth's three checks.
type Diagnostics struct {
	CredentialValidity CheckStatus
	TimerHealth        CheckStatus
	SessionAge         CheckStatus
}
