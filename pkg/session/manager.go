package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voxcode/core/pkg/credential"
	"github.com/voxcode/core/pkg/events"
	"github.com/voxcode/core/pkg/sessiontimer"
)

// defaultMaxConcurrentSessions resolves Open Question (a): N_max is a
// configurable field rather than a hardcoded constant, defaulting to the
// spec's N_max = 3.
const defaultMaxConcurrentSessions = 3

// ConversationSnapshot is the Recovery Snapshot shape from §3, committed to
// the storage collaborator after each final/redo/cleared transcript event.
type ConversationSnapshot struct {
	ConversationID    string
	SessionID         string
	LastInteractionAt time.Time
	PendingMessages   []string
	UpdatedAt         time.Time
}

// SnapshotStore is the narrow storage contract the Manager needs. Concrete
// implementations (in-memory, Postgres-backed) live in pkg/storage; the
// Manager only depends on this interface so it never imports a storage
// driver directly.
type SnapshotStore interface {
	CommitSnapshot(ctx context.Context, snapshot ConversationSnapshot) error
	PurgeSession(ctx context.Context, sessionID string) error
}

// CredentialService is the subset of pkg/credential.Service the Manager
// drives. Declared here (rather than imported as a concrete type) so tests
// can substitute a fake without standing up a real issuer.
type CredentialService interface {
	RequestEphemeralKey(ctx context.Context) credential.RequestResult
	RenewKey(ctx context.Context) credential.RequestResult
	GetCurrentKey() *credential.KeyInfo
}

// Manager implements the Session Manager (C4): session lifecycle,
// capacity enforcement, renewal orchestration, and diagnostics.
type Manager struct {
	maxConcurrent int
	credentials   CredentialService
	timers        *sessiontimer.Manager
	store         SnapshotStore
	logger        events.Logger
	clock         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Record

	onStarted         events.Emitter[Info]
	onEnded           events.Emitter[Info]
	onRenewalComplete events.Emitter[Info]
	onRenewalFailed   events.Emitter[Info]
}

// ManagerConfig wires a Manager's collaborators.
type ManagerConfig struct {
	MaxConcurrentSessions int
	Credentials           CredentialService
	Timers                *sessiontimer.Manager
	Store                 SnapshotStore
	Logger                events.Logger
}

// NewManager builds a Manager. A zero MaxConcurrentSessions falls back to
// defaultMaxConcurrentSessions.
func NewManager(cfg ManagerConfig) *Manager {
	max := cfg.MaxConcurrentSessions
	if max <= 0 {
		max = defaultMaxConcurrentSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = events.NoOpLogger{}
	}
	return &Manager{
		maxConcurrent: max,
		credentials:   cfg.Credentials,
		timers:        cfg.Timers,
		store:         cfg.Store,
		logger:        logger,
		clock:         time.Now,
		sessions:      make(map[string]*Record),
	}
}

func (m *Manager) OnStarted(h func(Info)) events.Disposable         { return m.onStarted.Subscribe(h) }
func (m *Manager) OnEnded(h func(Info)) events.Disposable           { return m.onEnded.Subscribe(h) }
func (m *Manager) OnRenewalCompleted(h func(Info)) events.Disposable {
	return m.onRenewalComplete.Subscribe(h)
}
func (m *Manager) OnRenewalFailed(h func(Info)) events.Disposable {
	return m.onRenewalFailed.Subscribe(h)
}

// ErrCapacityExceeded is returned by StartSession when N_max active or
// starting sessions are already present. Per §4.4, this is not retried.
var ErrCapacityExceeded = events.NewFault(events.DomainSession, events.Kind("capacity-exceeded"), nil)

// activeCount counts sessions in starting or active state. Caller must
// hold m.mu.
func (m *Manager) activeCount() int {
	n := 0
	for _, r := range m.sessions {
		if r.State == StateStarting || r.State == StateActive {
			n++
		}
	}
	return n
}

// StartSession allocates a new session, requests an ephemeral key under
// retry via the credential collaborator, arms its timers, and transitions
// to active.
func (m *Manager) StartSession(ctx context.Context, cfg Config) (Info, error) {
	m.mu.Lock()
	if m.activeCount() >= m.maxConcurrent {
		m.mu.Unlock()
		return Info{}, ErrCapacityExceeded
	}
	sessionID := fmt.Sprintf("session-%d-%s", m.clock().UnixMilli(), uuid.NewString())
	record := &Record{
		SessionID:    sessionID,
		State:        StateStarting,
		StartedAt:    m.clock(),
		LastActivity: m.clock(),
		Config:       cfg,
	}
	m.sessions[sessionID] = record
	m.mu.Unlock()

	result := m.credentials.RequestEphemeralKey(ctx)
	if !result.Success {
		m.mu.Lock()
		record.State = StateFailed
		m.mu.Unlock()
		return Info{}, result.Error
	}

	m.mu.Lock()
	record.ExpiresAt = result.Key.ExpiresAt
	record.State = StateActive
	info := record.toInfo()
	m.mu.Unlock()

	if m.timers != nil {
		margin := time.Duration(cfg.RenewalMarginSeconds) * time.Second
		if margin <= 0 {
			margin = 10 * time.Second
		}
		m.timers.StartSession(sessionID, result.Key.ExpiresAt.Add(-margin), sessiontimer.Config{
			InactivityTimeout: time.Duration(cfg.InactivityTimeoutMinutes) * time.Minute,
			HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		}, sessiontimer.Callbacks{
			OnRenewalRequired: func(id string) { m.RenewSession(context.Background(), id) },
			OnTimeoutExpired:  func(id string) { m.EndSession(context.Background(), id) },
		})
	}

	m.onStarted.Emit(info)
	return info, nil
}

// EndSession cancels sessionID's timers, purges its stored conversation
// snapshots, removes its record, and emits ended. It does not end the
// credential session and does not write a final snapshot before the
// purge. An unknown sessionID is a no-op.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	record, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	record.State = StateEnding
	m.mu.Unlock()

	if m.timers != nil {
		m.timers.EndSession(sessionID)
	}

	var purgeErr error
	if m.store != nil {
		purgeErr = m.store.PurgeSession(ctx, sessionID)
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	info := record.toInfo()
	m.mu.Unlock()

	m.onEnded.Emit(info)
	return purgeErr
}

// RenewSession transitions sessionID to renewing, requests a new key, and
// either restores active with the new expiresAt or transitions to failed.
func (m *Manager) RenewSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	record, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	record.State = StateRenewing
	m.mu.Unlock()

	result := m.credentials.RenewKey(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !result.Success {
		record.State = StateFailed
		record.Statistics.RenewalFailures++
		m.onRenewalFailed.Emit(record.toInfo())
		return result.Error
	}

	record.ExpiresAt = result.Key.ExpiresAt
	record.State = StateActive
	record.Statistics.RenewalCount++
	if m.timers != nil {
		margin := time.Duration(record.Config.RenewalMarginSeconds) * time.Second
		if margin <= 0 {
			margin = 10 * time.Second
		}
		m.timers.RescheduleRenewal(sessionID, result.Key.ExpiresAt.Add(-margin))
	}
	m.onRenewalComplete.Emit(record.toInfo())
	return nil
}

// GetSessionInfo returns a snapshot of sessionID's record, or false if
// unknown.
func (m *Manager) GetSessionInfo(sessionID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return r.toInfo(), true
}

// GetCurrentSession returns the session with the most recent lastActivity,
// or false if there are none.
func (m *Manager) GetCurrentSession() (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Record
	for _, r := range m.sessions {
		if latest == nil || r.LastActivity.After(latest.LastActivity) {
			latest = r
		}
	}
	if latest == nil {
		return Info{}, false
	}
	return latest.toInfo(), true
}

// GetAllSessions returns a snapshot of every tracked session.
func (m *Manager) GetAllSessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r.toInfo())
	}
	return out
}

// IsSessionActive reports whether sessionID is currently in the active
// state.
func (m *Manager) IsSessionActive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[sessionID]
	return ok && r.State == StateActive
}

// UpdateConfig merges the mutable subset of cfg into sessionID's record.
// Zero fields in cfg leave the corresponding setting unchanged.
func (m *Manager) UpdateConfig(sessionID string, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if cfg.RenewalMarginSeconds > 0 {
		r.Config.RenewalMarginSeconds = cfg.RenewalMarginSeconds
	}
	if cfg.InactivityTimeoutMinutes > 0 {
		r.Config.InactivityTimeoutMinutes = cfg.InactivityTimeoutMinutes
	}
	if cfg.HeartbeatIntervalSeconds > 0 {
		r.Config.HeartbeatIntervalSeconds = cfg.HeartbeatIntervalSeconds
	}
	if cfg.Voice != "" {
		r.Config.Voice = cfg.Voice
	}
	if cfg.Language != "" {
		r.Config.Language = cfg.Language
	}
	return nil
}

// NotifyActivity records activity against sessionID, resetting its
// inactivity timer.
func (m *Manager) NotifyActivity(sessionID string) {
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	if ok {
		r.LastActivity = m.clock()
	}
	timeout := 5 * time.Minute
	if ok && r.Config.InactivityTimeoutMinutes > 0 {
		timeout = time.Duration(r.Config.InactivityTimeoutMinutes) * time.Minute
	}
	m.mu.Unlock()
	if ok && m.timers != nil {
		m.timers.NotifyActivity(sessionID, timeout)
	}
}

// CommitSnapshot forwards a conversation snapshot commit to the storage
// collaborator, called after each final/redo/cleared transcript event.
func (m *Manager) CommitSnapshot(ctx context.Context, snapshot ConversationSnapshot) error {
	if m.store == nil {
		return nil
	}
	return m.store.CommitSnapshot(ctx, snapshot)
}

// TestSessionHealth runs the three diagnostic checks concurrently via
// errgroup — a clean fit since, unlike the state machine's serialized
// transitions, these checks are independent and order doesn't matter.
func (m *Manager) TestSessionHealth(ctx context.Context, sessionID string) (Diagnostics, error) {
	m.mu.RLock()
	record, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return Diagnostics{}, fmt.Errorf("session %s not found", sessionID)
	}

	var diag Diagnostics
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		diag.CredentialValidity = m.checkCredentialValidity()
		return nil
	})
	g.Go(func() error {
		diag.TimerHealth = m.checkTimerHealth(sessionID)
		return nil
	})
	g.Go(func() error {
		diag.SessionAge = checkSessionAge(record.StartedAt, m.clock())
		return nil
	})

	if err := g.Wait(); err != nil {
		return Diagnostics{}, err
	}
	return diag, nil
}

func (m *Manager) checkCredentialValidity() CheckStatus {
	if m.credentials == nil {
		return CheckWarn
	}
	key := m.credentials.GetCurrentKey()
	if key == nil {
		return CheckFail
	}
	if time.Until(key.ExpiresAt) <= 0 {
		return CheckFail
	}
	if time.Until(key.ExpiresAt) < 30*time.Second {
		return CheckWarn
	}
	return CheckPass
}

func (m *Manager) checkTimerHealth(sessionID string) CheckStatus {
	if m.timers == nil {
		return CheckWarn
	}
	status := m.timers.GetTimerStatus(sessionID)
	if !status.Renewal.Active || !status.Heartbeat.Active {
		return CheckFail
	}
	return CheckPass
}

func checkSessionAge(startedAt, now time.Time) CheckStatus {
	age := now.Sub(startedAt)
	switch {
	case age > 4*time.Hour:
		return CheckFail
	case age > time.Hour:
		return CheckWarn
	default:
		return CheckPass
	}
}
