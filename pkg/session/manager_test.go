package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxcode/core/pkg/credential"
)

type fakeCredentials struct {
	mu      sync.Mutex
	key     *credential.KeyInfo
	fail    bool
	renewed int
}

func (f *fakeCredentials) RequestEphemeralKey(ctx context.Context) credential.RequestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return credential.RequestResult{Success: false, Error: errors.New("issuer down")}
	}
	k := credential.KeyInfo{Key: "ek", SessionID: "s", ExpiresAt: time.Now().Add(time.Hour)}
	f.key = &k
	return credential.RequestResult{Success: true, Key: &k}
}

func (f *fakeCredentials) RenewKey(ctx context.Context) credential.RequestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewed++
	if f.fail {
		return credential.RequestResult{Success: false, Error: errors.New("renew failed")}
	}
	k := credential.KeyInfo{Key: "ek2", SessionID: "s", ExpiresAt: time.Now().Add(time.Hour)}
	f.key = &k
	return credential.RequestResult{Success: true, Key: &k}
}

func (f *fakeCredentials) GetCurrentKey() *credential.KeyInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key
}

type fakeStore struct {
	mu        sync.Mutex
	snapshots []ConversationSnapshot
	purged    []string
}

func (s *fakeStore) CommitSnapshot(ctx context.Context, snap ConversationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeStore) PurgeSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, sessionID)
	return nil
}

func TestStartSessionAllocatesAndActivates(t *testing.T) {
	m := NewManager(ManagerConfig{Credentials: &fakeCredentials{}})
	info, err := m.StartSession(context.Background(), Config{})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if info.State != StateActive {
		t.Fatalf("state = %v, want active", info.State)
	}
	if info.SessionID == "" {
		t.Fatal("expected a non-empty sessionID")
	}
}

func TestStartSessionEnforcesCapacity(t *testing.T) {
	m := NewManager(ManagerConfig{MaxConcurrentSessions: 1, Credentials: &fakeCredentials{}})
	if _, err := m.StartSession(context.Background(), Config{}); err != nil {
		t.Fatalf("first StartSession() error = %v", err)
	}
	_, err := m.StartSession(context.Background(), Config{})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
}

func TestStartSessionFailsWhenCredentialsFail(t *testing.T) {
	m := NewManager(ManagerConfig{Credentials: &fakeCredentials{fail: true}})
	info, err := m.StartSession(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error")
	}
	if info.SessionID != "" {
		t.Fatal("expected zero-value Info on failure")
	}
}

func TestEndSessionPurgesAndRemoves(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(ManagerConfig{Credentials: &fakeCredentials{}, Store: store})
	info, _ := m.StartSession(context.Background(), Config{})

	if err := m.EndSession(context.Background(), info.SessionID); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if _, ok := m.GetSessionInfo(info.SessionID); ok {
		t.Fatal("expected session to be removed after EndSession")
	}
	if len(store.purged) != 1 || store.purged[0] != info.SessionID {
		t.Fatalf("purged = %v, want [%s]", store.purged, info.SessionID)
	}
}

func TestRenewSessionUpdatesExpiryOnSuccess(t *testing.T) {
	creds := &fakeCredentials{}
	m := NewManager(ManagerConfig{Credentials: creds})
	info, _ := m.StartSession(context.Background(), Config{})

	if err := m.RenewSession(context.Background(), info.SessionID); err != nil {
		t.Fatalf("RenewSession() error = %v", err)
	}
	updated, _ := m.GetSessionInfo(info.SessionID)
	if updated.State != StateActive {
		t.Fatalf("state after renewal = %v, want active", updated.State)
	}
	if updated.Statistics.RenewalCount != 1 {
		t.Fatalf("RenewalCount = %d, want 1", updated.Statistics.RenewalCount)
	}
}

func TestRenewSessionTransitionsToFailedOnError(t *testing.T) {
	creds := &fakeCredentials{}
	m := NewManager(ManagerConfig{Credentials: creds})
	info, _ := m.StartSession(context.Background(), Config{})

	creds.fail = true
	failed := make(chan Info, 1)
	m.OnRenewalFailed(func(i Info) { failed <- i })

	if err := m.RenewSession(context.Background(), info.SessionID); err == nil {
		t.Fatal("expected error")
	}
	updated, _ := m.GetSessionInfo(info.SessionID)
	if updated.State != StateFailed {
		t.Fatalf("state = %v, want failed", updated.State)
	}
	select {
	case <-failed:
	default:
		t.Fatal("expected OnRenewalFailed to fire")
	}
}

func TestGetCurrentSessionReturnsMostRecentActivity(t *testing.T) {
	m := NewManager(ManagerConfig{MaxConcurrentSessions: 5, Credentials: &fakeCredentials{}})
	first, _ := m.StartSession(context.Background(), Config{})
	time.Sleep(2 * time.Millisecond)
	second, _ := m.StartSession(context.Background(), Config{})

	m.NotifyActivity(second.SessionID)
	current, ok := m.GetCurrentSession()
	if !ok {
		t.Fatal("expected a current session")
	}
	if current.SessionID != second.SessionID {
		t.Fatalf("current = %s, want %s (first = %s)", current.SessionID, second.SessionID, first.SessionID)
	}
}

func TestTestSessionHealthRunsChecksConcurrently(t *testing.T) {
	creds := &fakeCredentials{}
	m := NewManager(ManagerConfig{Credentials: creds})
	info, _ := m.StartSession(context.Background(), Config{})

	diag, err := m.TestSessionHealth(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("TestSessionHealth() error = %v", err)
	}
	if diag.CredentialValidity != CheckPass {
		t.Fatalf("CredentialValidity = %v, want pass", diag.CredentialValidity)
	}
	if diag.SessionAge != CheckPass {
		t.Fatalf("SessionAge = %v, want pass", diag.SessionAge)
	}
}

func TestUpdateConfigOnlyTouchesNonZeroFields(t *testing.T) {
	m := NewManager(ManagerConfig{Credentials: &fakeCredentials{}})
	info, _ := m.StartSession(context.Background(), Config{Voice: "alloy", RenewalMarginSeconds: 10})

	if err := m.UpdateConfig(info.SessionID, Config{Voice: "verse"}); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	updated, _ := m.GetSessionInfo(info.SessionID)
	if updated.Config.Voice != "verse" {
		t.Fatalf("Voice = %q, want verse", updated.Config.Voice)
	}
	if updated.Config.RenewalMarginSeconds != 10 {
		t.Fatalf("RenewalMarginSeconds = %d, want unchanged 10", updated.Config.RenewalMarginSeconds)
	}
}
