package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCommitAndGetSnapshot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := Snapshot{
		ConversationID:    "conv-1",
		SessionID:         "sess-1",
		LastInteractionAt: time.Now(),
		PendingMessages:   []string{"hello"},
		UpdatedAt:         time.Now(),
	}
	if err := store.CommitSnapshot(ctx, snap); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	got, ok, err := store.GetSnapshot(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if !ok {
		t.Fatal("GetSnapshot() ok = false, want true")
	}
	if got.SessionID != snap.SessionID {
		t.Errorf("GetSnapshot() SessionID = %q, want %q", got.SessionID, snap.SessionID)
	}
}

func TestMemoryStoreGetSnapshotMissing(t *testing.T) {
	store := NewMemoryStore()
	_, ok, err := store.GetSnapshot(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if ok {
		t.Error("GetSnapshot() ok = true, want false for missing conversation")
	}
}

func TestMemoryStorePurgeSessionRemovesSnapshot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := Snapshot{ConversationID: "conv-2", SessionID: "sess-2", UpdatedAt: time.Now()}
	if err := store.CommitSnapshot(ctx, snap); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	if err := store.PurgeSession(ctx, "sess-2"); err != nil {
		t.Fatalf("PurgeSession() error = %v", err)
	}

	_, ok, err := store.GetSnapshot(ctx, "conv-2")
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if ok {
		t.Error("GetSnapshot() ok = true after purge, want false")
	}
}

func TestMemoryStorePurgeUnknownSessionIsNoop(t *testing.T) {
	store := NewMemoryStore()
	if err := store.PurgeSession(context.Background(), "never-seen"); err != nil {
		t.Errorf("PurgeSession() error = %v, want nil", err)
	}
}
