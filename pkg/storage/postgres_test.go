package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

// requireDatabaseURL skips the test unless a live Postgres instance is
// reachable at DATABASE_URL, matching the pack's own precedent of gating
// integration tests on an environment variable rather than faking a driver.
func requireDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping postgres integration test")
	}
	return url
}

func TestPostgresStoreCommitAndGetSnapshot(t *testing.T) {
	url := requireDatabaseURL(t)
	ctx := context.Background()

	store, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer store.Close()

	snap := Snapshot{
		ConversationID:    "conv-postgres-1",
		SessionID:         "sess-postgres-1",
		LastInteractionAt: time.Now().UTC().Truncate(time.Second),
		PendingMessages:   []string{"hello", "world"},
		UpdatedAt:         time.Now().UTC().Truncate(time.Second),
	}
	if err := store.CommitSnapshot(ctx, snap); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	got, ok, err := store.GetSnapshot(ctx, snap.ConversationID)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if !ok {
		t.Fatal("GetSnapshot() ok = false, want true")
	}
	if got.SessionID != snap.SessionID || len(got.PendingMessages) != 2 {
		t.Fatalf("GetSnapshot() = %+v, want matching %+v", got, snap)
	}

	if err := store.PurgeSession(ctx, snap.SessionID); err != nil {
		t.Fatalf("PurgeSession() error = %v", err)
	}
	_, ok, err = store.GetSnapshot(ctx, snap.ConversationID)
	if err != nil {
		t.Fatalf("GetSnapshot() after purge error = %v", err)
	}
	if ok {
		t.Fatal("GetSnapshot() after purge ok = true, want false")
	}
}

func TestPostgresStoreGetSnapshotMissing(t *testing.T) {
	url := requireDatabaseURL(t)
	ctx := context.Background()

	store, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer store.Close()

	_, ok, err := store.GetSnapshot(ctx, "conv-does-not-exist")
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if ok {
		t.Fatal("GetSnapshot() ok = true, want false for missing conversation")
	}
}
