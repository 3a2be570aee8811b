package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists Recovery Snapshots in Postgres, for deployments
// that need conversation state to survive process restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and ensures the snapshot table
// exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS conversation_snapshots (
		conversation_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		last_interaction_at TIMESTAMPTZ NOT NULL,
		pending_messages TEXT[] NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CommitSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_snapshots (conversation_id, session_id, last_interaction_at, pending_messages, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (conversation_id) DO UPDATE SET
		   session_id = EXCLUDED.session_id,
		   last_interaction_at = EXCLUDED.last_interaction_at,
		   pending_messages = EXCLUDED.pending_messages,
		   updated_at = EXCLUDED.updated_at`,
		snap.ConversationID, snap.SessionID, snap.LastInteractionAt, snap.PendingMessages, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversation_snapshots WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, conversationID string) (Snapshot, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT conversation_id, session_id, last_interaction_at, pending_messages, updated_at
		 FROM conversation_snapshots WHERE conversation_id = $1`,
		conversationID,
	)
	var snap Snapshot
	if err := row.Scan(&snap.ConversationID, &snap.SessionID, &snap.LastInteractionAt, &snap.PendingMessages, &snap.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, true, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
