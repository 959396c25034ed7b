package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    thread_id     TEXT NOT NULL,
    checkpoint_id TEXT NOT NULL,
    step          INTEGER NOT NULL,
    parent_id     TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    data          BYTEA NOT NULL,
    PRIMARY KEY (thread_id, checkpoint_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_created
    ON checkpoints(thread_id, created_at DESC);
`

// PostgresStore persists checkpoints to PostgreSQL via pgx. It is
// suitable for multi-process deployments where several engine instances
// share one store.
//
// The connection pool is injected and remains owned by the caller:
// Close marks the store closed but does not close the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	mu     sync.RWMutex
	closed bool
}

// NewPostgresStore creates a PostgreSQL checkpoint store backed by the
// given connection pool. Call CreateSchema once before first use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateSchema creates the checkpoints table and index if they don't exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DropSchema drops the checkpoints table. Intended for tests.
func (s *PostgresStore) DropSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS checkpoints`); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, info Info, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_id, step, parent_id, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, info.ThreadID, info.ID, info.Step, info.Parent, info.CreatedAt.UTC(), data)

	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, threadID, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM checkpoints
		WHERE thread_id = $1 AND checkpoint_id = $2
	`, threadID, id).Scan(&data)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return data, nil
}

// Latest implements Store.
func (s *PostgresStore) Latest(ctx context.Context, threadID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM checkpoints
		WHERE thread_id = $1
		ORDER BY created_at DESC, checkpoint_id DESC
		LIMIT 1
	`, threadID).Scan(&data)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.pool.Query(ctx, `
		SELECT checkpoint_id, step, parent_id, created_at, LENGTH(data)
		FROM checkpoints
		WHERE thread_id = $1
		ORDER BY created_at DESC, checkpoint_id DESC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := make([]Info, 0)
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.Step, &info.Parent, &info.CreatedAt, &info.Size); err != nil {
			return nil, fmt.Errorf("scan checkpoint info: %w", err)
		}
		info.ThreadID = threadID
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	return infos, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, threadID, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.pool.Exec(ctx, `
		DELETE FROM checkpoints
		WHERE thread_id = $1 AND checkpoint_id = $2
	`, threadID, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// DeleteThread implements Store.
func (s *PostgresStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.pool.Exec(ctx, `
		DELETE FROM checkpoints WHERE thread_id = $1
	`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store. The injected pool stays open; closing it is
// the caller's responsibility.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
