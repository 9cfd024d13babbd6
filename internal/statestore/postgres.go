package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore is the remote managed store variant, for deployments
// where many distributed workers share one Postgres/CockroachDB
// cluster. Schema is migrated on open; writes are version-conditioned
// inside a transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a store on dsn (a lib/pq connection string) and
// ensures the checkpoint table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres checkpoint store: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS checkpoints (
		task_id TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		payload BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save implements Store. The version check and the write share one
// transaction; two workers racing the same expectedVersion serialize on
// the row lock and the loser sees ErrVersionConflict.
func (s *PostgresStore) Save(ctx context.Context, taskID string, checkpoint Checkpoint, expectedVersion int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int
	row := tx.QueryRowContext(ctx, `SELECT version FROM checkpoints WHERE task_id = $1 FOR UPDATE`, taskID)
	switch err := row.Scan(&currentVersion); {
	case errors.Is(err, sql.ErrNoRows):
		currentVersion = 0
	case err != nil:
		return 0, fmt.Errorf("read current version: %w", err)
	}

	if currentVersion != expectedVersion {
		return 0, ErrVersionConflict
	}

	payload, err := deterministicMarshal(checkpoint)
	if err != nil {
		return 0, fmt.Errorf("marshal checkpoint: %w", err)
	}

	next := currentVersion + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (task_id, version, payload, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (task_id) DO UPDATE SET version = excluded.version, payload = excluded.payload, updated_at = now()
	`, taskID, next, payload)
	if err != nil {
		return 0, fmt.Errorf("write checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit checkpoint write: %w", err)
	}
	return next, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, taskID string) (Checkpoint, int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version, payload FROM checkpoints WHERE task_id = $1`, taskID)
	var version int
	var payload []byte
	switch err := row.Scan(&version, &payload); {
	case errors.Is(err, sql.ErrNoRows):
		return Checkpoint{}, 0, ErrNotFound
	case err != nil:
		return Checkpoint{}, 0, fmt.Errorf("load checkpoint: %w", err)
	}

	checkpoint, err := deterministicUnmarshal(payload)
	if err != nil {
		return Checkpoint{}, 0, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return checkpoint, version, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
