package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable embedded store variant, backed by a single
// table keyed by task_id with a version column used for conditional
// updates. Schema is migrated on open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store at
// path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite checkpoint store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS checkpoints (
		task_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save implements Store via a transaction: read current version, compare
// against expectedVersion, then insert/update under the same
// transaction so concurrent writers serialize on SQLite's lock rather
// than racing.
func (s *SQLiteStore) Save(ctx context.Context, taskID string, checkpoint Checkpoint, expectedVersion int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int
	row := tx.QueryRowContext(ctx, `SELECT version FROM checkpoints WHERE task_id = ?`, taskID)
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
		INSERT INTO checkpoints (task_id, version, payload) VALUES (?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET version = excluded.version, payload = excluded.payload
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
func (s *SQLiteStore) Load(ctx context.Context, taskID string) (Checkpoint, int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version, payload FROM checkpoints WHERE task_id = ?`, taskID)
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
func (s *SQLiteStore) Delete(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
