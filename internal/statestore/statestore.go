// Package statestore implements checkpoint persistence: a
// (task_id -> checkpoint) store with optimistic concurrency via a
// monotonic version counter, in memory, sqlite, postgres, and redis
// variants.
package statestore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/AndersonBY/vv-agent/internal/protocol"
)

// ErrVersionConflict is returned by Save when expectedVersion does not
// match the store's current version for task_id -- the caller must
// reload, re-apply its change, and retry.
var ErrVersionConflict = errors.New("statestore: version conflict")

// ErrNotFound is returned by Load when task_id has no checkpoint.
var ErrNotFound = errors.New("statestore: checkpoint not found")

// Checkpoint is a snapshot sufficient to resume a task on another
// worker.
type Checkpoint struct {
	TaskID           string                 `json:"task_id"`
	Status           string                 `json:"status"`
	Messages         []protocol.Message     `json:"messages"`
	CycleIndex       int                    `json:"cycle_index"`
	CycleRecords     []protocol.CycleRecord `json:"cycle_records"`
	CumulativeUsage  protocol.TokenUsage    `json:"cumulative_usage"`
	PendingDirective protocol.Directive     `json:"pending_directive"`
	ErrorReason      string                 `json:"error_reason,omitempty"`
}

// Store persists checkpoints keyed by task_id, enforcing optimistic
// concurrency via a monotonic version counter.
type Store interface {
	// Save persists checkpoint for taskID. expectedVersion must equal the
	// store's current version for taskID (0 if none exists yet); on
	// success the new version is returned. A mismatch returns
	// ErrVersionConflict without mutating the store.
	Save(ctx context.Context, taskID string, checkpoint Checkpoint, expectedVersion int) (newVersion int, err error)
	// Load returns the current checkpoint and its version for taskID, or
	// ErrNotFound.
	Load(ctx context.Context, taskID string) (Checkpoint, int, error)
	// Delete removes taskID's checkpoint, if any.
	Delete(ctx context.Context, taskID string) error
}

// deterministicMarshal is used by durable variants to serialize a
// checkpoint the same way on every write.
func deterministicMarshal(c Checkpoint) ([]byte, error) {
	return json.Marshal(c)
}

func deterministicUnmarshal(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, err
	}
	return c, nil
}
