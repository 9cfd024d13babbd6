package statestore

import (
	"context"
	"sync"

	"github.com/AndersonBY/vv-agent/internal/protocol"
)

// MemoryStore keeps checkpoints in a process-local map, cloning on
// read and write so callers never share slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]versionedCheckpoint
}

type versionedCheckpoint struct {
	checkpoint Checkpoint
	version    int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]versionedCheckpoint)}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, taskID string, checkpoint Checkpoint, expectedVersion int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[taskID]
	currentVersion := 0
	if exists {
		currentVersion = current.version
	}
	if currentVersion != expectedVersion {
		return 0, ErrVersionConflict
	}

	next := currentVersion + 1
	s.records[taskID] = versionedCheckpoint{checkpoint: cloneCheckpoint(checkpoint), version: next}
	return next, nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, taskID string) (Checkpoint, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[taskID]
	if !ok {
		return Checkpoint{}, 0, ErrNotFound
	}
	return cloneCheckpoint(rec.checkpoint), rec.version, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, taskID)
	return nil
}

func cloneCheckpoint(c Checkpoint) Checkpoint {
	clone := c
	clone.Messages = append([]protocol.Message(nil), c.Messages...)
	clone.CycleRecords = append([]protocol.CycleRecord(nil), c.CycleRecords...)
	return clone
}
