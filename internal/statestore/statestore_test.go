package statestore

import (
	"context"
	"testing"

	"github.com/AndersonBY/vv-agent/internal/protocol"
)

// conformance runs the same sequence of operations against any Store
// implementation, so every backend honors the same contract.
func conformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, _, err := store.Load(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing task, got %v", err)
	}

	cp := Checkpoint{
		TaskID:     "task-1",
		Status:     "running",
		Messages:   []protocol.Message{{Role: protocol.RoleSystem, Content: "sys"}},
		CycleIndex: 1,
	}

	version, err := store.Save(ctx, "task-1", cp, 0)
	if err != nil {
		t.Fatalf("unexpected error on first save: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version 1 after first save, got %d", version)
	}

	if _, err := store.Save(ctx, "task-1", cp, 0); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict on stale save, got %v", err)
	}

	loaded, loadedVersion, err := store.Load(ctx, "task-1")
	if err != nil {
		t.Fatalf("unexpected error on load: %v", err)
	}
	if loadedVersion != 1 {
		t.Fatalf("expected loaded version 1, got %d", loadedVersion)
	}
	if loaded.Status != "running" || loaded.CycleIndex != 1 {
		t.Fatalf("unexpected loaded checkpoint: %+v", loaded)
	}

	cp.Status = "completed"
	cp.CycleIndex = 2
	version, err = store.Save(ctx, "task-1", cp, loadedVersion)
	if err != nil {
		t.Fatalf("unexpected error on conditional update: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2 after second save, got %d", version)
	}

	if err := store.Delete(ctx, "task-1"); err != nil {
		t.Fatalf("unexpected error on delete: %v", err)
	}
	if _, _, err := store.Load(ctx, "task-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreConformance(t *testing.T) {
	conformance(t, NewMemoryStore())
}

func TestSQLiteStoreConformance(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer store.Close()
	conformance(t, store)
}

// TestMemoryStoreCloneIsolatesCaller verifies Save/Load copy slices so a
// caller mutating a returned Checkpoint cannot corrupt stored state --
// the durable variants get this for free from JSON round-tripping, but
// MemoryStore must do it explicitly.
func TestMemoryStoreCloneIsolatesCaller(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	cp := Checkpoint{TaskID: "t", Messages: []protocol.Message{{Content: "one"}}}
	if _, err := store.Save(ctx, "t", cp, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, _, err := store.Load(ctx, "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded.Messages[0].Content = "mutated"

	reloaded, _, err := store.Load(ctx, "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.Messages[0].Content != "one" {
		t.Fatalf("expected stored checkpoint unaffected by caller mutation, got %q", reloaded.Messages[0].Content)
	}
}
