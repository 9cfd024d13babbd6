package statestore

import (
	"context"
	"os"
	"testing"
)

// Runs only when a reachable cluster is supplied, the same opt-in gate
// the managed-store tests use elsewhere in this codebase's lineage.
func TestPostgresStoreConformance(t *testing.T) {
	dsn := os.Getenv("CHECKPOINT_PG_DSN")
	if dsn == "" {
		t.Skip("CHECKPOINT_PG_DSN not set; skipping postgres conformance test")
	}
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("failed to open postgres store: %v", err)
	}
	defer store.Close()
	defer store.Delete(context.Background(), "task-1")
	conformance(t, store)
}
