package backend

import (
	"context"
	"testing"
	"time"

	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/statestore"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

func TestDistributedInlineFallbackWithoutRecipe(t *testing.T) {
	runner := newFakeRunner(2)
	b := NewDistributed(runner, DistributedConfig{})

	res, err := b.RunTask(context.Background(), exectx.New(), &models.Task{TaskID: "t1"})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if res.Status != models.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestDistributedRunsCyclesThroughQueueAndStore(t *testing.T) {
	runner := newFakeRunner(3)
	queue := NewMemQueue(16)
	store := statestore.NewMemoryStore()

	factory := func(recipe Recipe, task *models.Task) (Runner, *exectx.Context, error) {
		return runner, exectx.New(exectx.WithStateStore(store)), nil
	}
	worker := NewWorker(queue, store, factory, nil)
	worker.popTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		_ = worker.Run(ctx)
	}()

	b := NewDistributed(runner, DistributedConfig{
		Queue:      queue,
		Store:      store,
		Recipe:     &Recipe{Backend: "test", Model: "m"},
		ResultPoll: 10 * time.Millisecond,
	})

	res, err := b.RunTask(ctx, exectx.New(), &models.Task{TaskID: "dist-1"})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if res.Status != models.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.FinalAnswer != "done-dist-1" {
		t.Fatalf("final answer = %q", res.FinalAnswer)
	}
	if len(res.Cycles) != 3 {
		t.Fatalf("cycles = %d, want 3 (one per work item)", len(res.Cycles))
	}

	// The checkpoint version advanced once per cycle and never regressed.
	_, version, err := store.Load(ctx, "dist-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if version != 3 {
		t.Fatalf("version = %d, want 3", version)
	}
}

// racingStore injects a competing writer between the worker's Load and
// its conditional Save, forcing the version conflict path.
type racingStore struct {
	statestore.Store
	raced bool
}

func (r *racingStore) Load(ctx context.Context, taskID string) (statestore.Checkpoint, int, error) {
	cp, version, err := r.Store.Load(ctx, taskID)
	if !r.raced {
		r.raced = true
		if _, saveErr := r.Store.Save(ctx, taskID, statestore.Checkpoint{
			TaskID:     taskID,
			Status:     string(models.StatusRunning),
			CycleIndex: 1,
		}, version); saveErr != nil {
			return cp, version, saveErr
		}
	}
	return cp, version, err
}

func TestWorkerDiscardsCycleOnVersionConflict(t *testing.T) {
	runner := newFakeRunner(5)
	queue := NewMemQueue(16)
	store := &racingStore{Store: statestore.NewMemoryStore()}

	factory := func(recipe Recipe, task *models.Task) (Runner, *exectx.Context, error) {
		return runner, exectx.New(), nil
	}
	worker := NewWorker(queue, store, factory, nil)
	worker.popTimeout = 50 * time.Millisecond

	ctx := context.Background()
	b := NewDistributed(runner, DistributedConfig{Queue: queue, Store: store, Recipe: &Recipe{}})
	if err := b.enqueue(ctx, &models.Task{TaskID: "conflict-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	processed, err := worker.ProcessOne(ctx)
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !processed {
		t.Fatal("expected an item to be processed")
	}

	// The worker's conditional write lost the race: its cycle was
	// discarded, the competing checkpoint survived, and the item was not
	// re-enqueued.
	cp, version, err := store.Store.Load(ctx, "conflict-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if version != 1 || cp.CycleIndex != 1 {
		t.Fatalf("checkpoint = %+v at version %d, want the racing writer's", cp, version)
	}
	if item, _ := queue.Pop(ctx, 10*time.Millisecond); item != nil {
		t.Fatal("conflicting cycle must not re-enqueue the item")
	}
}
