package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/statestore"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

// Recipe is the serializable bundle a fresh worker uses to reconstruct
// an equivalent runtime. Its fields are settings
// references, not live objects; RuntimeFactory turns one into a Runner.
type Recipe struct {
	SettingsPath  string `json:"settings_path,omitempty"`
	Backend       string `json:"backend,omitempty"`
	Model         string `json:"model,omitempty"`
	WorkspaceRoot string `json:"workspace_root,omitempty"`
}

// RuntimeFactory rebuilds a runtime (and the execution context its
// cycles need) from a Recipe on a worker. The returned exectx carries
// the worker's shared durable state store.
type RuntimeFactory func(recipe Recipe, task *models.Task) (Runner, *exectx.Context, error)

// workItem is one cycle's dispatch unit. Task carries the immutable core
// fields a worker needs to rebuild the task; the mutable state (messages,
// cycle index, status) comes from the latest checkpoint.
type workItem struct {
	TaskID string       `json:"task_id"`
	Recipe *Recipe      `json:"recipe,omitempty"`
	Task   *models.Task `json:"task"`
}

const defaultResultPoll = 100 * time.Millisecond

// Distributed is the distributed-queue Backend: each cycle is an
// independent work item on a shared Queue, and workers coordinate
// exclusively through the shared durable State Store's checkpoint
// version counter. With no Recipe configured it degrades to the inline
// fallback sub-mode.
type Distributed struct {
	inline     *Inline
	queue      Queue
	store      statestore.Store
	recipe     *Recipe
	resultPoll time.Duration
	logger     *slog.Logger
}

// DistributedConfig configures a Distributed backend.
type DistributedConfig struct {
	// Queue is the shared work queue. Required unless Recipe is nil.
	Queue Queue
	// Store is the shared durable checkpoint store workers coordinate
	// through. Required unless Recipe is nil.
	Store statestore.Store
	// Recipe, when non-nil, selects distributed mode; nil selects the
	// inline fallback sub-mode.
	Recipe *Recipe
	// ResultPoll is how often RunTask re-reads the checkpoint while
	// waiting for a terminal state; zero selects 100ms.
	ResultPoll time.Duration

	Logger *slog.Logger
}

// NewDistributed creates a Distributed backend. runner is used for the
// inline fallback sub-mode.
func NewDistributed(runner Runner, cfg DistributedConfig) *Distributed {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.ResultPoll
	if poll <= 0 {
		poll = defaultResultPoll
	}
	return &Distributed{
		inline:     NewInline(runner),
		queue:      cfg.Queue,
		store:      cfg.Store,
		recipe:     cfg.Recipe,
		resultPoll: poll,
		logger:     logger.With("component", "backend.distributed"),
	}
}

// RunTask implements Backend: enqueue the first cycle, then wait for the
// checkpoint to reach a terminal state. Without a Recipe it behaves as
// Inline.
func (b *Distributed) RunTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error) {
	if b.recipe == nil {
		return b.inline.RunTask(ctx, ectx, task)
	}
	if err := b.enqueue(ctx, task); err != nil {
		return nil, err
	}
	return b.awaitResult(ctx, ectx, task.TaskID)
}

// SubmitTask implements Backend.
func (b *Distributed) SubmitTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*Handle, error) {
	if b.recipe == nil {
		return b.inline.SubmitTask(ctx, ectx, task)
	}
	if err := b.enqueue(ctx, task); err != nil {
		return nil, err
	}
	h := newHandle(task.TaskID)
	go func() {
		h.resolve(b.awaitResult(ctx, ectx, task.TaskID))
	}()
	return h, nil
}

func (b *Distributed) enqueue(ctx context.Context, task *models.Task) error {
	payload, err := json.Marshal(workItem{TaskID: task.TaskID, Recipe: b.recipe, Task: task})
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	return b.queue.Push(ctx, payload)
}

func (b *Distributed) awaitResult(ctx context.Context, ectx *exectx.Context, taskID string) (*models.Result, error) {
	ticker := time.NewTicker(b.resultPoll)
	defer ticker.Stop()
	for {
		cp, _, err := b.store.Load(ctx, taskID)
		if err == nil {
			if status := models.Status(cp.Status); isTerminal(status) {
				return &models.Result{
					TaskID:      taskID,
					Status:      status,
					FinalAnswer: models.FinalAnswerFromCycles(cp.CycleRecords),
					Cycles:      cp.CycleRecords,
					Usage:       cp.CumulativeUsage,
					ErrorReason: cp.ErrorReason,
				}, nil
			}
		} else if !errors.Is(err, statestore.ErrNotFound) {
			return nil, err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ectx.Cancel.Done():
			return nil, ectx.Cancel.Err()
		}
	}
}

func isTerminal(s models.Status) bool {
	switch s {
	case models.StatusCompleted, models.StatusWaitUser, models.StatusFailed, models.StatusMaxCycles:
		return true
	}
	return false
}

// Worker consumes work items, runs exactly one cycle per item, persists
// the checkpoint with a conditional write, and re-enqueues the task when
// it is not yet terminal.
type Worker struct {
	queue   Queue
	store   statestore.Store
	factory RuntimeFactory
	logger  *slog.Logger

	// popTimeout bounds each blocking Pop so the worker can observe ctx
	// cancellation between items.
	popTimeout time.Duration
}

// NewWorker creates a Worker.
func NewWorker(queue Queue, store statestore.Store, factory RuntimeFactory, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:      queue,
		store:      store,
		factory:    factory,
		logger:     logger.With("component", "backend.worker"),
		popTimeout: time.Second,
	}
}

// Run consumes items until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := w.queue.Pop(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("pop work item: %w", err)
		}
		if payload == nil {
			continue
		}
		if err := w.processItem(ctx, payload); err != nil {
			w.logger.Warn("work item failed", "error", err)
		}
	}
}

// ProcessOne pops and processes a single item; it reports whether an
// item was available. Used by tests and by embedders that drive the
// worker loop themselves.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	payload, err := w.queue.Pop(ctx, w.popTimeout)
	if err != nil || payload == nil {
		return false, err
	}
	return true, w.processItem(ctx, payload)
}

func (w *Worker) processItem(ctx context.Context, payload []byte) error {
	var item workItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return fmt.Errorf("unmarshal work item: %w", err)
	}
	if item.Task == nil || item.Recipe == nil {
		return fmt.Errorf("work item %s missing task or recipe", item.TaskID)
	}

	task := item.Task
	cp, version, err := w.store.Load(ctx, item.TaskID)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		version = 0
	case err != nil:
		return fmt.Errorf("load checkpoint %s: %w", item.TaskID, err)
	default:
		if isTerminal(models.Status(cp.Status)) {
			return nil // stale item; the task already finished
		}
		task.Status = models.Status(cp.Status)
		task.Messages = cp.Messages
		task.CycleIndex = cp.CycleIndex
		task.LastUsage = cp.CumulativeUsage
	}

	runner, ectx, err := w.factory(*item.Recipe, task)
	if err != nil {
		return fmt.Errorf("rebuild runtime from recipe: %w", err)
	}
	// The worker owns checkpointing: the runtime must not double-write
	// with an unconditional version, or two workers racing the same cycle
	// could both succeed.
	ectx.Store = nil

	record, finished, stepErr := runner.Step(ctx, ectx, task)
	if stepErr != nil {
		task.Status = models.StatusFailed
		finished = true
	}

	next := statestore.Checkpoint{
		TaskID:          item.TaskID,
		Status:          string(task.Status),
		Messages:        task.Messages,
		CycleIndex:      task.CycleIndex,
		CycleRecords:    cp.CycleRecords,
		CumulativeUsage: cp.CumulativeUsage,
	}
	if stepErr != nil {
		next.ErrorReason = stepErr.Error()
	}
	if record != nil {
		next.CycleRecords = append(next.CycleRecords, *record)
		next.CumulativeUsage = next.CumulativeUsage.Add(record.Usage)
		next.PendingDirective = record.Directive
	}

	if _, err := w.store.Save(ctx, item.TaskID, next, version); err != nil {
		if errors.Is(err, statestore.ErrVersionConflict) {
			// Another worker ran this cycle first; drop our result.
			w.logger.Debug("checkpoint conflict, discarding cycle", "task_id", item.TaskID)
			return nil
		}
		return fmt.Errorf("save checkpoint %s: %w", item.TaskID, err)
	}

	if stepErr != nil {
		return fmt.Errorf("cycle step %s: %w", item.TaskID, stepErr)
	}
	if !finished {
		if err := w.queue.Push(ctx, payload); err != nil {
			return fmt.Errorf("re-enqueue %s: %w", item.TaskID, err)
		}
	}
	return nil
}
