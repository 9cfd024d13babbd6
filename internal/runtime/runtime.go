// Package runtime implements the agent runtime: the top-level task
// state machine that composes the memory manager, cycle runner, and
// tool call runner into the per-cycle sequence, plus sub-agent
// delegation.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AndersonBY/vv-agent/internal/cycle"
	"github.com/AndersonBY/vv-agent/internal/dispatch"
	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/hooks"
	"github.com/AndersonBY/vv-agent/internal/memory"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/provider"
	"github.com/AndersonBY/vv-agent/internal/registry"
	"github.com/AndersonBY/vv-agent/internal/retry"
	"github.com/AndersonBY/vv-agent/internal/statestore"
	"github.com/AndersonBY/vv-agent/internal/toolrun"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

const defaultMaxCycles = 20

// ErrCancelled is the terminal error reason set when a task is
// cancelled mid-run.
const ErrCancelled = "cancelled"

// Runtime composes every subsystem a task's cycle loop needs.
// A single Runtime can drive many tasks; all per-task state lives on
// *models.Task and *exectx.Context, not on Runtime itself, so Runtime is
// safe for concurrent use across tasks.
type Runtime struct {
	registry  *registry.Registry
	cycleRun  *cycle.Runner
	toolRun   *toolrun.Runner
	memoryMgr *memory.Manager
	summarize memory.Summarizer
	logger    *slog.Logger
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithMemoryConfig overrides the default memory.Config.
func WithMemoryConfig(cfg memory.Config, est memory.Estimator, artifacts memory.ArtifactStore) Option {
	return func(r *Runtime) { r.memoryMgr = memory.NewManager(cfg, est, artifacts) }
}

// WithSummarizer sets the LLM-backed summarizer memory compaction calls
// when structural cleanup alone is insufficient. Without
// one, compaction falls back to a placeholder summary string.
func WithSummarizer(s memory.Summarizer) Option {
	return func(r *Runtime) { r.summarize = s }
}

// WithApproval gates every tool call behind policy before dispatch.
func WithApproval(policy toolrun.ApprovalPolicy) Option {
	return func(r *Runtime) { r.toolRun.Approval = policy }
}

// New creates a Runtime around reg (the Tool Registry) and client (the
// Chat client, typically a provider.Failover wrapping several
// endpoints).
func New(reg *registry.Registry, client provider.ChatClient, opts ...Option) *Runtime {
	r := &Runtime{
		registry:  reg,
		cycleRun:  cycle.New(client, reg),
		toolRun:   toolrun.New(dispatch.New(reg)),
		memoryMgr: memory.NewManager(memory.DefaultConfig(), nil, nil),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives task to a terminal state, looping Step. It is the entry
// point for the inline and thread-pool Execution Backends;
// the distributed-queue backend instead calls Step once per work item.
// Runtime errors (cancellation, a failed cycle, endpoint exhaustion)
// are terminal outcomes, not Go errors: Run reports them through the
// Result's failed status and ErrorReason.
func (r *Runtime) Run(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error) {
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	task.Status = models.StatusRunning

	var records []protocol.CycleRecord
	for {
		record, finished, err := r.Step(ctx, ectx, task)
		if err != nil {
			task.Status = models.StatusFailed
			return r.buildResult(task, records, err.Error()), nil
		}
		if record != nil {
			records = append(records, *record)
		}
		if finished {
			break
		}
	}

	return r.buildResult(task, records, ""), nil
}

// Step performs exactly one cycle and reports whether the task reached
// a terminal state. Distributed-queue backends
// call this once per dispatched work item, persisting the checkpoint in
// between via ectx.Store.
func (r *Runtime) Step(ctx context.Context, ectx *exectx.Context, task *models.Task) (*protocol.CycleRecord, bool, error) {
	started := time.Now()

	// 1. Cancellation check.
	if ectx.Cancel != nil && ectx.Cancel.Check() {
		task.Status = models.StatusFailed
		return nil, true, fmt.Errorf("task %s: %s", task.TaskID, ErrCancelled)
	}

	// 2. Memory compaction, if due.
	if err := r.maybeCompact(ctx, ectx, task); err != nil {
		return nil, false, fmt.Errorf("memory compaction: %w", err)
	}

	// 3. Cycle Runner.
	if err := ectx.Hooks.Dispatch(ctx, hooks.BeforeLLM, task); err != nil {
		return nil, false, fmt.Errorf("before_llm hook: %w", err)
	}
	outcome, err := r.cycleRun.Run(ectx.Cancel.Context(), task.Messages, task.Capabilities,
		r.memoryMgr.UsagePercent(&task.LastUsage, task.Messages), task.MemoryThresholdPercent,
		cycle.Options{Model: task.Model, System: task.System, StreamSink: ectx.Sink, Stream: ectx.Sink != nil})
	if err != nil {
		return nil, false, fmt.Errorf("cycle runner: %w", err)
	}
	if err := ectx.Hooks.Dispatch(ctx, hooks.AfterLLM, outcome); err != nil {
		return nil, false, fmt.Errorf("after_llm hook: %w", err)
	}

	task.Messages = append(task.Messages, outcome.Assistant)
	if outcome.ContinueHint != nil {
		task.Messages = append(task.Messages, *outcome.ContinueHint)
	}
	task.LastUsage = outcome.Usage

	// 4. Tool Call Runner.
	var toolOutcome toolrun.Outcome
	if len(outcome.ToolCalls) > 0 {
		if err := ectx.Hooks.Dispatch(ctx, hooks.BeforeToolCall, outcome.ToolCalls); err != nil {
			return nil, false, fmt.Errorf("before_tool_call hook: %w", err)
		}
		toolOutcome = r.toolRun.Run(ectx.Cancel.Context(), outcome.ToolCalls)
		task.Messages = append(task.Messages, toolOutcome.Messages...)
		if toolOutcome.CompactionDue {
			task.CompactionPending = true
		}
		if toolOutcome.Deferred {
			r.logger.Debug("background tool call in flight, expecting a polling call next cycle", "task_id", task.TaskID)
		}
		if err := ectx.Hooks.Dispatch(ctx, hooks.AfterToolCall, toolOutcome); err != nil {
			return nil, false, fmt.Errorf("after_tool_call hook: %w", err)
		}
	} else {
		toolOutcome.Directive = protocol.DirectiveContinue
	}

	task.CycleIndex++
	record := protocol.CycleRecord{
		Index:      task.CycleIndex,
		Assistant:  outcome.Assistant,
		Outcomes:   toolOutcome.Outcomes,
		Directive:  toolOutcome.Directive,
		Usage:      outcome.Usage,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	// 5. Persist checkpoint.
	if ectx.Store != nil {
		if err := r.checkpoint(ctx, ectx.Store, task, record); err != nil {
			r.logger.Warn("checkpoint save failed", "task_id", task.TaskID, "error", err)
		}
	}

	// 6. Apply directive.
	finished := r.applyDirective(task, toolOutcome, record)
	return &record, finished, nil
}

func (r *Runtime) applyDirective(task *models.Task, toolOutcome toolrun.Outcome, record protocol.CycleRecord) bool {
	maxCycles := task.MaxCycles
	if maxCycles <= 0 {
		maxCycles = defaultMaxCycles
	}

	switch {
	case record.Directive == protocol.DirectiveFinish:
		task.Status = models.StatusCompleted
		return true
	case record.Directive == protocol.DirectiveWaitUser:
		task.Status = models.StatusWaitUser
		return true
	case task.CycleIndex >= maxCycles:
		task.Status = models.StatusMaxCycles
		return true
	default:
		task.Status = models.StatusRunning
		return false
	}
}

func (r *Runtime) maybeCompact(ctx context.Context, ectx *exectx.Context, task *models.Task) error {
	due := task.CompactionPending || r.effectiveManagerFor(task).ShouldCompact(&task.LastUsage, task.Messages)
	if !due {
		return nil
	}

	if err := ectx.Hooks.Dispatch(ctx, hooks.BeforeMemoryCompact, task); err != nil {
		return err
	}

	mgr := r.effectiveManagerFor(task)
	compacted, err := mgr.Compact(ctx, task.Messages, r.summarize)
	if err != nil {
		return err
	}
	task.Messages = compacted
	task.CompactionPending = false

	return ectx.Hooks.Dispatch(ctx, hooks.AfterMemoryCompact, task)
}

// effectiveManagerFor builds a per-task Manager from the task's metadata
// and threshold fields whenever the task carries any metadata; otherwise
// it reuses the Runtime's shared Manager.
func (r *Runtime) effectiveManagerFor(task *models.Task) *memory.Manager {
	if len(task.Metadata) == 0 {
		return r.memoryMgr
	}
	cfg := memory.ConfigFromMetadata(task.Metadata)
	if task.MemoryCompactThreshold > 0 {
		cfg.Threshold = task.MemoryCompactThreshold
	}
	if task.MemoryThresholdPercent > 0 {
		cfg.ThresholdPercent = task.MemoryThresholdPercent
	}
	return memory.NewManager(cfg, nil, nil)
}

// checkpoint persists the cycle via load-modify-save. A version
// conflict means another writer landed between our load and save, so
// the whole sequence retries; any other store failure is permanent.
func (r *Runtime) checkpoint(ctx context.Context, store statestore.Store, task *models.Task, record protocol.CycleRecord) error {
	res := retry.Do(ctx, retry.CheckpointWrite(), func() error {
		prev, version, err := store.Load(ctx, task.TaskID)
		if err != nil && err != statestore.ErrNotFound {
			return retry.Permanent(err)
		}
		cp := statestore.Checkpoint{
			TaskID:           task.TaskID,
			Status:           string(task.Status),
			Messages:         task.Messages,
			CycleIndex:       task.CycleIndex,
			CycleRecords:     append(prev.CycleRecords, record),
			CumulativeUsage:  prev.CumulativeUsage.Add(record.Usage),
			PendingDirective: record.Directive,
		}
		if _, err := store.Save(ctx, task.TaskID, cp, version); err != nil {
			if errors.Is(err, statestore.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
	return res.Err
}

func (r *Runtime) buildResult(task *models.Task, records []protocol.CycleRecord, errReason string) *models.Result {
	return &models.Result{
		TaskID:      task.TaskID,
		Status:      task.Status,
		FinalAnswer: models.FinalAnswerFromCycles(records),
		Cycles:      records,
		Usage:       models.AggregateUsage(records),
		ErrorReason: errReason,
	}
}
