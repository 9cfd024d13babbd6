// Package backend implements the execution backends: the scheduling
// layer that decides which thread (or which machine) drives a task's
// cycle loop. Three variants: Inline (caller's thread), Pool (worker
// goroutines behind a semaphore), and Distributed (per-cycle work items
// on a shared queue with checkpoint-version concurrency control).
package backend

import (
	"context"
	"sync"

	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

// Runner is the slice of the Agent Runtime the backends drive.
// *runtime.Runtime satisfies it.
type Runner interface {
	// Run drives task to a terminal state on the calling goroutine.
	Run(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error)
	// Step performs exactly one cycle and reports whether the task
	// reached a terminal state.
	Step(ctx context.Context, ectx *exectx.Context, task *models.Task) (*protocol.CycleRecord, bool, error)
}

// Backend schedules tasks. Cycles of a given task are strictly
// sequential regardless of variant.
type Backend interface {
	// RunTask drives task to a terminal state, blocking the caller.
	RunTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error)
	// SubmitTask schedules task and returns a handle the caller can wait
	// on; whether submission blocks is variant-specific.
	SubmitTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*Handle, error)
}

// Handle is the future-like result of SubmitTask.
type Handle struct {
	taskID string

	mu     sync.Mutex
	done   chan struct{}
	result *models.Result
	err    error
}

func newHandle(taskID string) *Handle {
	return &Handle{taskID: taskID, done: make(chan struct{})}
}

// TaskID returns the submitted task's id.
func (h *Handle) TaskID() string { return h.taskID }

// Done returns a channel closed once the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task finishes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (*models.Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) resolve(result *models.Result, err error) {
	h.mu.Lock()
	h.result = result
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Inline is the synchronous Backend: the caller's goroutine drives the
// cycle loop.
type Inline struct {
	runner Runner
}

// NewInline creates an Inline backend around runner.
func NewInline(runner Runner) *Inline {
	return &Inline{runner: runner}
}

// RunTask implements Backend.
func (b *Inline) RunTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error) {
	return b.runner.Run(ctx, ectx, task)
}

// SubmitTask implements Backend. Inline submission runs the task to
// completion before returning an already-resolved handle.
func (b *Inline) SubmitTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*Handle, error) {
	h := newHandle(task.TaskID)
	h.resolve(b.runner.Run(ctx, ectx, task))
	return h, nil
}
