package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

const defaultPoolWorkers = 8

// Pool is the thread-pool Backend: SubmitTask returns immediately and the
// task's cycle loop runs on one of a bounded set of worker goroutines.
// The bound is a buffered-channel semaphore, so submission applies
// backpressure once every worker slot is busy.
type Pool struct {
	runner Runner
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool creates a Pool running at most workers tasks concurrently.
// workers <= 0 selects the default of 8.
func NewPool(runner Runner, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = defaultPoolWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		runner: runner,
		sem:    make(chan struct{}, workers),
		logger: logger.With("component", "backend.pool"),
	}
}

// RunTask implements Backend by submitting and waiting.
func (b *Pool) RunTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error) {
	h, err := b.SubmitTask(ctx, ectx, task)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// SubmitTask implements Backend. It blocks only while every worker slot
// is busy; cancellation of ctx or the task's token abandons the wait.
func (b *Pool) SubmitTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*Handle, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrPoolClosed
	}
	b.wg.Add(1)
	b.mu.Unlock()

	h := newHandle(task.TaskID)

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		b.wg.Done()
		return nil, ctx.Err()
	case <-ectx.Cancel.Done():
		b.wg.Done()
		return nil, ectx.Cancel.Err()
	}

	go func() {
		defer func() {
			<-b.sem
			b.wg.Done()
		}()
		result, err := b.runner.Run(ctx, ectx, task)
		if err != nil {
			b.logger.Warn("task failed", "task_id", task.TaskID, "error", err)
		}
		h.resolve(result, err)
	}()

	return h, nil
}

// Shutdown stops accepting new tasks and waits for in-flight tasks to
// finish or ctx to expire. In-flight tasks are not cancelled; callers
// wanting that cancel the tasks' tokens first.
func (b *Pool) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrPoolClosed is returned by SubmitTask after Shutdown.
var ErrPoolClosed = errors.New("backend: pool is shut down")
