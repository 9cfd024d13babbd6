// Package jobs tracks background shell commands started by the bash
// tool so the check_background_command tool can poll them on later
// cycles.
package jobs

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a background command's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is one background command.
type Job struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Status     Status    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Output     string    `json:"output"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Manager starts and tracks background commands. Safe for concurrent use
// across tasks.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*record
}

type record struct {
	job    Job
	cancel context.CancelFunc
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{jobs: make(map[string]*record)}
}

// Start launches command under sh -c in a background goroutine and
// returns the new job's snapshot immediately. A non-zero timeout bounds
// the command's runtime; timeout expiry marks the job failed.
func (m *Manager) Start(ctx context.Context, command string, timeout time.Duration) Job {
	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}

	job := Job{
		ID:        uuid.NewString(),
		Command:   command,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = &record{job: job, cancel: cancel}
	m.mu.Unlock()

	go m.run(runCtx, cancel, job.ID, command)
	return job
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, id, command string) {
	defer cancel()

	d, ok := ctx.Deadline()
	println("DEBUG: deadline ok=", ok, "in=", time.Until(d).String())
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	println("DEBUG: starting cmd", command)
	err := cmd.Run()
	println("DEBUG: cmd.Run returned", err == nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return
	}
	rec.job.Output = buf.String()
	rec.job.FinishedAt = time.Now()
	switch {
	case rec.job.Status == StatusCancelled:
		// Cancel won the race; keep the cancelled status.
	case ctx.Err() == context.DeadlineExceeded:
		rec.job.Status = StatusFailed
		rec.job.Error = "command timed out"
		rec.job.ExitCode = -1
	case err != nil:
		rec.job.Status = StatusFailed
		rec.job.Error = err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok {
			rec.job.ExitCode = exitErr.ExitCode()
		} else {
			rec.job.ExitCode = -1
		}
	default:
		rec.job.Status = StatusSucceeded
	}
}

// Get returns a snapshot of the job with id, if tracked.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return rec.job, true
}

// Cancel requests cancellation of a running job. Cancelling a finished
// or unknown job is a no-op.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok || rec.job.Status != StatusRunning {
		return
	}
	rec.job.Status = StatusCancelled
	rec.job.Error = "cancelled"
	rec.cancel()
}

// Prune drops finished jobs older than olderThan and returns how many
// were removed.
func (m *Manager) Prune(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	pruned := 0
	for id, rec := range m.jobs {
		if rec.job.Status == StatusRunning {
			continue
		}
		if rec.job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			pruned++
		}
	}
	return pruned
}
