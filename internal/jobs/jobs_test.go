package jobs

import (
	"context"
	"strings"
	"testing"
	"time"
)

func waitTerminal(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := m.Get(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if job.Status != StatusRunning {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return Job{}
}

func TestStartCapturesOutputAndExitStatus(t *testing.T) {
	m := NewManager()
	job := m.Start(context.Background(), "echo hello", 0)
	if job.Status != StatusRunning {
		t.Fatalf("initial status = %s, want running", job.Status)
	}

	done := waitTerminal(t, m, job.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("status = %s (%s), want succeeded", done.Status, done.Error)
	}
	if !strings.Contains(done.Output, "hello") {
		t.Fatalf("output = %q, want to contain hello", done.Output)
	}
}

func TestFailedCommandReportsExitCode(t *testing.T) {
	m := NewManager()
	job := m.Start(context.Background(), "exit 3", 0)
	done := waitTerminal(t, m, job.ID)
	if done.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if done.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", done.ExitCode)
	}
}

func TestTimeoutMarksJobFailed(t *testing.T) {
	m := NewManager()
	job := m.Start(context.Background(), "sleep 10", 50*time.Millisecond)
	done := waitTerminal(t, m, job.ID)
	if done.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if !strings.Contains(done.Error, "timed out") {
		t.Fatalf("error = %q, want timeout", done.Error)
	}
}

func TestCancelStopsRunningJob(t *testing.T) {
	m := NewManager()
	job := m.Start(context.Background(), "sleep 10", 0)
	m.Cancel(job.ID)
	done := waitTerminal(t, m, job.ID)
	if done.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", done.Status)
	}
}

func TestGetUnknownJob(t *testing.T) {
	m := NewManager()
	if _, ok := m.Get("nope"); ok {
		t.Fatal("expected unknown job to be absent")
	}
}

func TestPruneKeepsRunningJobs(t *testing.T) {
	m := NewManager()
	finished := m.Start(context.Background(), "true", 0)
	waitTerminal(t, m, finished.ID)
	running := m.Start(context.Background(), "sleep 10", 0)
	defer m.Cancel(running.ID)

	pruned := m.Prune(0)
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, ok := m.Get(running.ID); !ok {
		t.Fatal("running job was pruned")
	}
}
