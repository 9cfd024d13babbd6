package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/AndersonBY/vv-agent/internal/dispatch"
	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

func newTestConfig(task *models.Task) (*registry.Registry, *Config) {
	if task == nil {
		task = &models.Task{TaskID: "t1"}
	}
	reg := registry.New()
	cfg := &Config{Task: task, Exec: exectx.New()}
	RegisterAll(reg, cfg)
	return reg, cfg
}

func call(t *testing.T, reg *registry.Registry, name, args string) protocol.ToolExecutionResult {
	t.Helper()
	d := dispatch.New(reg)
	return d.Dispatch(context.Background(), protocol.ToolCall{
		ID:        "call-1",
		Name:      name,
		Arguments: []byte(args),
	})
}

func TestTaskFinishReturnsFinishDirective(t *testing.T) {
	reg, _ := newTestConfig(nil)
	res := call(t, reg, "task_finish", `{"answer":"hi"}`)

	if res.Directive != protocol.DirectiveFinish {
		t.Fatalf("directive = %s, want finish", res.Directive)
	}
	if res.StatusCode != protocol.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", res.StatusCode)
	}
	if !strings.Contains(res.Content, `"answer":"hi"`) {
		t.Fatalf("content = %s, want answer payload", res.Content)
	}
}

func TestTaskFinishBlockedByIncompleteTodos(t *testing.T) {
	reg, cfg := newTestConfig(nil)
	cfg.Todos.Replace([]Todo{{ID: "1", Title: "x", Status: TodoPending}})

	res := call(t, reg, "task_finish", `{"answer":"done"}`)
	if res.ErrorCode != ErrTodoIncomplete {
		t.Fatalf("error_code = %q, want %q", res.ErrorCode, ErrTodoIncomplete)
	}
	if res.Directive != protocol.DirectiveContinue {
		t.Fatalf("directive = %s, want continue (cycle must not terminate)", res.Directive)
	}
}

func TestAskUserWaitsForResponse(t *testing.T) {
	reg, _ := newTestConfig(nil)
	res := call(t, reg, "ask_user", `{"question":"what is your name?"}`)

	if res.StatusCode != protocol.StatusWaitResponse {
		t.Fatalf("status = %s, want WAIT_RESPONSE", res.StatusCode)
	}
	if res.Directive != protocol.DirectiveWaitUser {
		t.Fatalf("directive = %s, want wait_user", res.Directive)
	}
}

func TestTodoWriteReplacesList(t *testing.T) {
	reg, cfg := newTestConfig(nil)
	res := call(t, reg, "todo_write", `{"todos":[{"title":"a","status":"completed"},{"title":"b","status":"in_progress"}]}`)
	if res.StatusCode != protocol.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.StatusCode, res.Content)
	}
	if got := len(cfg.Todos.List()); got != 2 {
		t.Fatalf("todo count = %d, want 2", got)
	}

	res = call(t, reg, "todo_write", `{"todos":[]}`)
	if res.StatusCode != protocol.StatusSuccess {
		t.Fatalf("status = %s", res.StatusCode)
	}
	if got := len(cfg.Todos.List()); got != 0 {
		t.Fatalf("todo count after replacement = %d, want 0", got)
	}
}

func TestTodoWriteRejectsTwoInProgress(t *testing.T) {
	reg, cfg := newTestConfig(nil)
	res := call(t, reg, "todo_write", `{"todos":[{"title":"a","status":"in_progress"},{"title":"b","status":"in_progress"}]}`)

	if res.ErrorCode != ErrTodoMultipleInProgress {
		t.Fatalf("error_code = %q, want %q", res.ErrorCode, ErrTodoMultipleInProgress)
	}
	if got := len(cfg.Todos.List()); got != 0 {
		t.Fatalf("rejected write must not mutate the list, got %d items", got)
	}
}

func TestCompressMemorySchedulesCompaction(t *testing.T) {
	reg, _ := newTestConfig(nil)
	res := call(t, reg, "compress_memory", `{}`)
	if res.StatusCode != protocol.StatusPendingCompress {
		t.Fatalf("status = %s, want PENDING_COMPRESS", res.StatusCode)
	}
}

func TestGatedToolsReturnNotEnabled(t *testing.T) {
	reg, _ := newTestConfig(nil)
	for _, name := range []string{"document_extract", "workflow_start", "bash", "read_file"} {
		args := `{"path":"x","name":"x","command":"true"}`
		res := call(t, reg, name, args)
		if res.ErrorCode != ErrNotEnabled {
			t.Fatalf("%s error_code = %q, want %q", name, res.ErrorCode, ErrNotEnabled)
		}
	}
}
