package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AndersonBY/vv-agent/internal/cancel"
	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/provider"
	"github.com/AndersonBY/vv-agent/internal/registry"
	"github.com/AndersonBY/vv-agent/internal/statestore"
	"github.com/AndersonBY/vv-agent/internal/tools"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

func toolCall(id, name, args string) protocol.ToolCall {
	return protocol.ToolCall{ID: id, Name: name, Arguments: []byte(args)}
}

func newTask(system, prompt string) *models.Task {
	return &models.Task{
		TaskID:     "task-" + prompt,
		Model:      "test-model",
		System:     system,
		UserPrompt: prompt,
		Messages:   []protocol.Message{{Role: protocol.RoleUser, Content: prompt}},
	}
}

// newRuntime assembles a runtime over the built-in tools and a scripted
// chat client, the same wiring pkg/agentsdk does for embedders.
func newRuntime(task *models.Task, spawn tools.SpawnFunc, responses ...provider.Response) (*Runtime, *exectx.Context, *tools.Config) {
	ectx := exectx.New()
	reg := registry.New()
	cfg := &tools.Config{Task: task, Exec: ectx, Spawn: spawn}
	tools.RegisterAll(reg, cfg)
	return New(reg, provider.NewScripted("scripted", responses...)), ectx, cfg
}

// assertPairingInvariant walks a message list verifying every
// assistant-with-tool-calls is followed by one tool message per call in
// declared order.
func assertPairingInvariant(t *testing.T, messages []protocol.Message) {
	t.Helper()
	for i, msg := range messages {
		if msg.Role != protocol.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		wanted := make([]string, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			wanted = append(wanted, tc.ID)
		}
		seen := make([]string, 0, len(wanted))
		for j := i + 1; j < len(messages) && len(seen) < len(wanted); j++ {
			if messages[j].Role == protocol.RoleTool {
				seen = append(seen, messages[j].ToolCallID)
			}
		}
		require.Equal(t, wanted, seen, "tool results out of order after assistant at %d", i)
	}
}

func TestSimpleCompletion(t *testing.T) {
	task := newTask("you are helpful", "say hi then finish")
	rt, ectx, _ := newRuntime(task, nil, provider.Response{
		ToolCalls: []protocol.ToolCall{toolCall("c1", "task_finish", `{"answer":"hi"}`)},
	})

	res, err := rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, res.Status)
	require.Equal(t, "hi", res.FinalAnswer)
	require.Len(t, res.Cycles, 1)
	assertPairingInvariant(t, task.Messages)
}

func TestWaitUserThenResume(t *testing.T) {
	task := newTask("", "ask my name")
	rt, ectx, _ := newRuntime(task, nil,
		provider.Response{ToolCalls: []protocol.ToolCall{toolCall("c1", "ask_user", `{"question":"what is your name?"}`)}},
		provider.Response{ToolCalls: []protocol.ToolCall{toolCall("c2", "task_finish", `{"answer":"hi Ada"}`)}},
	)

	res, err := rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)
	require.Equal(t, models.StatusWaitUser, res.Status)
	require.Equal(t, "what is your name?", res.FinalAnswer)

	task.Messages = append(task.Messages, protocol.Message{Role: protocol.RoleUser, Content: "Ada"})
	res, err = rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, res.Status)
	require.Equal(t, "hi Ada", res.FinalAnswer)
	assertPairingInvariant(t, task.Messages)
}

func TestMaxCyclesCutsOffNoOpLoop(t *testing.T) {
	task := newTask("", "loop forever")
	task.MaxCycles = 2
	rt, ectx, _ := newRuntime(task, nil, provider.Response{
		ToolCalls: []protocol.ToolCall{toolCall("c1", "todo_write", `{"todos":[]}`)},
	})

	res, err := rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)
	require.Equal(t, models.StatusMaxCycles, res.Status)
	require.Len(t, res.Cycles, 2)
}

func TestTaskFinishGuardedByTodos(t *testing.T) {
	task := newTask("", "finish with todos open")
	rt, ectx, cfg := newRuntime(task, nil,
		provider.Response{ToolCalls: []protocol.ToolCall{toolCall("c1", "task_finish", `{"answer":"too early"}`)}},
		provider.Response{ToolCalls: []protocol.ToolCall{toolCall("c2", "todo_write", `{"todos":[{"title":"x","status":"completed"}]}`)}},
		provider.Response{ToolCalls: []protocol.ToolCall{toolCall("c3", "task_finish", `{"answer":"done"}`)}},
	)
	cfg.Todos.Replace([]tools.Todo{{ID: "1", Title: "x", Status: tools.TodoPending}})

	res, err := rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, res.Status)
	require.Equal(t, "done", res.FinalAnswer)
	require.Len(t, res.Cycles, 3)

	first := res.Cycles[0].Outcomes[0].Result
	require.Equal(t, "todo_incomplete", first.ErrorCode)
	require.Equal(t, protocol.DirectiveContinue, res.Cycles[0].Directive)
}

func TestBatchSubTasksPreserveCallOrder(t *testing.T) {
	task := newTask("", "fan out")
	task.SubAgents = map[string]models.SubAgentSpec{"a": {}}

	spawn := func(ctx context.Context, ectx *exectx.Context, child *models.Task) (*models.Result, error) {
		if child.UserPrompt == "p1" {
			time.Sleep(30 * time.Millisecond)
			return &models.Result{TaskID: child.TaskID, Status: models.StatusCompleted, FinalAnswer: "r1"}, nil
		}
		return &models.Result{TaskID: child.TaskID, Status: models.StatusCompleted, FinalAnswer: "r2"}, nil
	}

	rt, ectx, _ := newRuntime(task, spawn,
		provider.Response{ToolCalls: []protocol.ToolCall{toolCall("c1", "batch_sub_tasks",
			`{"tasks":[{"agent_name":"a","prompt":"p1"},{"agent_name":"a","prompt":"p2"}]}`)}},
		provider.Response{ToolCalls: []protocol.ToolCall{toolCall("c2", "task_finish", `{"answer":"both"}`)}},
	)

	res, err := rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, res.Status)

	batch := res.Cycles[0].Outcomes[0].Result
	require.True(t, strings.Contains(batch.Content, `"answers":["r1","r2"]`), "content: %s", batch.Content)
}

func TestCancelledTokenFailsTask(t *testing.T) {
	task := newTask("", "never runs")
	rt, _, _ := newRuntime(task, nil, provider.Response{
		ToolCalls: []protocol.ToolCall{toolCall("c1", "task_finish", `{"answer":"x"}`)},
	})

	token := cancel.New(context.Background())
	token.Cancel()
	ectx := exectx.New(exectx.WithCancelToken(token))

	res, err := rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, res.Status)
	require.Contains(t, res.ErrorReason, ErrCancelled)
	require.Empty(t, res.Cycles)
	require.Equal(t, models.StatusFailed, task.Status)
}

func TestChatFailureSurfacesAsFailedResult(t *testing.T) {
	task := newTask("", "doomed")
	rt, ectx, _ := newRuntime(task, nil) // no scripted responses: every turn errors

	res, err := rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, res.Status)
	require.NotEmpty(t, res.ErrorReason)
	require.Equal(t, models.StatusFailed, task.Status)
}

func TestCheckpointAccumulatesCycleRecords(t *testing.T) {
	task := newTask("", "persist me")
	task.MaxCycles = 2
	rt, _, _ := newRuntime(task, nil, provider.Response{
		ToolCalls: []protocol.ToolCall{toolCall("c1", "todo_write", `{"todos":[]}`)},
		Usage:     protocol.TokenUsage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	})

	store := statestore.NewMemoryStore()
	ectx := exectx.New(exectx.WithStateStore(store))

	_, err := rt.Run(context.Background(), ectx, task)
	require.NoError(t, err)

	cp, version, err := store.Load(context.Background(), task.TaskID)
	require.NoError(t, err)
	require.Equal(t, 2, version)
	require.Len(t, cp.CycleRecords, 2)
	require.Equal(t, 20, cp.CumulativeUsage.TotalTokens)
	require.Equal(t, task.CycleIndex, cp.CycleIndex)
}

func TestStreamingAndNonStreamingProduceSameRecord(t *testing.T) {
	response := provider.Response{
		Text:      "working",
		ToolCalls: []protocol.ToolCall{toolCall("c1", "task_finish", `{"answer":"same"}`)},
	}

	runOnce := func(stream bool) *models.Result {
		task := newTask("", "compare modes")
		rt, _, _ := newRuntime(task, nil, response)
		opts := []exectx.Option{}
		if stream {
			opts = append(opts, exectx.WithStreamSink(func(string) {}))
		}
		res, err := rt.Run(context.Background(), exectx.New(opts...), task)
		require.NoError(t, err)
		return res
	}

	direct := runOnce(false)
	streamed := runOnce(true)
	require.Equal(t, direct.Status, streamed.Status)
	require.Equal(t, direct.FinalAnswer, streamed.FinalAnswer)
	require.Equal(t, direct.Cycles[0].Assistant.Content, streamed.Cycles[0].Assistant.Content)
	require.Equal(t, direct.Cycles[0].Outcomes[0].Call, streamed.Cycles[0].Outcomes[0].Call)
}
