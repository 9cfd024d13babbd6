package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

// childResult is one sub-task's aggregated outcome, reported back to the
// parent LLM in call order.
type childResult struct {
	AgentName   string `json:"agent_name"`
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	FinalAnswer string `json:"final_answer"`
	Error       string `json:"error,omitempty"`
}

// registerSubAgent wires create_sub_task and batch_sub_tasks.
// The batch variant fans children out in parallel while preserving call
// order in the aggregated result (wait group plus indexed result slice).
func registerSubAgent(reg *registry.Registry, cfg *Config) {
	subAgentGuard := func(h registry.HandlerFunc) registry.HandlerFunc {
		return func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
			if len(cfg.Task.SubAgents) == 0 {
				return errorResult(ErrNotEnabled, "no sub-agents are configured for this task"), nil
			}
			if cfg.Spawn == nil {
				return errorResult(ErrNotEnabled, "sub-agent execution is not wired for this runtime"), nil
			}
			return h(ctx, args)
		}
	}

	reg.Register(registry.Schema{
		Name:        "create_sub_task",
		Description: "Delegate a prompt to a named sub-agent and block until it finishes.",
		Parameters: objectSchema([]string{"agent_name", "prompt"}, map[string]any{
			"agent_name": map[string]any{"type": "string"},
			"prompt":     map[string]any{"type": "string"},
		}),
	}, subAgentGuard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		name, ok := stringArg(args, "agent_name")
		if !ok {
			return errorResult(ErrMissingArgument, "create_sub_task requires agent_name"), nil
		}
		prompt, ok := stringArg(args, "prompt")
		if !ok {
			return errorResult(ErrMissingArgument, "create_sub_task requires a prompt"), nil
		}

		res := cfg.runChild(ctx, name, prompt)
		if res.Error != "" && res.Status == "" {
			return errorResult(ErrSubAgentNotFound, res.Error), nil
		}
		return registry.HandlerResult{Payload: res}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "batch_sub_tasks",
		Description: "Delegate multiple prompts to sub-agents in parallel. Results are reported in call order.",
		Parameters: objectSchema([]string{"tasks"}, map[string]any{
			"tasks": map[string]any{
				"type": "array",
				"items": objectSchema([]string{"agent_name", "prompt"}, map[string]any{
					"agent_name": map[string]any{"type": "string"},
					"prompt":     map[string]any{"type": "string"},
				}),
			},
		}),
	}, subAgentGuard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		rawTasks, ok := args["tasks"].([]any)
		if !ok || len(rawTasks) == 0 {
			return errorResult(ErrMissingArgument, "batch_sub_tasks requires a non-empty tasks array"), nil
		}

		type request struct{ name, prompt string }
		requests := make([]request, 0, len(rawTasks))
		for _, raw := range rawTasks {
			entry, ok := raw.(map[string]any)
			if !ok {
				return errorResult(ErrMissingArgument, "each batch entry must be an object"), nil
			}
			name, ok := stringArg(entry, "agent_name")
			if !ok {
				return errorResult(ErrMissingArgument, "each batch entry requires agent_name"), nil
			}
			prompt, ok := stringArg(entry, "prompt")
			if !ok {
				return errorResult(ErrMissingArgument, "each batch entry requires a prompt"), nil
			}
			requests = append(requests, request{name: name, prompt: prompt})
		}

		// Fan out; results land at their request index so the aggregate
		// preserves call order regardless of completion order.
		results := make([]childResult, len(requests))
		var wg sync.WaitGroup
		for i, req := range requests {
			wg.Add(1)
			go func(i int, req request) {
				defer wg.Done()
				results[i] = cfg.runChild(ctx, req.name, req.prompt)
			}(i, req)
		}
		wg.Wait()

		answers := make([]string, len(results))
		for i, r := range results {
			answers[i] = r.FinalAnswer
		}
		return registry.HandlerResult{Payload: map[string]any{
			"answers": answers,
			"results": results,
		}}, nil
	}))
}

// runChild instantiates and runs one sub-agent task to a terminal state.
// The child task gets a fresh message list, an execution context derived
// from the parent's (with a descendant cancellation token), the parent's
// model when the SubAgentSpec names none, and the parent's workspace root; it
// carries nothing else of the parent's task structure.
func (cfg *Config) runChild(ctx context.Context, name, prompt string) childResult {
	spec, ok := cfg.Task.SubAgents[name]
	if !ok {
		return childResult{AgentName: name, Error: fmt.Sprintf("sub-agent %q is not configured", name)}
	}

	model := spec.Model
	if model == "" {
		model = cfg.Task.Model
	}
	child := &models.Task{
		TaskID:     uuid.NewString(),
		Model:      model,
		System:     spec.SystemPrompt,
		UserPrompt: prompt,
		Messages: []protocol.Message{
			{Role: protocol.RoleUser, Content: prompt},
		},
		MaxCycles:     spec.MaxCycles,
		Capabilities:  spec.Capabilities,
		WorkspaceRoot: cfg.Task.WorkspaceRoot,
	}

	childCtx := cfg.Exec.Child()
	res, err := cfg.Spawn(ctx, childCtx, child)
	if err != nil {
		cfg.logger().Warn("sub-task failed", "agent", name, "task_id", child.TaskID, "error", err)
		return childResult{AgentName: name, TaskID: child.TaskID, Status: string(models.StatusFailed), Error: err.Error()}
	}
	return childResult{
		AgentName:   name,
		TaskID:      res.TaskID,
		Status:      string(res.Status),
		FinalAnswer: res.FinalAnswer,
		Error:       res.ErrorReason,
	}
}
