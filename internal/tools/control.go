package tools

import (
	"context"
	"fmt"

	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
)

// registerControl wires the two always-visible terminal tools:
// task_finish and ask_user. Terminal states are only ever
// tool-signalled, so these two are the sole sources of
// finish/wait_user directives.
func registerControl(reg *registry.Registry, cfg *Config) {
	reg.Register(registry.Schema{
		Name:        "task_finish",
		Description: "Finish the task with a final answer. Fails if todo items remain incomplete.",
		Parameters: objectSchema([]string{"answer"}, map[string]any{
			"answer": map[string]any{"type": "string", "description": "The final answer to deliver to the user."},
		}),
	}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		answer, ok := stringArg(args, "answer")
		if !ok {
			return errorResult(ErrMissingArgument, "task_finish requires an answer"), nil
		}

		if incomplete := cfg.Todos.Incomplete(); len(incomplete) > 0 {
			titles := make([]string, 0, len(incomplete))
			for _, t := range incomplete {
				titles = append(titles, t.Title)
			}
			return registry.HandlerResult{
				Payload: map[string]any{
					"error":      fmt.Sprintf("%d todo item(s) are not completed", len(incomplete)),
					"error_code": ErrTodoIncomplete,
					"incomplete": titles,
				},
				StatusCode: protocol.StatusError,
				ErrorCode:  ErrTodoIncomplete,
			}, nil
		}

		return registry.HandlerResult{
			Payload:   map[string]any{"answer": answer},
			Directive: protocol.DirectiveFinish,
		}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "ask_user",
		Description: "Pause the task and ask the user a question. The task resumes when the user replies.",
		Parameters: objectSchema([]string{"question"}, map[string]any{
			"question": map[string]any{"type": "string"},
			"options":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}),
	}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		question, ok := stringArg(args, "question")
		if !ok {
			return errorResult(ErrMissingArgument, "ask_user requires a question"), nil
		}

		payload := map[string]any{"question": question}
		if opts, ok := args["options"].([]any); ok && len(opts) > 0 {
			payload["options"] = opts
		}
		return registry.HandlerResult{
			Payload:    payload,
			StatusCode: protocol.StatusWaitResponse,
			Directive:  protocol.DirectiveWaitUser,
		}, nil
	}))
}
