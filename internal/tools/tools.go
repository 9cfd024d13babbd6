// Package tools implements the built-in tool handlers: task control
// (task_finish, ask_user, todo_write), workspace file tools,
// compute tools (bash, check_background_command, read_image), sub-agent
// delegation, and compress_memory. One file per tool family, all
// registered against the shared tool registry at task setup.
package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/jobs"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
	"github.com/AndersonBY/vv-agent/internal/workspace"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

// Domain error codes returned by built-in handlers.
const (
	ErrTodoIncomplete         = "todo_incomplete"
	ErrTodoMultipleInProgress = "todo_multiple_in_progress"
	ErrPathEscape             = "path_escape"
	ErrFileNotFound           = "file_not_found"
	ErrBashTimeout            = "bash_timeout"
	ErrJobNotFound            = "job_not_found"
	ErrSubAgentNotFound       = "sub_agent_not_found"
	ErrNotEnabled             = "not_enabled"
	ErrMissingArgument        = "missing_argument"
	ErrStrNotFound            = "str_not_found"
	ErrStrAmbiguous           = "str_ambiguous"
	ErrWorkflowNotFound       = "workflow_not_found"
)

const defaultBashTimeout = 60 * time.Second

// SpawnFunc runs a sub-agent task to a terminal state. The embedder
// supplies one that assembles a fresh runtime (registry, backend, chat
// client) for the child; pkg/agentsdk provides the default recursive
// implementation.
type SpawnFunc func(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error)

// Config carries the per-task collaborators the built-in handlers close
// over. One Config (and one registry built from it) belongs to one task
// run, so the registry stays read-only once the run starts.
type Config struct {
	Task      *models.Task
	Exec      *exectx.Context
	Workspace workspace.Backend
	Jobs      *jobs.Manager
	Todos     *TodoStore
	Workflows *WorkflowStore
	Spawn     SpawnFunc

	// BashTimeout bounds foreground bash commands; zero means the
	// 60-second default.
	BashTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) bashTimeout() time.Duration {
	if c.BashTimeout > 0 {
		return c.BashTimeout
	}
	return defaultBashTimeout
}

// RegisterAll registers every built-in tool against reg. Visibility per
// cycle is the Tool Planner's concern; capability-gated handlers
// additionally verify their flag at execution time and return not_enabled
// when the LLM calls a tool the planner never offered.
func RegisterAll(reg *registry.Registry, cfg *Config) {
	if cfg.Todos == nil {
		cfg.Todos = NewTodoStore()
	}
	if cfg.Jobs == nil {
		cfg.Jobs = jobs.NewManager()
	}
	if cfg.Workflows == nil {
		cfg.Workflows = NewWorkflowStore()
	}
	registerControl(reg, cfg)
	registerTodo(reg, cfg)
	registerFile(reg, cfg)
	registerCompute(reg, cfg)
	registerSubAgent(reg, cfg)
	registerMemory(reg, cfg)
	registerGated(reg, cfg)
}

// errorResult builds the standard ERROR handler result shape.
func errorResult(code, message string) registry.HandlerResult {
	return registry.HandlerResult{
		Payload:    map[string]string{"error": message, "error_code": code},
		StatusCode: protocol.StatusError,
		ErrorCode:  code,
	}
}

// stringArg fetches a required string argument.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

// optionalString fetches an optional string argument.
func optionalString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// optionalBool fetches an optional bool argument.
func optionalBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// optionalNumber fetches an optional numeric argument (JSON numbers
// decode as float64).
func optionalNumber(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
