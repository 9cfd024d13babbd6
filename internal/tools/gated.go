package tools

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AndersonBY/vv-agent/internal/registry"
)

// Workflow is one tracked workflow run started by workflow_start.
type Workflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Steps     []string  `json:"steps"`
	StartedAt time.Time `json:"started_at"`
}

// WorkflowStore tracks workflow runs for the workflow_* tools.
type WorkflowStore struct {
	mu    sync.RWMutex
	items map[string]Workflow
}

// NewWorkflowStore creates an empty store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{items: make(map[string]Workflow)}
}

// Start records a new workflow run.
func (s *WorkflowStore) Start(name string, steps []string) Workflow {
	w := Workflow{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    "completed",
		Steps:     steps,
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.items[w.ID] = w
	s.mu.Unlock()
	return w
}

// Get returns a workflow run by id.
func (s *WorkflowStore) Get(id string) (Workflow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.items[id]
	return w, ok
}

// documentSummaryLimit bounds document_summarize output.
const documentSummaryLimit = 1200

// registerGated wires the document and workflow tool families. Each
// family is enabled by its capability flag; when the flag is off the
// handlers return the standardized not_enabled error.
func registerGated(reg *registry.Registry, cfg *Config) {
	documentGuard := func(h registry.HandlerFunc) registry.HandlerFunc {
		return func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
			if !cfg.Task.Capabilities.EnableDocumentTools {
				return errorResult(ErrNotEnabled, "document tools are not enabled for this task"), nil
			}
			if cfg.Workspace == nil {
				return errorResult(ErrNotEnabled, "document tools require a workspace"), nil
			}
			return h(ctx, args)
		}
	}
	workflowGuard := func(h registry.HandlerFunc) registry.HandlerFunc {
		return func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
			if !cfg.Task.Capabilities.EnableWorkflowTools {
				return errorResult(ErrNotEnabled, "workflow tools are not enabled for this task"), nil
			}
			return h(ctx, args)
		}
	}

	reg.Register(registry.Schema{
		Name:        "document_extract",
		Description: "Extract the text content of a workspace document.",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
	}, documentGuard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		path, ok := stringArg(args, "path")
		if !ok {
			return errorResult(ErrMissingArgument, "document_extract requires a path"), nil
		}
		content, err := cfg.Workspace.ReadText(ctx, path)
		if err != nil {
			return fileError(path, err), nil
		}
		return registry.HandlerResult{Payload: map[string]any{"path": path, "text": content}}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "document_summarize",
		Description: "Produce a short plain-text excerpt of a workspace document.",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
	}, documentGuard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		path, ok := stringArg(args, "path")
		if !ok {
			return errorResult(ErrMissingArgument, "document_summarize requires a path"), nil
		}
		content, err := cfg.Workspace.ReadText(ctx, path)
		if err != nil {
			return fileError(path, err), nil
		}
		summary := strings.TrimSpace(content)
		truncated := false
		if len(summary) > documentSummaryLimit {
			summary = summary[:documentSummaryLimit]
			truncated = true
		}
		return registry.HandlerResult{Payload: map[string]any{
			"path":      path,
			"summary":   summary,
			"truncated": truncated,
		}}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "workflow_start",
		Description: "Start a named workflow run.",
		Parameters: objectSchema([]string{"name"}, map[string]any{
			"name":  map[string]any{"type": "string"},
			"steps": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}),
	}, workflowGuard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		name, ok := stringArg(args, "name")
		if !ok {
			return errorResult(ErrMissingArgument, "workflow_start requires a name"), nil
		}
		var steps []string
		if raw, ok := args["steps"].([]any); ok {
			for _, s := range raw {
				if str, ok := s.(string); ok {
					steps = append(steps, str)
				}
			}
		}
		w := cfg.Workflows.Start(name, steps)
		return registry.HandlerResult{Payload: map[string]any{"workflow_id": w.ID, "status": w.Status}}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "workflow_status",
		Description: "Look up a workflow run started earlier.",
		Parameters: objectSchema([]string{"workflow_id"}, map[string]any{
			"workflow_id": map[string]any{"type": "string"},
		}),
	}, workflowGuard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		id, ok := stringArg(args, "workflow_id")
		if !ok {
			return errorResult(ErrMissingArgument, "workflow_status requires a workflow_id"), nil
		}
		w, ok := cfg.Workflows.Get(id)
		if !ok {
			return errorResult(ErrWorkflowNotFound, "no workflow with id "+id), nil
		}
		return registry.HandlerResult{Payload: w}, nil
	}))
}
