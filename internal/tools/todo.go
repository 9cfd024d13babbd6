package tools

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/AndersonBY/vv-agent/internal/registry"
)

// TodoStatus is one todo item's state.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one tracked work item.
type Todo struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Status   TodoStatus `json:"status"`
	Priority string     `json:"priority,omitempty"`
}

// TodoStore holds a task's todo list. todo_write replaces the full list
// on every call. Safe for
// concurrent use since sub-agent handlers may read it while the parent's
// runner writes.
type TodoStore struct {
	mu    sync.RWMutex
	items []Todo
}

// NewTodoStore creates an empty store.
func NewTodoStore() *TodoStore {
	return &TodoStore{}
}

// Replace swaps the entire list.
func (s *TodoStore) Replace(items []Todo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]Todo(nil), items...)
}

// List returns a copy of the current list.
func (s *TodoStore) List() []Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Todo(nil), s.items...)
}

// Incomplete returns the items not yet completed.
func (s *TodoStore) Incomplete() []Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Todo
	for _, t := range s.items {
		if t.Status != TodoCompleted {
			out = append(out, t)
		}
	}
	return out
}

func registerTodo(reg *registry.Registry, cfg *Config) {
	reg.Register(registry.Schema{
		Name:        "todo_write",
		Description: "Replace the full todo list. At most one item may be in_progress.",
		Parameters: objectSchema([]string{"todos"}, map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": objectSchema([]string{"title", "status"}, map[string]any{
					"id":       map[string]any{"type": "string"},
					"title":    map[string]any{"type": "string"},
					"status":   map[string]any{"type": "string", "enum": []any{"pending", "in_progress", "completed"}},
					"priority": map[string]any{"type": "string"},
				}),
			},
		}),
	}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		rawItems, ok := args["todos"].([]any)
		if !ok {
			return errorResult(ErrMissingArgument, "todo_write requires a todos array"), nil
		}

		items := make([]Todo, 0, len(rawItems))
		inProgress := 0
		for _, raw := range rawItems {
			entry, ok := raw.(map[string]any)
			if !ok {
				return errorResult(ErrMissingArgument, "each todo must be an object"), nil
			}
			item := Todo{
				ID:       optionalString(entry, "id"),
				Title:    optionalString(entry, "title"),
				Status:   TodoStatus(optionalString(entry, "status")),
				Priority: optionalString(entry, "priority"),
			}
			if item.Title == "" {
				return errorResult(ErrMissingArgument, "each todo needs a title"), nil
			}
			switch item.Status {
			case TodoPending, TodoInProgress, TodoCompleted:
			default:
				return errorResult(ErrMissingArgument, "todo status must be pending, in_progress, or completed"), nil
			}
			if item.Status == TodoInProgress {
				inProgress++
			}
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			items = append(items, item)
		}

		if inProgress > 1 {
			return errorResult(ErrTodoMultipleInProgress, "at most one todo may be in_progress"), nil
		}

		cfg.Todos.Replace(items)
		return registry.HandlerResult{Payload: map[string]any{"todos": items, "count": len(items)}}, nil
	}))
}
