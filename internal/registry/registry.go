// Package registry implements the Tool Registry: thread-safe registration
// of tool handlers plus their JSON-schema argument descriptors, and schema
// listing for the planner/LLM.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AndersonBY/vv-agent/internal/protocol"
)

// HandlerResult is the structured value a Handler returns. The dispatcher
// serializes Payload to JSON for the tool message's Content field.
type HandlerResult struct {
	Payload    any
	StatusCode protocol.StatusCode // default SUCCESS if zero value
	Directive  protocol.Directive  // default continue if zero value
	ErrorCode  string
	ImageURL   string
	ImagePath  string
}

// Handler executes a single tool call against normalized arguments.
// Implementations should return an error only for truly unexpected
// failures; expected domain failures should be reported via
// HandlerResult{StatusCode: protocol.StatusError, ErrorCode: "..."}.
type Handler interface {
	Execute(ctx context.Context, args map[string]any) (HandlerResult, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any) (HandlerResult, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, args map[string]any) (HandlerResult, error) {
	return f(ctx, args)
}

// Schema describes one registered tool for LLM consumption.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type entry struct {
	schema   Schema
	handler  Handler
	compiled *jsonschema.Schema
}

// Registry maps tool name to (schema, handler). Safe for concurrent
// use; read-only after construction is the expected steady state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds or replaces a tool. If schema.Parameters is a valid JSON
// Schema object, it is compiled eagerly so dispatch-time validation never
// pays a compilation cost; a schema that fails to compile is still
// registered; dispatch then skips schema validation for that tool.
func (r *Registry) Register(schema Schema, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{schema: schema, handler: handler}
	if compiled, err := compileSchema(schema.Name, schema.Parameters); err == nil {
		e.compiled = compiled
	}
	r.entries[schema.Name] = e
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns the handler and compiled schema (if any) for a tool name.
func (r *Registry) Get(name string) (Handler, *jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, nil, false
	}
	return e.handler, e.compiled, true
}

// ListSchemas returns the full schema list, in registration order is not
// guaranteed (map iteration); callers needing a stable order should sort
// by Name.
func (r *Registry) ListSchemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.schema)
	}
	return out
}

// Names returns the set of registered tool names.
func (r *Registry) Names() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.entries))
	for name := range r.entries {
		out[name] = struct{}{}
	}
	return out
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no schema for %s", name)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString(name+".schema.json", string(raw))
}
