// Package hooks implements the Hook Manager: ordered, named dispatch of
// before/after lifecycle events (llm, tool_call, memory_compact).
// Handlers are priority-ordered per event and safe for concurrent
// registration and dispatch.
package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Event names dispatched by the Agent Runtime.
const (
	BeforeLLM           = "before_llm"
	AfterLLM            = "after_llm"
	BeforeToolCall      = "before_tool_call"
	AfterToolCall       = "after_tool_call"
	BeforeMemoryCompact = "before_memory_compact"
	AfterMemoryCompact  = "after_memory_compact"
)

// Priority controls dispatch order within one event; lower runs first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 100
	PriorityLow    Priority = 200
)

// Handler observes (and for certain phases may mutate, via the Payload's
// own mutable fields) one lifecycle event. Handlers run sequentially and
// in registration/priority order; a handler that returns an error aborts
// dispatch of remaining handlers for that event and is surfaced to the
// caller.
type Handler func(ctx context.Context, payload any) error

type registration struct {
	id       int
	priority Priority
	handler  Handler
}

// Manager dispatches named events to registered handlers. Safe for
// concurrent invocation across tasks.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	nextID   int
	logger   *slog.Logger
}

// NewManager creates an empty Manager. A nil logger defaults to
// slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handlers: make(map[string][]registration),
		logger:   logger.With("component", "hooks"),
	}
}

// Register adds handler for event at the given priority and returns a
// registration id usable with Unregister.
func (m *Manager) Register(event string, priority Priority, handler Handler) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.handlers[event] = append(m.handlers[event], registration{id: id, priority: priority, handler: handler})
	sort.SliceStable(m.handlers[event], func(i, j int) bool {
		return m.handlers[event][i].priority < m.handlers[event][j].priority
	})
	return id
}

// Unregister removes a handler previously returned by Register.
func (m *Manager) Unregister(event string, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	regs := m.handlers[event]
	for i, r := range regs {
		if r.id == id {
			m.handlers[event] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Dispatch runs every handler registered for event, in order, passing
// payload to each. It stops at the first handler error and returns it.
func (m *Manager) Dispatch(ctx context.Context, event string, payload any) error {
	m.mu.RLock()
	regs := make([]registration, len(m.handlers[event]))
	copy(regs, m.handlers[event])
	m.mu.RUnlock()

	for _, r := range regs {
		if err := r.handler(ctx, payload); err != nil {
			m.logger.Warn("hook handler failed", "event", event, "error", err)
			return err
		}
	}
	return nil
}
