// Package exectx implements the Execution Context: the per-task bundle
// of cancellation token, stream sink, state store, and hook manager that
// every agent runtime cycle threads through its subsystems. An explicit
// struct rather than context.Context values, since the collaborators
// (state store, hook manager) are long-lived dependencies rather than
// per-request overrides.
package exectx

import (
	"context"

	"github.com/AndersonBY/vv-agent/internal/cancel"
	"github.com/AndersonBY/vv-agent/internal/cycle"
	"github.com/AndersonBY/vv-agent/internal/hooks"
	"github.com/AndersonBY/vv-agent/internal/statestore"
)

// Context aggregates the collaborators a running task needs at every
// cycle boundary. It is created once per task run and passed by
// reference through the Execution Backend into the Agent Runtime.
type Context struct {
	// Cancel is the root cancellation token for this task run.
	Cancel *cancel.Token
	// Sink receives streamed text fragments, if streaming is enabled.
	// Nil when streaming is off. MUST be non-blocking.
	Sink cycle.StreamSink
	// Store persists checkpoints for this task. Nil disables
	// checkpointing (the runtime still completes the task, but a crash
	// mid-run cannot be resumed).
	Store statestore.Store
	// Hooks dispatches before/after lifecycle events. Never nil -- New
	// defaults to a fresh no-op-safe Manager.
	Hooks *hooks.Manager
}

// Option configures a Context at construction.
type Option func(*Context)

// WithCancelToken overrides the root cancellation token (default: a new
// uncancelled root token).
func WithCancelToken(token *cancel.Token) Option {
	return func(c *Context) { c.Cancel = token }
}

// WithStreamSink sets the text-fragment sink used during streaming
// cycles.
func WithStreamSink(sink cycle.StreamSink) Option {
	return func(c *Context) { c.Sink = sink }
}

// WithStateStore sets the checkpoint store.
func WithStateStore(store statestore.Store) Option {
	return func(c *Context) { c.Store = store }
}

// WithHooks overrides the hook manager.
func WithHooks(mgr *hooks.Manager) Option {
	return func(c *Context) { c.Hooks = mgr }
}

// New builds a Context, applying opts over the defaults: a root
// cancellation token derived from context.Background, no stream sink, no
// state store (checkpointing disabled), and a fresh hook manager.
func New(opts ...Option) *Context {
	c := &Context{
		Hooks: hooks.NewManager(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Cancel == nil {
		c.Cancel = cancel.New(context.Background())
	}
	return c
}

// Child derives a new Context for a sub-agent delegation:
// the cancellation token is a child of the parent's (so cancelling the
// parent cancels every in-flight sub-task), while the sink, store, and
// hooks are shared by default unless overridden.
func (c *Context) Child(opts ...Option) *Context {
	child := &Context{
		Cancel: c.Cancel.Child(),
		Sink:   c.Sink,
		Store:  c.Store,
		Hooks:  c.Hooks,
	}
	for _, opt := range opts {
		opt(child)
	}
	return child
}
