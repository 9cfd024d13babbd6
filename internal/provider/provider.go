// Package provider defines the Chat client contract the Cycle Runner
// consumes: given messages, model, and tool schemas, produce an
// assistant message, tool calls, and token usage -- or a stream of deltas.
package provider

import (
	"context"

	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
)

// Request bundles everything the Cycle Runner sends to a ChatClient for
// one turn.
type Request struct {
	Model    string
	System   string
	Messages []protocol.Message
	Tools    []registry.Schema
	Options  map[string]any // opaque passthrough (temperature, reasoning effort, ...)
	Stream   bool
}

// Delta is one increment of a streaming response. Exactly one of Text,
// ToolCallDelta, or Done/Usage is meaningful per delta.
type Delta struct {
	Text string

	// ToolCallDelta carries a tool-call fragment. Index identifies which
	// call within the turn this fragment belongs to when the provider
	// does not repeat the call's ID on every fragment.
	ToolCallDelta *ToolCallDelta

	Done  bool
	Usage protocol.TokenUsage
	Err   error
}

// ToolCallDelta is a partial tool-call update within a streaming response.
type ToolCallDelta struct {
	Index            int
	ID               string // set on the first fragment for this call
	Name             string // set on the first fragment for this call
	ArgumentFragment string // appended in arrival order
}

// Response is the non-streaming result of one completion.
type Response struct {
	Text      string
	ToolCalls []protocol.ToolCall
	Usage     protocol.TokenUsage
}

// ChatClient is the external collaborator injected into the Cycle Runner.
// Implementations must be safe for concurrent use.
type ChatClient interface {
	Name() string
	// Complete performs a single non-streaming completion.
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream performs a streaming completion, returning a channel of
	// deltas closed when the stream ends (Done or Err delta is always the
	// last sent before close).
	Stream(ctx context.Context, req Request) (<-chan Delta, error)
}
