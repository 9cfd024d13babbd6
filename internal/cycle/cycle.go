// Package cycle implements the Cycle Runner: one LLM turn that composes
// the working message list, selects visible tools via the Tool Planner,
// invokes the chat client (streaming or not), and produces a CycleRecord
// skeleton, accumulating streaming deltas (text plus tool-call fragments
// matched by provider index) when Options.Stream is set.
package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AndersonBY/vv-agent/internal/planner"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/provider"
	"github.com/AndersonBY/vv-agent/internal/registry"
)

// continueHint is injected as a synthetic user message when a cycle
// produces neither tool calls nor terminal intent, so the loop never
// silently stalls.
const continueHint = "Continue working toward the goal, or call task_finish/ask_user if you are done."

// StreamSink receives text fragments as they arrive from a streaming chat
// client call. Implementations MUST be non-blocking.
type StreamSink func(text string)

// Runner executes one cycle at a time against a chat client.
type Runner struct {
	client   provider.ChatClient
	registry *registry.Registry
}

// New creates a Runner bound to client and reg.
func New(client provider.ChatClient, reg *registry.Registry) *Runner {
	return &Runner{client: client, registry: reg}
}

// Outcome is everything one cycle invocation produces before tool
// execution happens (the Tool Call Runner consumes Assistant.ToolCalls).
type Outcome struct {
	Assistant protocol.Message
	ToolCalls []protocol.ToolCall
	Usage     protocol.TokenUsage

	// ContinueHint is non-nil when the turn produced neither tool calls
	// nor terminal intent; the caller appends it to the task's message
	// list immediately after Assistant so the loop never silently
	// stalls.
	ContinueHint *protocol.Message
}

// Options configures a single Run call.
type Options struct {
	Model       string
	System      string
	Stream      bool
	StreamSink  StreamSink
	ChatOptions map[string]any
}

// Run executes one turn: compose tools via the planner, invoke the chat
// client, and aggregate the result into an Outcome. messages is the
// caller's full working message list (including any hook-injected
// context); Run does not mutate it.
func (r *Runner) Run(ctx context.Context, messages []protocol.Message, caps planner.Capabilities, memoryUsagePercent, memoryThresholdPercent int, opts Options) (Outcome, error) {
	tools := planner.Plan(r.registry, caps, memoryUsagePercent, memoryThresholdPercent)

	req := provider.Request{
		Model:    opts.Model,
		System:   opts.System,
		Messages: messages,
		Tools:    tools,
		Options:  opts.ChatOptions,
		Stream:   opts.Stream,
	}

	var out Outcome
	var err error
	if opts.Stream {
		out, err = r.runStreaming(ctx, req, opts.StreamSink)
	} else {
		out, err = r.runOnce(ctx, req)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("cycle runner: %w", err)
	}

	// A cycle with no tool calls has, by construction, no terminal intent
	// either: task_finish/ask_user only ever surface as tool calls.
	if len(out.ToolCalls) == 0 {
		hint := protocol.Message{Role: protocol.RoleUser, Content: continueHint}
		out.ContinueHint = &hint
	}

	return out, nil
}

func (r *Runner) runOnce(ctx context.Context, req provider.Request) (Outcome, error) {
	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	assistant := protocol.Message{
		Role:      protocol.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	}
	return Outcome{Assistant: assistant, ToolCalls: resp.ToolCalls, Usage: resp.Usage}, nil
}

// pendingCall accumulates a single tool call's fragments across a stream.
type pendingCall struct {
	id   string
	name string
	args []byte
}

func (r *Runner) runStreaming(ctx context.Context, req provider.Request, sink StreamSink) (Outcome, error) {
	deltas, err := r.client.Stream(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	var textBuf []byte
	calls := make(map[int]*pendingCall)
	order := make([]int, 0, 4)
	var usage protocol.TokenUsage

	for d := range deltas {
		if d.Err != nil {
			return Outcome{}, d.Err
		}
		if d.Text != "" {
			textBuf = append(textBuf, d.Text...)
			if sink != nil {
				sink(d.Text)
			}
		}
		if d.ToolCallDelta != nil {
			td := d.ToolCallDelta
			pc, ok := calls[td.Index]
			if !ok {
				pc = &pendingCall{}
				calls[td.Index] = pc
				order = append(order, td.Index)
			}
			if td.ID != "" {
				pc.id = td.ID
			}
			if td.Name != "" {
				pc.name = td.Name
			}
			pc.args = append(pc.args, td.ArgumentFragment...)
		}
		if d.Done {
			usage = d.Usage
		}
	}

	sort.Ints(order)
	toolCalls := make([]protocol.ToolCall, 0, len(order))
	for _, idx := range order {
		pc := calls[idx]
		args := pc.args
		if len(args) == 0 {
			args = []byte("{}")
		}
		if !json.Valid(args) {
			// Defensive: a provider that streamed a malformed fragment
			// set still produces a ToolCall; DecodeArguments surfaces the
			// parse failure to the dispatcher as invalid_arguments_json.
			args = []byte(fmt.Sprintf("%q", string(args)))
		}
		toolCalls = append(toolCalls, protocol.ToolCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: json.RawMessage(args),
		})
	}

	assistant := protocol.Message{
		Role:      protocol.RoleAssistant,
		Content:   string(textBuf),
		ToolCalls: toolCalls,
	}
	return Outcome{Assistant: assistant, ToolCalls: toolCalls, Usage: usage}, nil
}
