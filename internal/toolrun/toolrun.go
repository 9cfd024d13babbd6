// Package toolrun implements the Tool Call Runner: it executes a cycle's
// tool calls in declared order, appends tool-result (and image
// notification) messages, and converges the cycle's terminal directive.
package toolrun

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AndersonBY/vv-agent/internal/dispatch"
	"github.com/AndersonBY/vv-agent/internal/protocol"
)

// imageNoticeFormat is the template for the synthetic user message
// appended after a tool result that carries an image, so the next turn
// can reference it.
const imageNoticeFormat = "A tool result for call %s produced an image: %s"

// Outcome is what one Tool Call Runner invocation produces.
type Outcome struct {
	// Messages is the ordered list of tool (and any image-notification
	// user) messages to append to the task's message list, in the same
	// order as the cycle's tool calls.
	Messages []protocol.Message
	// Outcomes pairs each call with its execution result, preserving
	// declared order, for the CycleRecord.
	Outcomes []protocol.ToolCallOutcome
	// Directive is the converged terminal directive for this cycle
	// (finish dominates wait_user dominates continue).
	Directive protocol.Directive
	// Deferred is true if any result was RUNNING/BATCH_RUNNING: the
	// runtime must not advance past the current directive for that call
	// and should expect a polling tool call on the next cycle.
	Deferred bool
	// CompactionDue is true if any result was PENDING_COMPRESS: memory
	// compaction is scheduled at the start of the next cycle.
	CompactionDue bool
}

// ApprovalPolicy gates tool execution. Approve returns nil to allow the
// call; a non-nil error blocks it and the error message is reported back
// to the LLM with the approval_denied code.
type ApprovalPolicy interface {
	Approve(ctx context.Context, call protocol.ToolCall) error
}

// ErrApprovalDenied is the stable error code for calls an ApprovalPolicy
// rejects.
const ErrApprovalDenied = "approval_denied"

// Runner executes tool calls via a Dispatcher.
type Runner struct {
	dispatcher *dispatch.Dispatcher

	// Approval, when non-nil, is consulted before every dispatch.
	Approval ApprovalPolicy
}

// New creates a Runner bound to d.
func New(d *dispatch.Dispatcher) *Runner {
	return &Runner{dispatcher: d}
}

// dispatch applies the approval gate, then the Dispatcher. A denied call
// never reaches its handler; the denial is reported as a regular tool
// error so the LLM can adjust.
func (r *Runner) dispatch(ctx context.Context, call protocol.ToolCall) protocol.ToolExecutionResult {
	if r.Approval != nil {
		if err := r.Approval.Approve(ctx, call); err != nil {
			payload, _ := json.Marshal(map[string]string{
				"error":      fmt.Sprintf("tool %q was not approved: %v", call.Name, err),
				"error_code": ErrApprovalDenied,
			})
			return protocol.ToolExecutionResult{
				ToolCallID: call.ID,
				Content:    string(payload),
				StatusCode: protocol.StatusError,
				Directive:  protocol.DirectiveContinue,
				ErrorCode:  ErrApprovalDenied,
			}
		}
	}
	return r.dispatcher.Dispatch(ctx, call)
}

// Run executes calls in declared order and converges the cycle's
// directive. ctx is passed through to each dispatch so cooperative
// cancellation can abort between calls: a cancelled ctx stops
// before starting the next call but always lets an in-flight one finish,
// since Dispatch itself does not return early on a cancelled context.
func (r *Runner) Run(ctx context.Context, calls []protocol.ToolCall) Outcome {
	out := Outcome{
		Messages:  make([]protocol.Message, 0, len(calls)),
		Outcomes:  make([]protocol.ToolCallOutcome, 0, len(calls)),
		Directive: protocol.DirectiveContinue,
	}

	for i, call := range calls {
		if i > 0 {
			select {
			case <-ctx.Done():
				return out
			default:
			}
		}

		result := r.dispatch(ctx, call)
		out.Outcomes = append(out.Outcomes, protocol.ToolCallOutcome{Call: call, Result: result})
		out.Messages = append(out.Messages, protocol.Message{
			Role:       protocol.RoleTool,
			Content:    result.Content,
			ToolCallID: result.ToolCallID,
		})

		if result.HasImage() {
			ref := result.ImageURL
			if ref == "" {
				ref = result.ImagePath
			}
			out.Messages = append(out.Messages, protocol.Message{
				Role:    protocol.RoleUser,
				Content: fmt.Sprintf(imageNoticeFormat, result.ToolCallID, ref),
			})
		}

		switch result.StatusCode {
		case protocol.StatusRunning, protocol.StatusBatchRunning:
			out.Deferred = true
			continue
		case protocol.StatusPendingCompress:
			out.CompactionDue = true
		}

		out.Directive = protocol.Dominant(out.Directive, result.Directive)
	}

	return out
}
