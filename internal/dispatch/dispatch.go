// Package dispatch implements the Tool Dispatcher: argument parsing,
// schema validation, handler invocation, and normalization of both into
// the protocol.ToolExecutionResult shape.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
)

// Error codes for protocol-level dispatch failures.
const (
	ErrInvalidArgumentsJSON    = "invalid_arguments_json"
	ErrInvalidArgumentsPayload = "invalid_arguments_payload"
	ErrInvalidArgumentsType    = "invalid_arguments_type"
	ErrToolNotFound            = "tool_not_found"
	ErrToolExecutionFailed     = "tool_execution_failed"
)

// Dispatcher executes tool calls against a Registry.
type Dispatcher struct {
	registry *registry.Registry
}

// New creates a Dispatcher bound to reg.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// Dispatch runs the full dispatch sequence for a single tool call and
// always returns a ToolExecutionResult whose ToolCallID equals call.ID
// -- it never returns a non-nil error itself;
// all failure modes are represented in the returned result so the caller
// (Tool Call Runner) can append it as a tool message unconditionally.
func (d *Dispatcher) Dispatch(ctx context.Context, call protocol.ToolCall) protocol.ToolExecutionResult {
	base := protocol.ToolExecutionResult{
		ToolCallID: call.ID,
		StatusCode: protocol.StatusError,
		Directive:  protocol.DirectiveContinue,
	}

	args, err := call.DecodeArguments()
	if err != nil {
		if err == protocol.ErrNotAMapping {
			return withError(base, ErrInvalidArgumentsPayload,
				fmt.Sprintf("arguments for %q must be a JSON object", call.Name))
		}
		return withError(base, ErrInvalidArgumentsJSON,
			fmt.Sprintf("failed to decode arguments for %q: %v", call.Name, err))
	}

	handler, schema, ok := d.registry.Get(call.Name)
	if !ok {
		return withError(base, ErrToolNotFound, "tool not found: "+call.Name)
	}

	if schema != nil {
		if err := schema.Validate(toAny(args)); err != nil {
			return withError(base, ErrInvalidArgumentsType,
				fmt.Sprintf("arguments for %q failed schema validation: %v", call.Name, err))
		}
	}

	result, execErr := safeExecute(ctx, handler, args)
	if execErr != nil {
		return withError(base, ErrToolExecutionFailed, execErr.Error())
	}

	return normalize(call.ID, result)
}

// safeExecute invokes the handler, converting a panic into a regular
// error so one misbehaving tool can never take down the cycle loop.
func safeExecute(ctx context.Context, h registry.Handler, args map[string]any) (res registry.HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()
	return h.Execute(ctx, args)
}

func normalize(toolCallID string, res registry.HandlerResult) protocol.ToolExecutionResult {
	status := res.StatusCode
	if status == "" {
		status = protocol.StatusSuccess
	}
	directive := res.Directive
	if directive == "" {
		directive = protocol.DirectiveContinue
	}

	content, err := json.Marshal(res.Payload)
	if err != nil {
		return protocol.ToolExecutionResult{
			ToolCallID: toolCallID,
			StatusCode: protocol.StatusError,
			Directive:  protocol.DirectiveContinue,
			ErrorCode:  ErrToolExecutionFailed,
			Content:    fmt.Sprintf(`{"error":"failed to encode tool result: %s"}`, err.Error()),
		}
	}

	return protocol.ToolExecutionResult{
		ToolCallID: toolCallID,
		Content:    string(content),
		StatusCode: status,
		Directive:  directive,
		ErrorCode:  res.ErrorCode,
		ImageURL:   res.ImageURL,
		ImagePath:  res.ImagePath,
	}
}

func withError(base protocol.ToolExecutionResult, code, message string) protocol.ToolExecutionResult {
	base.ErrorCode = code
	payload, _ := json.Marshal(map[string]string{"error": message, "error_code": code})
	base.Content = string(payload)
	return base
}

func toAny(m map[string]any) any { return m }
