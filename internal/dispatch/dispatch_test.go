package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
)

func echoHandler() registry.Handler {
	return registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		return registry.HandlerResult{Payload: args}, nil
	})
}

func dispatchCall(t *testing.T, reg *registry.Registry, name, args string) protocol.ToolExecutionResult {
	t.Helper()
	return New(reg).Dispatch(context.Background(), protocol.ToolCall{ID: "id-1", Name: name, Arguments: []byte(args)})
}

func TestDispatchFillsToolCallID(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Schema{Name: "echo"}, echoHandler())

	res := dispatchCall(t, reg, "echo", `{"k":"v"}`)
	if res.ToolCallID != "id-1" {
		t.Fatalf("tool_call_id = %q, want id-1", res.ToolCallID)
	}
	if res.StatusCode != protocol.StatusSuccess {
		t.Fatalf("status = %s", res.StatusCode)
	}
	if !strings.Contains(res.Content, `"k":"v"`) {
		t.Fatalf("content = %s", res.Content)
	}
}

func TestDispatchInvalidJSONSkipsHandler(t *testing.T) {
	invoked := false
	reg := registry.New()
	reg.Register(registry.Schema{Name: "echo"}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		invoked = true
		return registry.HandlerResult{}, nil
	}))

	res := dispatchCall(t, reg, "echo", `{not json`)
	if res.ErrorCode != ErrInvalidArgumentsJSON {
		t.Fatalf("error_code = %q, want %q", res.ErrorCode, ErrInvalidArgumentsJSON)
	}
	if invoked {
		t.Fatal("handler must not run on a JSON decode failure")
	}
}

func TestDispatchNonObjectArguments(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Schema{Name: "echo"}, echoHandler())

	res := dispatchCall(t, reg, "echo", `[1,2,3]`)
	if res.ErrorCode != ErrInvalidArgumentsPayload {
		t.Fatalf("error_code = %q, want %q", res.ErrorCode, ErrInvalidArgumentsPayload)
	}
}

func TestDispatchStringWrappedArguments(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Schema{Name: "echo"}, echoHandler())

	res := dispatchCall(t, reg, "echo", `"{\"k\":\"v\"}"`)
	if res.StatusCode != protocol.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.StatusCode, res.Content)
	}
	if !strings.Contains(res.Content, `"k":"v"`) {
		t.Fatalf("content = %s", res.Content)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	res := dispatchCall(t, registry.New(), "nope", `{}`)
	if res.ErrorCode != ErrToolNotFound {
		t.Fatalf("error_code = %q, want %q", res.ErrorCode, ErrToolNotFound)
	}
}

func TestDispatchSchemaValidation(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Schema{
		Name: "typed",
		Parameters: map[string]any{
			"type":       "object",
			"required":   []any{"count"},
			"properties": map[string]any{"count": map[string]any{"type": "integer"}},
		},
	}, echoHandler())

	if res := dispatchCall(t, reg, "typed", `{"count":"three"}`); res.ErrorCode != ErrInvalidArgumentsType {
		t.Fatalf("error_code = %q, want %q", res.ErrorCode, ErrInvalidArgumentsType)
	}
	if res := dispatchCall(t, reg, "typed", `{"count":3}`); res.StatusCode != protocol.StatusSuccess {
		t.Fatalf("valid args rejected: %s (%s)", res.StatusCode, res.Content)
	}
}

func TestDispatchHandlerErrorAndPanic(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Schema{Name: "fails"}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		return registry.HandlerResult{}, errors.New("boom")
	}))
	reg.Register(registry.Schema{Name: "panics"}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		panic("unexpected")
	}))

	res := dispatchCall(t, reg, "fails", `{}`)
	if res.ErrorCode != ErrToolExecutionFailed || !strings.Contains(res.Content, "boom") {
		t.Fatalf("result = %+v", res)
	}

	res = dispatchCall(t, reg, "panics", `{}`)
	if res.ErrorCode != ErrToolExecutionFailed || !strings.Contains(res.Content, "unexpected") {
		t.Fatalf("result = %+v", res)
	}
}

func TestDispatchDefaultsStatusAndDirective(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Schema{Name: "bare"}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		return registry.HandlerResult{Payload: "ok"}, nil
	}))

	res := dispatchCall(t, reg, "bare", `{}`)
	if res.StatusCode != protocol.StatusSuccess || res.Directive != protocol.DirectiveContinue {
		t.Fatalf("defaults not applied: %+v", res)
	}
}
