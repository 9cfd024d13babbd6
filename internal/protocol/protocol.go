// Package protocol defines the wire-level value types shared by every layer
// of the cycle runtime: messages, tool calls, tool execution results, and
// the status/directive vocabulary that ties dispatcher output to runtime
// state transitions.
package protocol

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ImageRef is a structured reference to an image attached to a message,
// either inline (URL) or persisted on the workspace (path).
type ImageRef struct {
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// Message is one entry in a task's conversation. Assistant messages with
// ToolCalls MUST be immediately followed (ignoring intervening
// assistant/user messages) by one tool message per call, in declared
// order -- this invariant is enforced by every transformation, including
// memory compaction.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Images     []ImageRef `json:"images,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ToolCall is an LLM request to invoke a registered tool.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments holds the raw JSON the LLM produced -- a JSON object or
	// a JSON-encoded string of one. Use DecodeArguments to normalize
	// either shape into a map.
	Arguments json.RawMessage `json:"arguments"`
}

// StatusCode is the handler-declared outcome of a single tool execution.
type StatusCode string

const (
	StatusSuccess         StatusCode = "SUCCESS"
	StatusError           StatusCode = "ERROR"
	StatusWaitResponse    StatusCode = "WAIT_RESPONSE"
	StatusRunning         StatusCode = "RUNNING"
	StatusBatchRunning    StatusCode = "BATCH_RUNNING"
	StatusPendingCompress StatusCode = "PENDING_COMPRESS"
)

// Directive is the per-cycle terminal signal derived from tool results.
type Directive string

const (
	DirectiveContinue Directive = "continue"
	DirectiveWaitUser Directive = "wait_user"
	DirectiveFinish   Directive = "finish"
)

// rank orders directives for convergence: finish dominates wait_user
// dominates continue.
var rank = map[Directive]int{
	DirectiveContinue: 0,
	DirectiveWaitUser: 1,
	DirectiveFinish:   2,
}

// Dominant returns whichever of a, b ranks higher under the
// finish > wait_user > continue ordering. Ties keep a.
func Dominant(a, b Directive) Directive {
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ToolExecutionResult is what the dispatcher produces for one tool call.
// Content is a JSON-encoded string: the payload the LLM sees verbatim as
// tool-message content.
type ToolExecutionResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Content    string         `json:"content"`
	StatusCode StatusCode     `json:"status_code"`
	Directive  Directive      `json:"directive"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ImageURL   string         `json:"image_url,omitempty"`
	ImagePath  string         `json:"image_path,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// HasImage reports whether the result carries an image the next turn
// should be notified about.
func (r ToolExecutionResult) HasImage() bool {
	return r.ImageURL != "" || r.ImagePath != ""
}

// TokenUsage captures per-cycle or aggregate token accounting.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into a running total and returns the sum.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// ToolCallOutcome pairs a call with its execution result, preserving
// declared order within a CycleRecord.
type ToolCallOutcome struct {
	Call   ToolCall            `json:"call"`
	Result ToolExecutionResult `json:"result"`
}

// CycleRecord is an immutable summary of one completed cycle.
type CycleRecord struct {
	Index      int               `json:"index"`
	Assistant  Message           `json:"assistant"`
	Outcomes   []ToolCallOutcome `json:"outcomes"`
	Directive  Directive         `json:"directive"`
	Usage      TokenUsage        `json:"usage"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// ErrNotAMapping is returned by DecodeArguments when the arguments decode
// to valid JSON that is not an object (e.g. an array or scalar).
var ErrNotAMapping = jsonNotMappingError{}

type jsonNotMappingError struct{}

func (jsonNotMappingError) Error() string { return "tool call arguments are not a JSON object" }

// DecodeArguments normalizes a tool call's raw arguments -- which may
// arrive as a JSON object or as a JSON-encoded string of one -- into a
// map[string]any. A malformed JSON payload returns the raw json error
// (dispatcher maps this to invalid_arguments_json); a well-formed but
// non-object payload returns ErrNotAMapping (dispatcher maps this to
// invalid_arguments_payload).
func (c ToolCall) DecodeArguments() (map[string]any, error) {
	raw := c.Arguments
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	// If the payload is itself a JSON string, unwrap one level.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		raw = json.RawMessage(asString)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	m, ok := generic.(map[string]any)
	if !ok {
		return nil, ErrNotAMapping
	}
	return m, nil
}
