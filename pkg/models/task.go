// Package models holds the runtime's externally-visible data types:
// the task a caller submits and the result it gets back.
package models

import (
	"github.com/AndersonBY/vv-agent/internal/planner"
	"github.com/AndersonBY/vv-agent/internal/protocol"
)

// Status is an AgentTask's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusWaitUser  Status = "wait_user"
	StatusFailed    Status = "failed"
	StatusMaxCycles Status = "max_cycles"
)

// SubAgentSpec is a named sub-task template an agent can delegate to via
// create_sub_task/batch_sub_tasks.
type SubAgentSpec struct {
	Model        string
	SystemPrompt string
	MaxCycles    int
	Capabilities planner.Capabilities
}

// Task is one unit of agent work: created by the caller, mutated only
// through the runtime.
type Task struct {
	TaskID     string
	Model      string
	System     string
	UserPrompt string
	Messages   []protocol.Message

	MaxCycles              int
	MemoryCompactThreshold int
	MemoryThresholdPercent int

	Capabilities planner.Capabilities

	SubAgents map[string]SubAgentSpec

	WorkspaceRoot string

	Metadata map[string]any

	Status     Status
	CycleIndex int

	// LastUsage is the most recently reported cycle's token usage, used
	// by the Memory Manager's effective-length heuristic.
	LastUsage protocol.TokenUsage
	// CompactionPending is set when a PENDING_COMPRESS tool result
	// scheduled compaction for the next cycle.
	CompactionPending bool
}

// Result is what a finished (or suspended) task run returns.
type Result struct {
	TaskID      string
	Status      Status
	FinalAnswer string
	Cycles      []protocol.CycleRecord
	Usage       protocol.TokenUsage
	ErrorReason string
}

// FinalAnswerFromCycles extracts the final answer from a task's cycle
// trace: the task_finish call's "answer" argument, or ask_user's
// "question" argument for wait_user. There is deliberately no fallback
// heuristic on raw assistant text.
func FinalAnswerFromCycles(records []protocol.CycleRecord) string {
	for i := len(records) - 1; i >= 0; i-- {
		for _, outcome := range records[i].Outcomes {
			switch outcome.Call.Name {
			case "task_finish":
				if args, err := outcome.Call.DecodeArguments(); err == nil {
					if answer, ok := args["answer"].(string); ok {
						return answer
					}
				}
			case "ask_user":
				if args, err := outcome.Call.DecodeArguments(); err == nil {
					if question, ok := args["question"].(string); ok {
						return question
					}
				}
			}
		}
	}
	return ""
}

// AggregateUsage sums token usage across a cycle trace.
func AggregateUsage(records []protocol.CycleRecord) protocol.TokenUsage {
	var total protocol.TokenUsage
	for _, r := range records {
		total = total.Add(r.Usage)
	}
	return total
}
