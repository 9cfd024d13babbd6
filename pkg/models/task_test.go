package models

import (
	"testing"

	"github.com/AndersonBY/vv-agent/internal/protocol"
)

func record(name, args string) protocol.CycleRecord {
	return protocol.CycleRecord{
		Outcomes: []protocol.ToolCallOutcome{{
			Call: protocol.ToolCall{ID: "c1", Name: name, Arguments: []byte(args)},
		}},
	}
}

func TestFinalAnswerFromTaskFinish(t *testing.T) {
	records := []protocol.CycleRecord{
		record("todo_write", `{"todos":[]}`),
		record("task_finish", `{"answer":"forty-two"}`),
	}
	if got := FinalAnswerFromCycles(records); got != "forty-two" {
		t.Fatalf("final answer = %q", got)
	}
}

func TestFinalAnswerFromAskUser(t *testing.T) {
	records := []protocol.CycleRecord{record("ask_user", `{"question":"which one?"}`)}
	if got := FinalAnswerFromCycles(records); got != "which one?" {
		t.Fatalf("final answer = %q", got)
	}
}

func TestFinalAnswerNeverFallsBackToAssistantText(t *testing.T) {
	records := []protocol.CycleRecord{{
		Assistant: protocol.Message{Role: protocol.RoleAssistant, Content: "the answer is 7"},
	}}
	if got := FinalAnswerFromCycles(records); got != "" {
		t.Fatalf("final answer = %q, want empty (no heuristic extraction)", got)
	}
}

func TestAggregateUsage(t *testing.T) {
	records := []protocol.CycleRecord{
		{Usage: protocol.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}},
		{Usage: protocol.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}},
	}
	got := AggregateUsage(records)
	if got.PromptTokens != 11 || got.CompletionTokens != 22 || got.TotalTokens != 33 {
		t.Fatalf("usage = %+v", got)
	}
}
