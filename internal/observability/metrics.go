// Package observability exposes Prometheus metrics for the cycle
// runtime, wired in through the Hook Manager so the runtime itself stays
// metrics-agnostic. Collectors cover cycles, tool calls, token usage,
// compactions, and task outcomes.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AndersonBY/vv-agent/internal/hooks"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/toolrun"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

// Metrics holds the runtime's Prometheus collectors.
type Metrics struct {
	// CycleCounter counts completed LLM cycles.
	// Labels: model
	CycleCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ToolCallCounter counts tool executions.
	// Labels: tool_name, status
	ToolCallCounter *prometheus.CounterVec

	// CompactionCounter counts memory compactions.
	CompactionCounter prometheus.Counter

	// TaskCounter counts finished tasks.
	// Labels: status (completed|wait_user|failed|max_cycles)
	TaskCounter *prometheus.CounterVec
}

// NewMetrics registers the runtime's collectors on reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		CycleCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_cycles_total",
			Help: "Completed LLM cycles.",
		}, []string{"model"}),
		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tokens_total",
			Help: "Tokens consumed by LLM cycles.",
		}, []string{"model", "type"}),
		ToolCallCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tool_calls_total",
			Help: "Tool executions by name and status code.",
		}, []string{"tool_name", "status"}),
		CompactionCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_memory_compactions_total",
			Help: "Memory compaction runs.",
		}),
		TaskCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tasks_total",
			Help: "Tasks reaching a terminal state, by status.",
		}, []string{"status"}),
	}
}

// ObserveCycle records one completed cycle's usage.
func (m *Metrics) ObserveCycle(model string, usage protocol.TokenUsage) {
	m.CycleCounter.WithLabelValues(model).Inc()
	m.TokensUsed.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	m.TokensUsed.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
}

// ObserveToolCalls records a cycle's tool outcomes.
func (m *Metrics) ObserveToolCalls(outcomes []protocol.ToolCallOutcome) {
	for _, o := range outcomes {
		m.ToolCallCounter.WithLabelValues(o.Call.Name, string(o.Result.StatusCode)).Inc()
	}
}

// ObserveTask records a task's terminal status.
func (m *Metrics) ObserveTask(status models.Status) {
	m.TaskCounter.WithLabelValues(string(status)).Inc()
}

// ObserveResult records a finished task's terminal status and per-cycle
// token usage. Tool outcomes are counted live by the hooks RegisterHooks
// installs, so they are deliberately not re-counted here.
func (m *Metrics) ObserveResult(model string, result *models.Result) {
	if result == nil {
		return
	}
	m.ObserveTask(result.Status)
	for _, rec := range result.Cycles {
		m.ObserveCycle(model, rec.Usage)
	}
}

// RegisterHooks attaches the collectors that can be observed mid-run to
// the runtime's lifecycle events; per-cycle usage needs the model label
// and is recorded from the result trace via ObserveResult instead.
func (m *Metrics) RegisterHooks(mgr *hooks.Manager) {
	mgr.Register(hooks.AfterToolCall, hooks.PriorityLow, func(ctx context.Context, payload any) error {
		if out, ok := payload.(toolrun.Outcome); ok {
			m.ObserveToolCalls(out.Outcomes)
		}
		return nil
	})
	mgr.Register(hooks.AfterMemoryCompact, hooks.PriorityLow, func(ctx context.Context, payload any) error {
		m.CompactionCounter.Inc()
		return nil
	})
}
