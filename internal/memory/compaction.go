package memory

import (
	"context"
	"fmt"

	"github.com/AndersonBY/vv-agent/internal/protocol"
)

// Summarizer produces a single synthesized-summary string for a window of
// messages. The caller resolves which chat client/model to use (task
// metadata override -> global default -> current task's model) before
// constructing this closure; Manager itself is agnostic to that choice.
type Summarizer func(ctx context.Context, window []protocol.Message) (string, error)

// Manager runs the compaction pipeline: structural cleanup, then (if
// still over threshold) recency-preserving summarization. Every step
// maintains the assistant/tool pairing invariant.
type Manager struct {
	cfg       Config
	est       Estimator
	artifacts ArtifactStore
}

// NewManager creates a Manager. A nil Estimator defaults to
// CharRatioEstimator; a nil ArtifactStore defaults to NopArtifactStore.
func NewManager(cfg Config, est Estimator, artifacts ArtifactStore) *Manager {
	if est == nil {
		est = CharRatioEstimator{}
	}
	if artifacts == nil {
		artifacts = NopArtifactStore{}
	}
	return &Manager{cfg: sanitize(cfg), est: est, artifacts: artifacts}
}

// ShouldCompact reports whether effective length exceeds the configured
// threshold.
func (m *Manager) ShouldCompact(prevUsage *protocol.TokenUsage, messages []protocol.Message) bool {
	return EffectiveLength(m.est, prevUsage, messages) > m.cfg.Threshold
}

// UsagePercent reports effective length as a percentage of threshold, fed
// to the Tool Planner so it can expose compress_memory once usage crosses
// memory_threshold_percentage.
func (m *Manager) UsagePercent(prevUsage *protocol.TokenUsage, messages []protocol.Message) int {
	if m.cfg.Threshold <= 0 {
		return 0
	}
	eff := EffectiveLength(m.est, prevUsage, messages)
	return eff * 100 / m.cfg.Threshold
}

// Compact runs the full pipeline. summarize is only invoked if structural
// cleanup alone does not bring effective length back under threshold.
func (m *Manager) Compact(ctx context.Context, messages []protocol.Message, summarize Summarizer) ([]protocol.Message, error) {
	if len(messages) == 0 {
		return messages, nil
	}

	cleaned, err := m.structuralCleanup(ctx, messages)
	if err != nil {
		return nil, err
	}

	if EffectiveLength(m.est, nil, cleaned) <= m.cfg.Threshold {
		return cleaned, nil
	}

	return m.summarizeMiddle(ctx, cleaned, summarize)
}

// structuralCleanup implements pipeline step 1: drop orphan
// tool-call stubs/messages, collapse tool-less assistant runs, and
// artifact-ize large old tool results.
func (m *Manager) structuralCleanup(ctx context.Context, messages []protocol.Message) ([]protocol.Message, error) {
	step1 := dropOrphanToolMessages(messages)
	step2 := dropDanglingToolCallStubs(step1)
	step3 := collapseToolLessAssistantRuns(step2, m.cfg.AssistantNoToolKeepLast)
	step4, err := m.artifactizeOldToolResults(ctx, step3)
	if err != nil {
		return nil, err
	}
	return step4, nil
}

// dropOrphanToolMessages removes any tool message whose tool_call_id does
// not match a still-pending call from a preceding assistant message.
func dropOrphanToolMessages(messages []protocol.Message) []protocol.Message {
	pending := make(map[string]struct{})
	out := make([]protocol.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case protocol.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = struct{}{}
			}
			out = append(out, msg)
		case protocol.RoleTool:
			if _, ok := pending[msg.ToolCallID]; !ok {
				continue // orphan: drop
			}
			delete(pending, msg.ToolCallID)
			out = append(out, msg)
		default:
			out = append(out, msg)
		}
	}
	return out
}

// dropDanglingToolCallStubs removes a ToolCall stub from an assistant
// message when no tool message in the list carries the matching
// tool_call_id (its paired result was pruned elsewhere).
func dropDanglingToolCallStubs(messages []protocol.Message) []protocol.Message {
	present := make(map[string]struct{})
	for _, msg := range messages {
		if msg.Role == protocol.RoleTool {
			present[msg.ToolCallID] = struct{}{}
		}
	}

	out := make([]protocol.Message, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if msg.Role != protocol.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		kept := make([]protocol.ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if _, ok := present[tc.ID]; ok {
				kept = append(kept, tc)
			}
		}
		msg.ToolCalls = kept
		out[i] = msg
	}
	return out
}

// collapseToolLessAssistantRuns keeps only the last keepLast messages of
// any maximal run of consecutive tool-less assistant messages.
func collapseToolLessAssistantRuns(messages []protocol.Message, keepLast int) []protocol.Message {
	if keepLast <= 0 {
		keepLast = 1
	}

	out := make([]protocol.Message, 0, len(messages))
	i := 0
	for i < len(messages) {
		if messages[i].Role != protocol.RoleAssistant || len(messages[i].ToolCalls) != 0 {
			out = append(out, messages[i])
			i++
			continue
		}
		j := i
		for j < len(messages) && messages[j].Role == protocol.RoleAssistant && len(messages[j].ToolCalls) == 0 {
			j++
		}
		run := messages[i:j]
		if len(run) > keepLast {
			run = run[len(run)-keepLast:]
		}
		out = append(out, run...)
		i = j
	}
	return out
}

// artifactizeOldToolResults replaces the content of tool messages beyond
// the last ToolResultKeepLast tool messages with a head/tail excerpt plus
// a descriptor, persisting the full payload via the configured
// ArtifactStore.
func (m *Manager) artifactizeOldToolResults(ctx context.Context, messages []protocol.Message) ([]protocol.Message, error) {
	toolIdx := make([]int, 0, len(messages))
	for i, msg := range messages {
		if msg.Role == protocol.RoleTool {
			toolIdx = append(toolIdx, i)
		}
	}
	if len(toolIdx) <= m.cfg.ToolResultKeepLast {
		return messages, nil
	}
	cutoff := len(toolIdx) - m.cfg.ToolResultKeepLast

	out := make([]protocol.Message, len(messages))
	copy(out, messages)
	for k := 0; k < cutoff; k++ {
		i := toolIdx[k]
		msg := out[i]
		if len(msg.Content) <= m.cfg.ToolResultCompactThreshold {
			continue
		}
		descriptor, err := m.artifacts.Store(ctx, msg.ToolCallID, msg.Content)
		if err != nil {
			return nil, fmt.Errorf("artifact-ize tool result %s: %w", msg.ToolCallID, err)
		}
		msg.Content = excerpt(msg.Content, m.cfg.ToolResultExcerptHead, m.cfg.ToolResultExcerptTail) + "\n" + descriptor
		out[i] = msg
	}
	return out, nil
}

func excerpt(content string, head, tail int) string {
	runes := []rune(content)
	if len(runes) <= head+tail {
		return content
	}
	return string(runes[:head]) + "\n...[truncated]...\n" + string(runes[len(runes)-tail:])
}

// summarizeMiddle implements pipeline step 2. The system
// message (index 0) and a group-boundary-safe tail of
// KeepRecentMessages messages are preserved verbatim; everything between
// is replaced by one synthesized assistant-role summary message.
func (m *Manager) summarizeMiddle(ctx context.Context, messages []protocol.Message, summarize Summarizer) ([]protocol.Message, error) {
	if len(messages) < 2 {
		return messages, nil
	}

	recentStart := len(messages) - m.cfg.KeepRecentMessages
	if recentStart < 1 {
		recentStart = 1
	}
	// Never split an assistant-with-tool-calls group across the boundary:
	// walk backward while the boundary message is a tool-role
	// continuation of an earlier assistant's call set.
	for recentStart > 1 && messages[recentStart].Role == protocol.RoleTool {
		recentStart--
	}

	if recentStart <= 1 {
		// Nothing meaningful to summarize; structural cleanup is all we
		// can do.
		return messages, nil
	}

	window := messages[1:recentStart]
	var summaryText string
	if summarize != nil {
		text, err := summarize(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("summarize memory window: %w", err)
		}
		summaryText = text
	} else {
		summaryText = fmt.Sprintf("[%d earlier messages omitted]", len(window))
	}
	if m.cfg.IncludeMemoryWarning {
		summaryText = "Earlier conversation context was compacted to stay within the context window.\n\n" + summaryText
	}

	summaryMsg := protocol.Message{Role: protocol.RoleAssistant, Content: summaryText}

	out := make([]protocol.Message, 0, 2+len(messages)-recentStart)
	out = append(out, messages[0], summaryMsg)
	out = append(out, messages[recentStart:]...)
	return out, nil
}
