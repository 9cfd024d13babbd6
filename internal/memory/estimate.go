// Package memory implements context-window management: effective-length
// estimation, structural pruning, and recency-preserving summarization.
package memory

import (
	"unicode/utf8"

	"github.com/AndersonBY/vv-agent/internal/protocol"
)

// tokensPerChar is a conservative chars-to-tokens ratio.
const tokensPerChar = 0.25

// Estimator measures the "effective length" of content for compaction
// threshold decisions. It is pluggable open question that
// the char/token heuristic should not be hard-wired.
type Estimator interface {
	EstimateText(s string) int
	EstimateMessage(m protocol.Message) int
}

// CharRatioEstimator is the default Estimator: ~0.25 tokens per rune.
type CharRatioEstimator struct{}

// EstimateText implements Estimator.
func (CharRatioEstimator) EstimateText(s string) int {
	chars := utf8.RuneCountInString(s)
	tokens := int(float64(chars) * tokensPerChar)
	if tokens == 0 && chars > 0 {
		return 1
	}
	return tokens
}

// EstimateMessage implements Estimator, including a small per-message
// overhead for role/formatting (+4 tokens/message).
func (e CharRatioEstimator) EstimateMessage(m protocol.Message) int {
	total := e.EstimateText(m.Content) + 4
	for _, tc := range m.ToolCalls {
		total += e.EstimateText(string(tc.Arguments)) + 4
	}
	return total
}

// SerializedLength sums EstimateMessage across messages.
func SerializedLength(est Estimator, messages []protocol.Message) int {
	total := 0
	for _, m := range messages {
		total += est.EstimateMessage(m)
	}
	return total
}

// EffectiveLength measures how full the context window is: if a
// previous cycle reports total token usage, prevTotal +
// serialized-length of the recent tool messages; otherwise
// serialized-length of messages excluding the first two (system + initial user message).
func EffectiveLength(est Estimator, prevUsage *protocol.TokenUsage, messages []protocol.Message) int {
	if prevUsage != nil && prevUsage.TotalTokens > 0 {
		recent := recentToolMessages(messages)
		return prevUsage.TotalTokens + SerializedLength(est, recent)
	}
	if len(messages) <= 2 {
		return 0
	}
	return SerializedLength(est, messages[2:])
}

func recentToolMessages(messages []protocol.Message) []protocol.Message {
	var out []protocol.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != protocol.RoleTool {
			if len(out) > 0 {
				break
			}
			continue
		}
		out = append([]protocol.Message{messages[i]}, out...)
	}
	return out
}
