package memory

// Config holds the compaction knobs, all overridable from task
// metadata. Zero values fall back to the defaults below.
type Config struct {
	// Threshold is the effective-length value that triggers compaction.
	Threshold int
	// ThresholdPercent triggers the compress_memory tool's visibility
	// (planner) once usage crosses this percentage of Threshold.
	ThresholdPercent int

	KeepRecentMessages         int
	IncludeMemoryWarning       bool
	ToolResultCompactThreshold int
	ToolResultKeepLast         int
	ToolResultExcerptHead      int
	ToolResultExcerptTail      int
	ToolCallsKeepLast          int
	AssistantNoToolKeepLast    int
	ToolResultArtifactDir      string
	SummaryEventLimit          int
}

// DefaultConfig returns /§4.5's documented defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:                  128000,
		ThresholdPercent:           90,
		KeepRecentMessages:         10,
		IncludeMemoryWarning:       true,
		ToolResultCompactThreshold: 4000,
		ToolResultKeepLast:         5,
		ToolResultExcerptHead:      400,
		ToolResultExcerptTail:      200,
		ToolCallsKeepLast:          5,
		AssistantNoToolKeepLast:    3,
		ToolResultArtifactDir:      "memory/artifacts",
		SummaryEventLimit:          50,
	}
}

func sanitize(c Config) Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.ThresholdPercent <= 0 {
		c.ThresholdPercent = d.ThresholdPercent
	}
	if c.KeepRecentMessages <= 0 {
		c.KeepRecentMessages = d.KeepRecentMessages
	}
	if c.ToolResultCompactThreshold <= 0 {
		c.ToolResultCompactThreshold = d.ToolResultCompactThreshold
	}
	if c.ToolResultKeepLast <= 0 {
		c.ToolResultKeepLast = d.ToolResultKeepLast
	}
	if c.ToolResultExcerptHead <= 0 {
		c.ToolResultExcerptHead = d.ToolResultExcerptHead
	}
	if c.ToolResultExcerptTail <= 0 {
		c.ToolResultExcerptTail = d.ToolResultExcerptTail
	}
	if c.ToolCallsKeepLast <= 0 {
		c.ToolCallsKeepLast = d.ToolCallsKeepLast
	}
	if c.AssistantNoToolKeepLast <= 0 {
		c.AssistantNoToolKeepLast = d.AssistantNoToolKeepLast
	}
	if c.ToolResultArtifactDir == "" {
		c.ToolResultArtifactDir = d.ToolResultArtifactDir
	}
	if c.SummaryEventLimit <= 0 {
		c.SummaryEventLimit = d.SummaryEventLimit
	}
	return c
}

// IntOption reads an int-valued knob from a task metadata bag, falling
// back to def.
func IntOption(meta map[string]any, key string, def int) int {
	if meta == nil {
		return def
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// BoolOption reads a bool-valued knob, falling back to def.
func BoolOption(meta map[string]any, key string, def bool) bool {
	if meta == nil {
		return def
	}
	if v, ok := meta[key].(bool); ok {
		return v
	}
	return def
}

// StringOption reads a string-valued knob, falling back to def.
func StringOption(meta map[string]any, key string, def string) string {
	if meta == nil {
		return def
	}
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ConfigFromMetadata builds a Config from a task's opaque metadata
// mapping, applying defaults for anything unset.
func ConfigFromMetadata(meta map[string]any) Config {
	d := DefaultConfig()
	return sanitize(Config{
		Threshold:                  IntOption(meta, "memory_compact_threshold", d.Threshold),
		ThresholdPercent:           IntOption(meta, "memory_threshold_percentage", d.ThresholdPercent),
		KeepRecentMessages:         IntOption(meta, "memory_keep_recent_messages", d.KeepRecentMessages),
		IncludeMemoryWarning:       BoolOption(meta, "include_memory_warning", d.IncludeMemoryWarning),
		ToolResultCompactThreshold: IntOption(meta, "tool_result_compact_threshold", d.ToolResultCompactThreshold),
		ToolResultKeepLast:         IntOption(meta, "tool_result_keep_last", d.ToolResultKeepLast),
		ToolResultExcerptHead:      IntOption(meta, "tool_result_excerpt_head", d.ToolResultExcerptHead),
		ToolResultExcerptTail:      IntOption(meta, "tool_result_excerpt_tail", d.ToolResultExcerptTail),
		ToolCallsKeepLast:          IntOption(meta, "tool_calls_keep_last", d.ToolCallsKeepLast),
		AssistantNoToolKeepLast:    IntOption(meta, "assistant_no_tool_keep_last", d.AssistantNoToolKeepLast),
		ToolResultArtifactDir:      StringOption(meta, "tool_result_artifact_dir", d.ToolResultArtifactDir),
		SummaryEventLimit:          IntOption(meta, "summary_event_limit", d.SummaryEventLimit),
	})
}
