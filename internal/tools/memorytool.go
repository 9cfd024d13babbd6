package tools

import (
	"context"

	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
)

// registerMemory wires compress_memory, which the planner only exposes
// once memory pressure crosses the task's threshold percentage. The
// handler itself does no compaction; it returns PENDING_COMPRESS so the
// runtime schedules compaction at the next cycle start.
func registerMemory(reg *registry.Registry, cfg *Config) {
	reg.Register(registry.Schema{
		Name:        "compress_memory",
		Description: "Request compaction of older conversation context before the next turn.",
		Parameters:  objectSchema(nil, map[string]any{}),
	}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		return registry.HandlerResult{
			Payload:    map[string]any{"scheduled": true},
			StatusCode: protocol.StatusPendingCompress,
		}, nil
	}))
}
