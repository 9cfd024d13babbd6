// Package planner implements the Tool Planner: it filters the registry's
// full schema list down to what should be visible to the LLM for one
// cycle, based on capability flags and current memory pressure.
package planner

import "github.com/AndersonBY/vv-agent/internal/registry"

// Capabilities mirrors the capability flags carried on a task.
type Capabilities struct {
	UseWorkspace        bool
	AgentType           string // e.g. "computer"
	NativeMultimodal    bool
	HasSubAgents        bool
	EnableDocumentTools bool
	EnableWorkflowTools bool
}

// Always-visible tool names.
const (
	ToolTaskFinish = "task_finish"
	ToolAskUser    = "ask_user"
)

// workspace tool names, included iff Capabilities.UseWorkspace.
var workspaceTools = []string{
	"read_file", "write_file", "list_files", "file_info",
	"file_str_replace", "workspace_grep",
}

// computer-agent tool names, included iff AgentType == "computer".
var computerTools = []string{"bash", "check_background_command", "read_image"}

// sub-agent tool names, included iff Capabilities.HasSubAgents.
var subAgentTools = []string{"create_sub_task", "batch_sub_tasks"}

const toolCompressMemory = "compress_memory"

// Visible computes the ordered set of tool names that should be exposed
// for the current cycle, given caps and the current memory-pressure ratio
// (0-100, compared against threshold). It does not consult the registry;
// Plan does that by intersecting this set with what's actually registered.
func Visible(caps Capabilities, memoryUsagePercent, memoryThresholdPercent int) []string {
	names := []string{ToolTaskFinish, ToolAskUser}

	if caps.UseWorkspace {
		names = append(names, workspaceTools...)
	}
	if caps.AgentType == "computer" {
		names = append(names, computerTools...)
	}
	if caps.NativeMultimodal {
		names = append(names, "read_image")
	}
	if caps.HasSubAgents {
		names = append(names, subAgentTools...)
	}
	if memoryThresholdPercent > 0 && memoryUsagePercent >= memoryThresholdPercent {
		names = append(names, toolCompressMemory)
	}
	if caps.EnableDocumentTools {
		names = append(names, documentTools...)
	}
	if caps.EnableWorkflowTools {
		names = append(names, workflowTools...)
	}

	return dedupe(names)
}

// document/workflow tools are named here so Visible can gate them; their
// handlers return a standardized not_enabled error when the capability is
// off and the LLM calls them anyway.
var documentTools = []string{"document_extract", "document_summarize"}
var workflowTools = []string{"workflow_start", "workflow_status"}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Plan returns the schema list the Cycle Runner should hand to the chat
// client: the intersection of Visible(caps, ...) with what reg actually
// has registered, preserving Visible's order.
func Plan(reg *registry.Registry, caps Capabilities, memoryUsagePercent, memoryThresholdPercent int) []registry.Schema {
	wanted := Visible(caps, memoryUsagePercent, memoryThresholdPercent)
	all := reg.ListSchemas()
	byName := make(map[string]registry.Schema, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}

	out := make([]registry.Schema, 0, len(wanted))
	for _, name := range wanted {
		if s, ok := byName[name]; ok {
			out = append(out, s)
		}
	}
	return out
}
