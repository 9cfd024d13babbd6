package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/AndersonBY/vv-agent/internal/registry"
	"github.com/AndersonBY/vv-agent/internal/workspace"
)

// grepMaxMatches caps workspace_grep output so a broad pattern cannot
// flood the context window.
const grepMaxMatches = 200

// registerFile wires the workspace file tools, visible iff the
// task has use_workspace. Each handler rechecks the capability so a call
// the planner never offered still gets a standardized not_enabled error.
func registerFile(reg *registry.Registry, cfg *Config) {
	guard := func(h registry.HandlerFunc) registry.HandlerFunc {
		return func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
			if !cfg.Task.Capabilities.UseWorkspace || cfg.Workspace == nil {
				return errorResult(ErrNotEnabled, "workspace tools are not enabled for this task"), nil
			}
			return h(ctx, args)
		}
	}

	reg.Register(registry.Schema{
		Name:        "read_file",
		Description: "Read a text file from the workspace.",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
	}, guard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		path, ok := stringArg(args, "path")
		if !ok {
			return errorResult(ErrMissingArgument, "read_file requires a path"), nil
		}
		content, err := cfg.Workspace.ReadText(ctx, path)
		if err != nil {
			return fileError(path, err), nil
		}
		return registry.HandlerResult{Payload: map[string]any{"path": path, "content": content}}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "write_file",
		Description: "Write (or append) text content to a workspace file, creating parent directories.",
		Parameters: objectSchema([]string{"path", "content"}, map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
			"append":  map[string]any{"type": "boolean"},
		}),
	}, guard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		path, ok := stringArg(args, "path")
		if !ok {
			return errorResult(ErrMissingArgument, "write_file requires a path"), nil
		}
		content, _ := args["content"].(string)
		n, err := cfg.Workspace.WriteText(ctx, path, content, optionalBool(args, "append"))
		if err != nil {
			return fileError(path, err), nil
		}
		return registry.HandlerResult{Payload: map[string]any{"path": path, "bytes_written": n}}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "list_files",
		Description: "List workspace files under a base directory, optionally filtered by a glob on the file name.",
		Parameters: objectSchema(nil, map[string]any{
			"base": map[string]any{"type": "string"},
			"glob": map[string]any{"type": "string"},
		}),
	}, guard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		paths, err := cfg.Workspace.ListFiles(ctx, optionalString(args, "base"), optionalString(args, "glob"))
		if err != nil {
			return fileError(optionalString(args, "base"), err), nil
		}
		return registry.HandlerResult{Payload: map[string]any{"files": paths, "count": len(paths)}}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "file_info",
		Description: "Stat a workspace path: size, mtime, is_dir. Returns null info when the path does not exist.",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
	}, guard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		path, ok := stringArg(args, "path")
		if !ok {
			return errorResult(ErrMissingArgument, "file_info requires a path"), nil
		}
		info, err := cfg.Workspace.FileInfo(ctx, path)
		if err != nil {
			return fileError(path, err), nil
		}
		return registry.HandlerResult{Payload: map[string]any{"path": path, "info": info}}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "file_str_replace",
		Description: "Replace one exact occurrence of old_str in a workspace file with new_str.",
		Parameters: objectSchema([]string{"path", "old_str", "new_str"}, map[string]any{
			"path":    map[string]any{"type": "string"},
			"old_str": map[string]any{"type": "string"},
			"new_str": map[string]any{"type": "string"},
		}),
	}, guard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		path, ok := stringArg(args, "path")
		if !ok {
			return errorResult(ErrMissingArgument, "file_str_replace requires a path"), nil
		}
		oldStr, ok := args["old_str"].(string)
		if !ok || oldStr == "" {
			return errorResult(ErrMissingArgument, "file_str_replace requires old_str"), nil
		}
		newStr, _ := args["new_str"].(string)

		content, err := cfg.Workspace.ReadText(ctx, path)
		if err != nil {
			return fileError(path, err), nil
		}
		switch n := strings.Count(content, oldStr); {
		case n == 0:
			return errorResult(ErrStrNotFound, fmt.Sprintf("old_str not found in %s", path)), nil
		case n > 1:
			return errorResult(ErrStrAmbiguous, fmt.Sprintf("old_str occurs %d times in %s; it must be unique", n, path)), nil
		}

		updated := strings.Replace(content, oldStr, newStr, 1)
		if _, err := cfg.Workspace.WriteText(ctx, path, updated, false); err != nil {
			return fileError(path, err), nil
		}
		return registry.HandlerResult{Payload: map[string]any{"path": path, "replaced": true}}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "workspace_grep",
		Description: "Search workspace files for a regular expression, returning matching lines.",
		Parameters: objectSchema([]string{"pattern"}, map[string]any{
			"pattern": map[string]any{"type": "string"},
			"base":    map[string]any{"type": "string"},
			"glob":    map[string]any{"type": "string"},
		}),
	}, guard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		pattern, ok := stringArg(args, "pattern")
		if !ok {
			return errorResult(ErrMissingArgument, "workspace_grep requires a pattern"), nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return errorResult(ErrMissingArgument, "invalid pattern: "+err.Error()), nil
		}

		paths, err := cfg.Workspace.ListFiles(ctx, optionalString(args, "base"), optionalString(args, "glob"))
		if err != nil {
			return fileError(optionalString(args, "base"), err), nil
		}

		type match struct {
			Path string `json:"path"`
			Line int    `json:"line"`
			Text string `json:"text"`
		}
		var matches []match
	scan:
		for _, p := range paths {
			if strings.HasSuffix(p, "(summarized)") {
				continue
			}
			content, err := cfg.Workspace.ReadText(ctx, p)
			if err != nil {
				continue // unreadable entries are skipped, not fatal
			}
			for i, line := range strings.Split(content, "\n") {
				if re.MatchString(line) {
					matches = append(matches, match{Path: p, Line: i + 1, Text: line})
					if len(matches) >= grepMaxMatches {
						break scan
					}
				}
			}
		}
		return registry.HandlerResult{Payload: map[string]any{
			"matches":   matches,
			"count":     len(matches),
			"truncated": len(matches) >= grepMaxMatches,
		}}, nil
	}))
}

// fileError maps workspace backend failures to stable domain error
// codes.
func fileError(path string, err error) registry.HandlerResult {
	switch {
	case errors.Is(err, workspace.ErrPathEscape):
		return errorResult(ErrPathEscape, fmt.Sprintf("path %q escapes the workspace", path))
	case errors.Is(err, os.ErrNotExist):
		return errorResult(ErrFileNotFound, fmt.Sprintf("file not found: %s", path))
	default:
		return errorResult("workspace_error", err.Error())
	}
}
