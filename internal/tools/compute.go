package tools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/AndersonBY/vv-agent/internal/jobs"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/registry"
)

// registerCompute wires bash, check_background_command, and read_image.
// bash and check_background_command require agent_type=computer;
// read_image is also available to native-multimodal tasks.
func registerCompute(reg *registry.Registry, cfg *Config) {
	computerGuard := func(h registry.HandlerFunc) registry.HandlerFunc {
		return func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
			if cfg.Task.Capabilities.AgentType != "computer" {
				return errorResult(ErrNotEnabled, "compute tools require a computer-type agent"), nil
			}
			return h(ctx, args)
		}
	}

	reg.Register(registry.Schema{
		Name:        "bash",
		Description: "Run a shell command. Set background=true for long-running commands and poll with check_background_command.",
		Parameters: objectSchema([]string{"command"}, map[string]any{
			"command":         map[string]any{"type": "string"},
			"background":      map[string]any{"type": "boolean"},
			"timeout_seconds": map[string]any{"type": "number"},
		}),
	}, computerGuard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		command, ok := stringArg(args, "command")
		if !ok {
			return errorResult(ErrMissingArgument, "bash requires a command"), nil
		}

		timeout := cfg.bashTimeout()
		if secs, ok := optionalNumber(args, "timeout_seconds"); ok && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}

		if optionalBool(args, "background") {
			job := cfg.Jobs.Start(ctx, command, timeout)
			return registry.HandlerResult{
				Payload:    map[string]any{"job_id": job.ID, "status": string(job.Status)},
				StatusCode: protocol.StatusRunning,
			}, nil
		}

		return runForeground(ctx, command, timeout), nil
	}))

	reg.Register(registry.Schema{
		Name:        "check_background_command",
		Description: "Poll a background bash job started earlier.",
		Parameters: objectSchema([]string{"job_id"}, map[string]any{
			"job_id": map[string]any{"type": "string"},
		}),
	}, computerGuard(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		jobID, ok := stringArg(args, "job_id")
		if !ok {
			return errorResult(ErrMissingArgument, "check_background_command requires a job_id"), nil
		}
		job, ok := cfg.Jobs.Get(jobID)
		if !ok {
			return errorResult(ErrJobNotFound, "no background job with id "+jobID), nil
		}

		payload := map[string]any{
			"job_id":    job.ID,
			"status":    string(job.Status),
			"output":    job.Output,
			"exit_code": job.ExitCode,
		}
		if job.Error != "" {
			payload["error"] = job.Error
		}
		if job.Status == jobs.StatusRunning {
			return registry.HandlerResult{Payload: payload, StatusCode: protocol.StatusRunning}, nil
		}
		return registry.HandlerResult{Payload: payload}, nil
	}))

	reg.Register(registry.Schema{
		Name:        "read_image",
		Description: "Attach an image (by workspace path or URL) so the next turn can reference it.",
		Parameters: objectSchema(nil, map[string]any{
			"path": map[string]any{"type": "string"},
			"url":  map[string]any{"type": "string"},
		}),
	}, registry.HandlerFunc(func(ctx context.Context, args map[string]any) (registry.HandlerResult, error) {
		caps := cfg.Task.Capabilities
		if caps.AgentType != "computer" && !caps.NativeMultimodal {
			return errorResult(ErrNotEnabled, "read_image requires a computer-type or native-multimodal agent"), nil
		}

		if url := optionalString(args, "url"); url != "" {
			return registry.HandlerResult{
				Payload:  map[string]any{"url": url},
				ImageURL: url,
			}, nil
		}

		path, ok := stringArg(args, "path")
		if !ok {
			return errorResult(ErrMissingArgument, "read_image requires a path or a url"), nil
		}
		if cfg.Workspace == nil {
			return errorResult(ErrNotEnabled, "no workspace configured for image paths"), nil
		}
		isFile, err := cfg.Workspace.IsFile(ctx, path)
		if err != nil {
			return fileError(path, err), nil
		}
		if !isFile {
			return errorResult(ErrFileNotFound, "image not found: "+path), nil
		}
		return registry.HandlerResult{
			Payload:   map[string]any{"path": path},
			ImagePath: path,
		}, nil
	}))
}

// runForeground executes command synchronously under a timeout, mapping
// deadline expiry to the bash_timeout domain error.
func runForeground(ctx context.Context, command string, timeout time.Duration) registry.HandlerResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf bytes.Buffer
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()

	output := buf.String()
	if runCtx.Err() == context.DeadlineExceeded {
		return registry.HandlerResult{
			Payload: map[string]any{
				"error":      "command timed out after " + timeout.String(),
				"error_code": ErrBashTimeout,
				"output":     tail(output, 2000),
			},
			StatusCode: protocol.StatusError,
			ErrorCode:  ErrBashTimeout,
		}
	}

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return errorResult("bash_failed", err.Error())
	}

	return registry.HandlerResult{Payload: map[string]any{
		"output":    output,
		"exit_code": exitCode,
	}}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + strings.ToValidUTF8(s[len(s)-n:], "")
}
