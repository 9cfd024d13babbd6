// Package agentsdk is the embedder-facing assembly layer: it builds a
// tool registry, an agent runtime, and an execution backend for each
// task run, and wires sub-agent delegation back into itself so child
// tasks get the same treatment recursively.
package agentsdk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AndersonBY/vv-agent/internal/backend"
	"github.com/AndersonBY/vv-agent/internal/cancel"
	"github.com/AndersonBY/vv-agent/internal/cycle"
	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/hooks"
	"github.com/AndersonBY/vv-agent/internal/jobs"
	"github.com/AndersonBY/vv-agent/internal/memory"
	"github.com/AndersonBY/vv-agent/internal/observability"
	"github.com/AndersonBY/vv-agent/internal/protocol"
	"github.com/AndersonBY/vv-agent/internal/provider"
	"github.com/AndersonBY/vv-agent/internal/registry"
	"github.com/AndersonBY/vv-agent/internal/runtime"
	"github.com/AndersonBY/vv-agent/internal/statestore"
	"github.com/AndersonBY/vv-agent/internal/toolrun"
	"github.com/AndersonBY/vv-agent/internal/tools"
	"github.com/AndersonBY/vv-agent/internal/workspace"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

// Re-exported aliases so embedders only import this package and
// pkg/models for everyday use.
type (
	// Task is the unit of work submitted to Run.
	Task = models.Task
	// Result is what Run returns.
	Result = models.Result
	// SubAgentSpec configures a named delegate.
	SubAgentSpec = models.SubAgentSpec
	// ChatClient is the injected LLM transport.
	ChatClient = provider.ChatClient
	// StreamSink receives streamed text fragments.
	StreamSink = cycle.StreamSink
)

const summarySystemPrompt = "You compress agent conversation history. Summarize the following exchange into a compact brief that preserves decisions, open work, file paths, and tool outcomes. Reply with the summary only."

// Client runs agent tasks against one chat client. It is safe for
// concurrent use; all per-task state lives in the task and its
// execution context.
type Client struct {
	chat         provider.ChatClient
	store        statestore.Store
	hookMgr      *hooks.Manager
	metrics      *observability.Metrics
	sink         cycle.StreamSink
	logger       *slog.Logger
	poolWorkers  int
	pool         *backend.Pool
	summaryModel string
	bashTimeout  time.Duration
	jobs         *jobs.Manager
	approval     toolrun.ApprovalPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithStateStore enables checkpoint persistence.
func WithStateStore(store statestore.Store) Option {
	return func(c *Client) { c.store = store }
}

// WithHooks installs a pre-populated hook manager.
func WithHooks(mgr *hooks.Manager) Option {
	return func(c *Client) { c.hookMgr = mgr }
}

// WithMetrics installs Prometheus collectors (their mid-run hooks are
// registered on the client's hook manager).
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithStreamSink enables streaming; text fragments go to sink.
func WithStreamSink(sink cycle.StreamSink) Option {
	return func(c *Client) { c.sink = sink }
}

// WithPoolWorkers runs tasks on a shared worker pool of the given size
// instead of the caller's goroutine.
func WithPoolWorkers(n int) Option {
	return func(c *Client) { c.poolWorkers = n }
}

// WithSummaryModel sets the global default model for memory-compaction
// summaries, consulted after any per-task metadata override and before
// the task's own model.
func WithSummaryModel(model string) Option {
	return func(c *Client) { c.summaryModel = model }
}

// WithBashTimeout bounds foreground bash tool commands.
func WithBashTimeout(d time.Duration) Option {
	return func(c *Client) { c.bashTimeout = d }
}

// WithApproval gates every tool call behind policy before dispatch.
func WithApproval(policy toolrun.ApprovalPolicy) Option {
	return func(c *Client) { c.approval = policy }
}

// New creates a Client around chat.
func New(chat provider.ChatClient, opts ...Option) *Client {
	c := &Client{
		chat:   chat,
		logger: slog.Default(),
		jobs:   jobs.NewManager(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hookMgr == nil {
		c.hookMgr = hooks.NewManager(c.logger)
	}
	if c.metrics != nil {
		c.metrics.RegisterHooks(c.hookMgr)
	}
	if c.poolWorkers > 0 {
		c.pool = backend.NewPool(runnerFunc{c}, c.poolWorkers, c.logger)
	}
	return c
}

// Run drives task to a terminal state.
func (c *Client) Run(ctx context.Context, task *models.Task) (*models.Result, error) {
	ectx := c.newExecContext(ctx)
	var result *models.Result
	var err error
	if c.pool != nil {
		result, err = c.pool.RunTask(ctx, ectx, task)
	} else {
		result, err = c.runTask(ctx, ectx, task)
	}
	if c.metrics != nil {
		if result != nil {
			c.metrics.ObserveResult(task.Model, result)
		} else if err != nil {
			c.metrics.ObserveTask(models.StatusFailed)
		}
	}
	return result, err
}

// Submit schedules task without blocking (requires WithPoolWorkers) and
// returns a handle to wait on.
func (c *Client) Submit(ctx context.Context, task *models.Task) (*backend.Handle, error) {
	if c.pool == nil {
		return nil, fmt.Errorf("agentsdk: Submit requires WithPoolWorkers")
	}
	return c.pool.SubmitTask(ctx, c.newExecContext(ctx), task)
}

// Resume continues a wait_user task with the user's reply.
func (c *Client) Resume(ctx context.Context, task *models.Task, userReply string) (*models.Result, error) {
	if task.Status != models.StatusWaitUser {
		return nil, fmt.Errorf("agentsdk: task %s is %s, not wait_user", task.TaskID, task.Status)
	}
	task.Messages = append(task.Messages, protocol.Message{
		Role:    protocol.RoleUser,
		Content: userReply,
	})
	task.Status = models.StatusPending
	return c.Run(ctx, task)
}

func (c *Client) newExecContext(ctx context.Context) *exectx.Context {
	opts := []exectx.Option{
		exectx.WithCancelToken(cancel.New(ctx)),
		exectx.WithHooks(c.hookMgr),
	}
	if c.store != nil {
		opts = append(opts, exectx.WithStateStore(c.store))
	}
	if c.sink != nil {
		opts = append(opts, exectx.WithStreamSink(c.sink))
	}
	return exectx.New(opts...)
}

// runTask assembles a registry and runtime for one task and runs it.
// Also used as the sub-agent spawn function, so delegation recurses
// through the same assembly.
func (c *Client) runTask(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error) {
	if err := c.prepare(task); err != nil {
		return nil, err
	}

	var ws workspace.Backend
	if task.Capabilities.UseWorkspace {
		if task.WorkspaceRoot == "" {
			return nil, fmt.Errorf("agentsdk: task %s enables use_workspace without a workspace root", task.TaskID)
		}
		local, err := workspace.NewLocal(task.WorkspaceRoot)
		if err != nil {
			return nil, err
		}
		ws = local
	}

	reg := registry.New()
	tools.RegisterAll(reg, &tools.Config{
		Task:        task,
		Exec:        ectx,
		Workspace:   ws,
		Jobs:        c.jobs,
		Spawn:       c.runTask,
		BashTimeout: c.bashTimeout,
		Logger:      c.logger,
	})

	rtOpts := []runtime.Option{
		runtime.WithLogger(c.logger),
		runtime.WithSummarizer(c.summarizerFor(task)),
	}
	if c.approval != nil {
		rtOpts = append(rtOpts, runtime.WithApproval(c.approval))
	}
	rt := runtime.New(reg, c.chat, rtOpts...)
	return rt.Run(ctx, ectx, task)
}

// prepare defaults the task's identity and seeds the initial message
// list from the user prompt.
func (c *Client) prepare(task *models.Task) error {
	if task.UserPrompt == "" && len(task.Messages) == 0 {
		return fmt.Errorf("agentsdk: task needs a user prompt or messages")
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if len(task.Messages) == 0 {
		task.Messages = []protocol.Message{
			{Role: protocol.RoleUser, Content: task.UserPrompt},
		}
	}
	if task.MemoryCompactThreshold <= 0 {
		task.MemoryCompactThreshold = memory.DefaultConfig().Threshold
	}
	if task.MemoryThresholdPercent <= 0 {
		task.MemoryThresholdPercent = memory.DefaultConfig().ThresholdPercent
	}
	return nil
}

// summarizerFor builds the compaction summarizer following 
// model priority: task metadata override, then the client's global
// summary model, then the task's own model.
func (c *Client) summarizerFor(task *models.Task) memory.Summarizer {
	model := memory.StringOption(task.Metadata, "memory_summary_model", "")
	if model == "" {
		model = c.summaryModel
	}
	if model == "" {
		model = task.Model
	}

	return func(ctx context.Context, window []protocol.Message) (string, error) {
		req := provider.Request{
			Model:    model,
			System:   summarySystemPrompt,
			Messages: window,
		}
		resp, err := c.chat.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}
}

// runnerFunc adapts Client.runTask to the backend.Runner interface so
// the shared pool can drive client-assembled runtimes.
type runnerFunc struct{ c *Client }

func (r runnerFunc) Run(ctx context.Context, ectx *exectx.Context, task *models.Task) (*models.Result, error) {
	return r.c.runTask(ctx, ectx, task)
}

func (r runnerFunc) Step(ctx context.Context, ectx *exectx.Context, task *models.Task) (*protocol.CycleRecord, bool, error) {
	return nil, false, fmt.Errorf("agentsdk: per-cycle stepping is driven by backend workers, not the pool")
}
