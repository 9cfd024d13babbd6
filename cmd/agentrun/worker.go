package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/AndersonBY/vv-agent/internal/backend"
	"github.com/AndersonBY/vv-agent/internal/cancel"
	"github.com/AndersonBY/vv-agent/internal/exectx"
	"github.com/AndersonBY/vv-agent/internal/hooks"
	"github.com/AndersonBY/vv-agent/internal/registry"
	"github.com/AndersonBY/vv-agent/internal/runtime"
	"github.com/AndersonBY/vv-agent/internal/tools"
	"github.com/AndersonBY/vv-agent/internal/workspace"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

// newWorkerCmd starts a distributed-queue worker: it consumes per-cycle
// work items from a shared Redis list, rebuilds the runtime from each
// item's recipe, and coordinates with sibling workers through the shared
// checkpoint store's version counter.
func newWorkerCmd(flags *rootFlags) *cobra.Command {
	var redisAddr, queueKey string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume distributed cycle work items from a shared queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey := os.Getenv("OPENAI_API_KEY")
			if apiKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is not set")
			}
			if flags.checkpointDB == "" {
				return fmt.Errorf("--checkpoint-db is required for worker mode")
			}

			logger := buildLogger(flags.verbose)
			store, closeStore, err := openCheckpointStore(flags.checkpointDB)
			if err != nil {
				return err
			}
			defer closeStore()

			rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
			defer rdb.Close()
			queue := backend.NewRedisQueue(rdb, queueKey)

			hookMgr := hooks.NewManager(logger)
			factory := func(recipe backend.Recipe, task *models.Task) (backend.Runner, *exectx.Context, error) {
				chat := newOpenAIClient("openai", apiKey, flags.baseURL)

				var ws workspace.Backend
				root := recipe.WorkspaceRoot
				if root == "" {
					root = task.WorkspaceRoot
				}
				if task.Capabilities.UseWorkspace && root != "" {
					local, err := workspace.NewLocal(root)
					if err != nil {
						return nil, nil, err
					}
					ws = local
				}
				if recipe.Model != "" && task.Model == "" {
					task.Model = recipe.Model
				}

				ectx := exectx.New(
					exectx.WithCancelToken(cancel.New(cmd.Context())),
					exectx.WithHooks(hookMgr),
					exectx.WithStateStore(store),
				)

				reg := registry.New()
				tools.RegisterAll(reg, &tools.Config{
					Task:      task,
					Exec:      ectx,
					Workspace: ws,
					Logger:    logger,
				})
				return runtime.New(reg, chat, runtime.WithLogger(logger)), ectx, nil
			}

			worker := backend.NewWorker(queue, store, factory, logger)
			logger.Info("worker started", "queue", queueKey, "redis", redisAddr)
			return worker.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379", "redis address for the shared work queue")
	cmd.Flags().StringVar(&queueKey, "queue", "agent:cycles", "redis list key for cycle work items")
	return cmd
}
