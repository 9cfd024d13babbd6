package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AndersonBY/vv-agent/internal/statestore"
	"github.com/AndersonBY/vv-agent/pkg/agentsdk"
	"github.com/AndersonBY/vv-agent/pkg/models"
)

type rootFlags struct {
	model        string
	baseURL      string
	system       string
	maxCycles    int
	stream       bool
	workspace    string
	checkpointDB string
	summaryModel string
	agentType    string
	verbose      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "agentrun [prompt]",
		Short: "Run an agent task against an OpenAI-compatible endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, flags, args[0])
		},
	}

	cmd.PersistentFlags().StringVar(&flags.model, "model", "gpt-4o-mini", "model identifier")
	cmd.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "OpenAI-compatible API base URL (default: api.openai.com)")
	cmd.PersistentFlags().StringVar(&flags.checkpointDB, "checkpoint-db", "", "sqlite file for task checkpoints (empty disables persistence)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().StringVar(&flags.system, "system", "You are a capable autonomous task agent.", "system prompt")
	cmd.Flags().IntVar(&flags.maxCycles, "max-cycles", 20, "cycle budget before the task is cut off")
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "stream assistant text to stdout")
	cmd.Flags().StringVar(&flags.workspace, "workspace", "", "workspace root (enables file tools)")
	cmd.Flags().StringVar(&flags.summaryModel, "summary-model", "", "model for memory-compaction summaries")
	cmd.Flags().StringVar(&flags.agentType, "agent-type", "", `agent type ("computer" enables bash tools)`)

	cmd.AddCommand(newWorkerCmd(flags))
	return cmd
}

func buildLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openCheckpointStore(path string) (statestore.Store, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	store, err := statestore.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func runTask(cmd *cobra.Command, flags *rootFlags, prompt string) error {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}

	logger := buildLogger(flags.verbose)
	store, closeStore, err := openCheckpointStore(flags.checkpointDB)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []agentsdk.Option{
		agentsdk.WithLogger(logger),
		agentsdk.WithSummaryModel(flags.summaryModel),
	}
	if store != nil {
		opts = append(opts, agentsdk.WithStateStore(store))
	}
	if flags.stream {
		opts = append(opts, agentsdk.WithStreamSink(func(text string) {
			fmt.Print(text)
		}))
	}

	client := agentsdk.New(newOpenAIClient("openai", apiKey, flags.baseURL), opts...)

	task := &models.Task{
		Model:      flags.model,
		System:     flags.system,
		UserPrompt: prompt,
		MaxCycles:  flags.maxCycles,
	}
	task.Capabilities.AgentType = flags.agentType
	if flags.workspace != "" {
		task.Capabilities.UseWorkspace = true
		task.WorkspaceRoot = flags.workspace
	}

	result, err := client.Run(cmd.Context(), task)
	if err != nil {
		return err
	}
	if flags.stream {
		fmt.Println()
	}

	printResult(result)

	// Let the operator answer ask_user questions from the terminal.
	for result.Status == models.StatusWaitUser {
		fmt.Print("> ")
		var reply string
		reader := cmd.InOrStdin()
		buf := make([]byte, 4096)
		n, readErr := reader.Read(buf)
		if readErr != nil {
			break
		}
		reply = strings.TrimSpace(string(buf[:n]))
		if reply == "" {
			break
		}
		result, err = client.Resume(cmd.Context(), task, reply)
		if err != nil {
			return err
		}
		printResult(result)
	}
	return nil
}

func printResult(result *models.Result) {
	fmt.Printf("status: %s\n", result.Status)
	if result.FinalAnswer != "" {
		fmt.Printf("answer: %s\n", result.FinalAnswer)
	}
	fmt.Printf("cycles: %d, tokens: %d\n", len(result.Cycles), result.Usage.TotalTokens)
	if result.ErrorReason != "" {
		fmt.Printf("error: %s\n", result.ErrorReason)
	}
}
