package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/viberelay/relay/internal/git"
	"github.com/viberelay/relay/internal/runner"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/worktree"
)

var runAgentTaskID string

var runAgentCmd = &cobra.Command{
	Use:   "run-agent",
	Short: "Dispatch one agent and wait for it",
	Long:  `Runs a single agent for the given task outside the scheduler: ensures the worktree, spawns the subprocess, and waits for it to exit. Useful for debugging a task without serving the whole board.`,
	RunE:  runRunAgent,
}

func init() {
	runAgentCmd.Flags().StringVar(&runAgentTaskID, "task-id", "", "task to dispatch (required)")
	_ = runAgentCmd.MarkFlagRequired("task-id")
	rootCmd.AddCommand(runAgentCmd)
}

func runRunAgent(cmd *cobra.Command, _ []string) error {
	closeLog, err := initLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return err
	}

	worktrees := worktree.New(st, git.NewRealExecutor(), cfg.WorktreesPath)
	registry := runner.NewRegistry()
	agents := runner.New(st, cfg, worktrees, registry)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := agents.Run(ctx, runAgentTaskID)
	if err != nil {
		return err
	}

	if run.ExitCode != nil && *run.ExitCode != 0 {
		if run.Error != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), *run.Error)
		}
		return fmt.Errorf("agent exited with code %d", *run.ExitCode)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "agent run %s completed\n", run.ID)
	return nil
}
