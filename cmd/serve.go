package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/viberelay/relay/internal/broadcast"
	"github.com/viberelay/relay/internal/git"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/runner"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/tools"
	"github.com/viberelay/relay/internal/tracing"
	"github.com/viberelay/relay/internal/trigger"
	"github.com/viberelay/relay/internal/watcher"
	"github.com/viberelay/relay/internal/worktree"
)

// shutdownGrace is how long subprocesses get between SIGTERM and SIGKILL.
const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the schedulers",
	Long:  `Opens the store, runs migrations, and starts the trigger processor, event broadcaster, and database watcher. Stops on interrupt, terminating any live agent subprocesses.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	closeLog, err := initLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return err
	}

	executor := git.NewRealExecutor()
	worktrees := worktree.New(st, executor, cfg.WorktreesPath)
	if err := worktrees.Reconcile(cmd.Context(), cfg.RepoPath); err != nil {
		log.Warn(log.CatWorktree, "Worktree reconcile failed", "error", err)
	}
	surface := tools.New(st, cfg, executor)
	registry := runner.NewRegistry()
	agents := runner.New(st, cfg, worktrees, registry)
	processor := trigger.New(st, surface, agents, worktrees, cfg)

	w, err := watcher.New(watcher.DefaultConfig(cfg.DBPath))
	if err != nil {
		return err
	}
	wake, err := w.Start()
	if err != nil {
		return err
	}
	broadcaster := broadcast.New(st, wake)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.SafeGo("trigger", func() { processor.Run(ctx) })
	log.SafeGo("broadcast", func() { broadcaster.Run(ctx) })

	log.Info(log.CatConfig, "Relay serving", "db_path", cfg.DBPath, "repo_path", cfg.RepoPath)
	fmt.Fprintln(cmd.OutOrStdout(), "relay serving; press Ctrl-C to stop")

	<-ctx.Done()

	fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
	if err := w.Stop(); err != nil {
		log.Warn(log.CatWatcher, "Watcher stop failed", "error", err)
	}
	registry.TerminateAll(shutdownGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Warn(log.CatConfig, "Tracing shutdown failed", "error", err)
	}
	return nil
}
