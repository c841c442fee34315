// Package cmd defines the relay CLI.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/log"
)

var (
	version = "dev"
	cfgPath string
	logPath string
)

var rootCmd = &cobra.Command{
	Use:          "relay",
	Short:        "Multi-agent coding orchestrator",
	Long:         `Relay runs a kanban-style board whose tasks are worked by claude agents in isolated git worktrees, advancing through a configurable workflow.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "relay.config.json",
		"config file path")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", "",
		"log file path (default: ~/.relay/relay.log)")
}

// initLogging opens the log file and returns its cleanup func. Logging goes
// to a file, never stdout; the mcp command shares stdout with the protocol.
func initLogging() (func(), error) {
	path := logPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, ".relay", "relay.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return log.Init(path)
}

// loadConfig loads and validates the config file.
func loadConfig() (config.Config, error) {
	return config.Load(cfgPath)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
