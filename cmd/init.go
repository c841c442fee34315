package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/viberelay/relay/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a relay config file",
	Long:  `Writes a default relay.config.json (or the --config path) with the built-in workflow. Edit repo_path, worktrees_path, and db_path before serving.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("config file %s already exists", cfgPath)
	}

	if err := config.WriteDefaultConfig(cfgPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", cfgPath)
	return nil
}
