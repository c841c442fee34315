package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/mcp"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/tools"
)

var (
	mcpTaskID string
	mcpDBPath string
	mcpHTTP   string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the tool server for one agent",
	Long:  `Serves the board's tool surface over MCP (JSON-RPC 2.0 on stdio), scoped to a single task. Agent subprocesses are launched with a config pointing back at this command.`,
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpTaskID, "task-id", "", "task this server is scoped to (required)")
	mcpCmd.Flags().StringVar(&mcpDBPath, "db", "", "store path (defaults to the config's db_path)")
	mcpCmd.Flags().StringVar(&mcpHTTP, "http", "", "serve over HTTP at this address instead of stdio")
	_ = mcpCmd.MarkFlagRequired("task-id")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	closeLog, err := initLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	// The agent's environment has no guarantee of a config file next to it;
	// fall back to defaults when --db carries the store location.
	cfg, err := loadConfig()
	if err != nil {
		if mcpDBPath == "" {
			return err
		}
		log.Warn(log.CatMCP, "Config unavailable, using defaults", "error", err)
		cfg = config.Defaults()
	}
	dbPath := mcpDBPath
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	if dbPath == "" {
		return fmt.Errorf("no store path: pass --db or set db_path in the config")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	surface := tools.New(st, cfg, nil)
	server := mcp.NewServer("relay", version, mcp.WithInstructions(
		fmt.Sprintf("Relay board tools scoped to task %s. Call relay_get_task first, record progress with relay_add_comment, and finish with relay_complete_task.", mcpTaskID)))
	mcp.NewHandlers(surface, mcpTaskID).RegisterAll(server)

	log.Info(log.CatMCP, "MCP server starting", "task_id", mcpTaskID, "db", dbPath, "http", mcpHTTP)

	if mcpHTTP != "" {
		httpServer := &http.Server{
			Addr:              mcpHTTP,
			Handler:           server.ServeHTTP(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return httpServer.ListenAndServe()
	}
	return server.Serve(os.Stdin, os.Stdout)
}
