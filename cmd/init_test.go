package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viberelay/relay/internal/config"
)

func TestRunInit_WritesScaffold(t *testing.T) {
	cfgPath = filepath.Join(t.TempDir(), "relay.config.json")

	var out bytes.Buffer
	initCmd.SetOut(&out)
	require.NoError(t, runInit(initCmd, nil))
	require.Contains(t, out.String(), cfgPath)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(data, &cfg))
	require.Equal(t, ".", cfg.RepoPath)
	require.NotEmpty(t, cfg.DefaultWorkflow)
	require.Equal(t, config.DefaultMaxParallelAgents, cfg.MaxParallelAgents)
}

func TestRunInit_RefusesOverwrite(t *testing.T) {
	cfgPath = filepath.Join(t.TempDir(), "relay.config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{}"), 0o600))

	err := runInit(initCmd, nil)
	require.ErrorContains(t, err, "already exists")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "serve", "mcp", "run-agent"} {
		require.True(t, names[want], "missing command %s", want)
	}
}
