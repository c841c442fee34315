package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"repo_path":      "/tmp/repo",
		"worktrees_path": "/tmp/worktrees",
		"db_path":        "/tmp/relay.db",
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "main", cfg.BaseBranch)
	require.Equal(t, 3, cfg.MaxParallelAgents)
	require.Equal(t, []int{4000, 4099}, cfg.PortRange)
	require.False(t, cfg.Tracing.Enabled)
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"repo_path": "/tmp/repo",
		"db_path":   "/tmp/relay.db",
	})

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "worktrees_path")
}

func TestLoad_ExpandsTilde(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"repo_path":      "~/repo",
		"worktrees_path": "/tmp/worktrees",
		"db_path":        "/tmp/relay.db",
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "repo"), cfg.RepoPath)
}

func TestLoad_InvalidPortRange(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"repo_path":      "/tmp/repo",
		"worktrees_path": "/tmp/worktrees",
		"db_path":        "/tmp/relay.db",
		"port_range":     []int{5000},
	})

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "port_range")
}

func TestValidate_MaxParallelAgents(t *testing.T) {
	cfg := Defaults()
	cfg.RepoPath = "/tmp/repo"
	cfg.WorktreesPath = "/tmp/worktrees"
	cfg.DBPath = "/tmp/relay.db"
	cfg.MaxParallelAgents = 0

	require.Error(t, cfg.Validate())
}

func TestValidateTracing(t *testing.T) {
	tests := []struct {
		name    string
		tracing TracingConfig
		wantErr bool
	}{
		{"disabled empty", TracingConfig{}, false},
		{"valid file", TracingConfig{Enabled: true, Exporter: "file", FilePath: "/tmp/t.jsonl", SampleRate: 1.0}, false},
		{"file without path", TracingConfig{Enabled: true, Exporter: "file", SampleRate: 1.0}, true},
		{"otlp without endpoint", TracingConfig{Enabled: true, Exporter: "otlp", SampleRate: 1.0}, true},
		{"bad exporter", TracingConfig{Exporter: "jaeger"}, true},
		{"bad sample rate", TracingConfig{SampleRate: 1.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTracing(tt.tracing)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestWorkflow_FallsBackToBuiltin(t *testing.T) {
	cfg := Defaults()
	steps := cfg.Workflow()
	require.Len(t, steps, 7)
	require.Equal(t, "Plan", steps[0].Name)
	require.True(t, steps[0].IsAgentStep())
	require.Equal(t, "Done", steps[6].Name)
	require.False(t, steps[6].IsAgentStep())
}

func TestWriteDefaultConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, json.Unmarshal(data, &cfg))
	require.Equal(t, "main", cfg.BaseBranch)
	require.Len(t, cfg.DefaultWorkflow, 7)
}
