package runner

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/testutil"
)

func TestBuildPrompt(t *testing.T) {
	prompt := "You are the planner."
	branch := "task-t1-99"
	worktreePath := "/worktrees/p1/t1"
	parentID := "m1"
	task := &store.Task{
		ID:           "t1",
		ProjectID:    "p1",
		ParentTaskID: &parentID,
		Title:        "Build the parser",
		Description:  "Tokenize and parse.",
		WorktreePath: &worktreePath,
		Branch:       &branch,
	}
	step := &store.WorkflowStep{ID: "s1", Name: "Plan", SystemPrompt: &prompt}
	comments := []*store.Comment{
		{AuthorRole: "reviewer", CreatedAt: "2026-01-01T00:00:00Z", Content: "looks good"},
	}

	got := buildPrompt(task, step, comments)

	require.Contains(t, got, "<system_prompt>\nYou are the planner.\n</system_prompt>")
	require.Contains(t, got, "task_id: t1")
	require.Contains(t, got, "parent_task_id: m1")
	require.Contains(t, got, "step: Plan")
	require.Contains(t, got, "branch: task-t1-99")
	require.Contains(t, got, "worktree: /worktrees/p1/t1")
	require.Contains(t, got, "[reviewer] 2026-01-01T00:00:00Z: looks good")

	// Sections appear in order.
	require.Less(t, strings.Index(got, "<system_prompt>"), strings.Index(got, "<issue>"))
	require.Less(t, strings.Index(got, "<issue>"), strings.Index(got, "<comments>"))
}

func TestBuildPrompt_NoComments(t *testing.T) {
	prompt := "p"
	task := &store.Task{ID: "t1", ProjectID: "p1", Title: "T"}
	step := &store.WorkflowStep{Name: "Plan", SystemPrompt: &prompt}

	got := buildPrompt(task, step, nil)
	require.NotContains(t, got, "<comments>")
}

func TestSanitizeEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"CLAUDECODE=1",
		"CLAUDE_CODE_ENTRYPOINT=cli",
		"HOME=/home/u",
	}
	got := sanitizeEnv(environ)
	require.Equal(t, []string{"PATH=/usr/bin", "HOME=/home/u"}, got)
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs(spawnConfig{
		Prompt:        "do it",
		Model:         "sonnet",
		MCPConfigPath: "/tmp/mcp.json",
	})
	require.Contains(t, args, "--print")
	require.Contains(t, args, "stream-json")
	require.Contains(t, args, "--model")
	require.NotContains(t, args, "--resume")
	require.Equal(t, "do it", args[len(args)-1])
	require.Equal(t, "--", args[len(args)-2])

	resumed := buildArgs(spawnConfig{Prompt: "p", SessionID: "sess-1"})
	require.Contains(t, resumed, "--resume")
	require.Contains(t, resumed, "sess-1")
}

func TestReadTail(t *testing.T) {
	got := readTail(strings.NewReader("short"), 10)
	require.Equal(t, "short", got)

	long := strings.Repeat("x", 100) + "tail"
	got = readTail(strings.NewReader(long), 8)
	require.Equal(t, "xxxxtail", got)
}

func TestStreamLineSessionCapture(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"abc-123","cwd":"/w"}`
	var event streamLine
	require.NoError(t, json.Unmarshal([]byte(line), &event))
	require.Equal(t, "system", event.Type)
	require.Equal(t, "init", event.SubType)
	require.Equal(t, "abc-123", event.SessionID)
}

func TestWriteMCPConfig(t *testing.T) {
	s := testutil.NewTestStore(t)
	cfg := config.Defaults()
	cfg.DBPath = "/tmp/relay.db"
	r := New(s, cfg, nil, NewRegistry())

	path, cleanup, err := r.writeMCPConfig("t1")
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed mcpServerConfig
	require.NoError(t, json.Unmarshal(data, &parsed))
	entry, ok := parsed.MCPServers["relay"]
	require.True(t, ok)
	require.Contains(t, entry.Args, "--task-id")
	require.Contains(t, entry.Args, "t1")
	require.Contains(t, entry.Args, "/tmp/relay.db")

	cleanup()
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestRun_RejectsCancelledAndNonAgent(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.NewBuilder(t, s).
		WithProject("p1", "P").
		WithStep("s1", "Plan", "plan").
		WithStep("s2", "Done", "").
		WithTask("t1", "s1", testutil.Cancelled()).
		WithTask("t2", "s2").
		Build()

	cfg := config.Defaults()
	cfg.RepoPath = "/repo"
	r := New(s, cfg, nil, NewRegistry())
	ctx := context.Background()

	_, err := r.Run(ctx, "t1")
	require.ErrorContains(t, err, "cancelled")

	_, err = r.Run(ctx, "t2")
	require.ErrorContains(t, err, "no system prompt")
}

func TestRegistryTerminateAll_Empty(t *testing.T) {
	registry := NewRegistry()
	require.Equal(t, 0, registry.Len())
	require.NotPanics(t, func() { registry.TerminateAll(0) })
}
