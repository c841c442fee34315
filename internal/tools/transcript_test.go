package tools_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/tools"
	"github.com/viberelay/relay/internal/transcript"
)

func TestGetTranscript_StatusTracksActiveRun(t *testing.T) {
	surface, s, project, steps := fourStepProject(t)
	ctx := context.Background()

	task, err := surface.CreateTask(ctx, tools.CreateTaskParams{
		StepID:    steps[0].ID,
		ProjectID: project.ID,
		Title:     "Transcribed",
	})
	require.NoError(t, err)

	worktreePath := filepath.Join(string(filepath.Separator), "var", "relay", "worktrees", "p1", task.ID)
	sessionID := "sess-1"
	now := store.FormatTime(store.Now())
	require.NoError(t, store.UpdateTaskWorktree(ctx, s.DB(), task.ID, &worktreePath, nil, now))
	require.NoError(t, store.UpdateTaskSessionID(ctx, s.DB(), task.ID, sessionID, now))

	projectsDir := t.TempDir()
	reader := transcript.NewWithDir(projectsDir)
	encoded := strings.ReplaceAll(strings.TrimPrefix(worktreePath, string(filepath.Separator)), string(filepath.Separator), "-")
	require.NoError(t, os.MkdirAll(filepath.Join(projectsDir, encoded), 0o750))
	lines := `{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectsDir, encoded, sessionID+".jsonl"), []byte(lines), 0o600))

	run := &store.AgentRun{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		StepID:    steps[0].ID,
		StartedAt: now,
	}
	require.NoError(t, store.InsertRun(ctx, s.DB(), run))

	result, err := surface.GetTranscript(ctx, reader, task.ID, 0)
	require.NoError(t, err)
	require.Equal(t, transcript.StatusRunning, result.Status)
	require.Len(t, result.Entries, 1)
	require.Equal(t, "working on it", result.Entries[0].Content)
	require.Equal(t, 1, result.NewOffset)

	require.NoError(t, store.CloseRun(ctx, s.DB(), run.ID, store.FormatTime(store.Now()), 0, nil))

	result, err = surface.GetTranscript(ctx, reader, task.ID, result.NewOffset)
	require.NoError(t, err)
	require.Equal(t, transcript.StatusCompleted, result.Status)
	require.Empty(t, result.Entries)
}

func TestGetTranscript_UnknownTask(t *testing.T) {
	surface, _ := newSurface(t)
	reader := transcript.NewWithDir(t.TempDir())

	_, err := surface.GetTranscript(context.Background(), reader, "nope", 0)
	requireKind(t, err, tools.KindNotFound)
}
