package broadcast_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viberelay/relay/internal/broadcast"
	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/pubsub"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/testutil"
	"github.com/viberelay/relay/internal/tools"
)

func setup(t *testing.T) (*broadcast.Broadcaster, *tools.Surface, *store.Store) {
	t.Helper()
	s := testutil.NewTestStore(t)
	cfg := config.Defaults()
	cfg.RepoPath = "/repo"
	surface := tools.New(s, cfg, nil)
	return broadcast.New(s, nil), surface, s
}

func collect(ch <-chan pubsub.Event[broadcast.Message], n int, timeout time.Duration) []pubsub.Event[broadcast.Message] {
	var got []pubsub.Event[broadcast.Message]
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case event, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, event)
		case <-deadline:
			return got
		}
	}
	return got
}

func TestFlush_DeliversEnrichedEvents(t *testing.T) {
	b, surface, s := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx)

	project, err := surface.CreateProject(ctx, tools.CreateProjectParams{Title: "P"})
	require.NoError(t, err)
	steps, err := surface.CreateWorkflowSteps(ctx, project.ID, []config.StepDef{
		{Name: "Plan", SystemPrompt: "plan"}, {Name: "Done"},
	})
	require.NoError(t, err)
	task, err := surface.CreateTask(ctx, tools.CreateTaskParams{
		Title: "T", StepID: steps[0].ID, ProjectID: project.ID,
	})
	require.NoError(t, err)

	b.Flush(ctx)

	// project_created + task_created.
	got := collect(sub, 2, time.Second)
	require.Len(t, got, 2)

	require.Equal(t, pubsub.EventType(events.TypeProjectCreated), got[0].Type)
	require.NotNil(t, got[0].Payload.Project)
	require.Equal(t, project.ID, got[0].Payload.Project.ID)

	require.Equal(t, pubsub.EventType(events.TypeTaskCreated), got[1].Type)
	require.NotNil(t, got[1].Payload.Task)
	require.Equal(t, task.ID, got[1].Payload.Task.ID)

	// The cursor advanced.
	rows, err := store.UnconsumedForBroadcast(ctx, s.DB())
	require.NoError(t, err)
	require.Empty(t, rows)

	// A second flush delivers nothing.
	b.Flush(ctx)
	require.Empty(t, collect(sub, 1, 100*time.Millisecond))
}

func TestFlush_CommentEnrichment(t *testing.T) {
	b, surface, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	project, err := surface.CreateProject(ctx, tools.CreateProjectParams{Title: "P"})
	require.NoError(t, err)
	steps, err := surface.CreateWorkflowSteps(ctx, project.ID, []config.StepDef{{Name: "Plan", SystemPrompt: "p"}})
	require.NoError(t, err)
	task, err := surface.CreateTask(ctx, tools.CreateTaskParams{
		Title: "T", StepID: steps[0].ID, ProjectID: project.ID,
	})
	require.NoError(t, err)
	comment, err := surface.AddComment(ctx, task.ID, "hello", "reviewer")
	require.NoError(t, err)

	sub := b.Subscribe(ctx)
	b.Flush(ctx)

	got := collect(sub, 3, time.Second)
	require.Len(t, got, 3)
	last := got[2].Payload
	require.Equal(t, events.TypeCommentAdded, last.Type)
	require.NotNil(t, last.Comment)
	require.Equal(t, comment.ID, last.Comment.ID)
	require.NotNil(t, last.Task)
}

func TestFlush_IndependentOfTriggerCursor(t *testing.T) {
	b, surface, s := setup(t)
	ctx := context.Background()

	_, err := surface.CreateProject(ctx, tools.CreateProjectParams{Title: "P"})
	require.NoError(t, err)

	// Consume for the trigger first; the broadcaster cursor is unaffected.
	rows, err := store.UnconsumedForTrigger(ctx, s.DB(), []string{string(events.TypeProjectCreated)})
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, store.MarkTriggerConsumed(ctx, s.DB(), row.ID))
	}

	pending, err := store.UnconsumedForBroadcast(ctx, s.DB())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	b.Flush(ctx)
	pending, err = store.UnconsumedForBroadcast(ctx, s.DB())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRun_WakeChannelTriggersFlush(t *testing.T) {
	s := testutil.NewTestStore(t)
	cfg := config.Defaults()
	cfg.RepoPath = "/repo"
	surface := tools.New(s, cfg, nil)

	wake := make(chan struct{}, 1)
	b := broadcast.New(s, wake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	go b.Run(ctx)

	_, err := surface.CreateProject(ctx, tools.CreateProjectParams{Title: "P"})
	require.NoError(t, err)
	wake <- struct{}{}

	got := collect(sub, 1, 2*time.Second)
	require.Len(t, got, 1)
	require.Equal(t, pubsub.EventType(events.TypeProjectCreated), got[0].Type)
}
