package trigger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/store"
)

type fakeView struct {
	tasks    map[string]*store.Task
	steps    map[string]*store.WorkflowStep
	terminal int
	active   map[string]bool
	blocked  map[string]bool
	gated    map[string]bool // parent unapproved
	runCount int
}

func newFakeView() *fakeView {
	return &fakeView{
		tasks:   make(map[string]*store.Task),
		steps:   make(map[string]*store.WorkflowStep),
		active:  make(map[string]bool),
		blocked: make(map[string]bool),
		gated:   make(map[string]bool),
	}
}

func (v *fakeView) Task(ctx context.Context, taskID string) (*store.Task, error) {
	task, ok := v.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return task, nil
}

func (v *fakeView) Step(ctx context.Context, stepID string) (*store.WorkflowStep, error) {
	step, ok := v.steps[stepID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return step, nil
}

func (v *fakeView) TerminalPosition(ctx context.Context, projectID string) (int, error) {
	return v.terminal, nil
}

func (v *fakeView) HasActiveRun(ctx context.Context, taskID string) (bool, error) {
	return v.active[taskID], nil
}

func (v *fakeView) ParentApproved(ctx context.Context, taskID string) (bool, error) {
	return !v.gated[taskID], nil
}

func (v *fakeView) IsBlocked(ctx context.Context, taskID string) (bool, error) {
	return v.blocked[taskID], nil
}

func (v *fakeView) ActiveRunCount(ctx context.Context) (int, error) {
	return v.runCount, nil
}

// boardView models {Plan(agent) pos 0, Implement(agent) pos 1, Done pos 2}
// with one task t1 at Plan.
func boardView() *fakeView {
	v := newFakeView()
	plan := "plan"
	implement := "implement"
	v.steps["s-plan"] = &store.WorkflowStep{ID: "s-plan", ProjectID: "p1", Name: "Plan", Position: 0, SystemPrompt: &plan}
	v.steps["s-impl"] = &store.WorkflowStep{ID: "s-impl", ProjectID: "p1", Name: "Implement", Position: 1, SystemPrompt: &implement}
	v.steps["s-done"] = &store.WorkflowStep{ID: "s-done", ProjectID: "p1", Name: "Done", Position: 2}
	v.terminal = 2
	v.tasks["t1"] = &store.Task{ID: "t1", ProjectID: "p1", StepID: "s-plan", Type: store.TaskTypeTask}
	return v
}

func makeEvent(t *testing.T, p events.Payload) *store.Event {
	t.Helper()
	payload, err := events.Marshal(p)
	require.NoError(t, err)
	return &store.Event{
		ID:        uuid.NewString(),
		Type:      string(p.EventType()),
		Payload:   payload,
		CreatedAt: store.FormatTime(store.Now()),
	}
}

func movedTo(t *testing.T, stepID string) *store.Event {
	t.Helper()
	return makeEvent(t, events.TaskMoved{TaskID: "t1", NewStepID: stepID, ProjectID: "p1"})
}

func TestDecide_DispatchOnAgentStepArrival(t *testing.T) {
	view := boardView()
	decision, err := Decide(context.Background(), movedTo(t, "s-plan"), 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbDispatch, decision.Verb)
	require.Equal(t, "t1", decision.TaskID)
}

func TestDecide_TerminalArrivalSchedulesCleanup(t *testing.T) {
	view := boardView()
	decision, err := Decide(context.Background(), movedTo(t, "s-done"), 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbCleanup, decision.Verb)
}

func TestDecide_ActiveRunConsumes(t *testing.T) {
	view := boardView()
	view.active["t1"] = true

	decision, err := Decide(context.Background(), movedTo(t, "s-plan"), 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbConsume, decision.Verb)
}

func TestDecide_UnapprovedParentConsumes(t *testing.T) {
	view := boardView()
	view.gated["t1"] = true

	decision, err := Decide(context.Background(), movedTo(t, "s-plan"), 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbConsume, decision.Verb)
}

func TestDecide_BlockedConsumes(t *testing.T) {
	view := boardView()
	view.blocked["t1"] = true

	decision, err := Decide(context.Background(), movedTo(t, "s-plan"), 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbConsume, decision.Verb)
}

func TestDecide_CapacityLeavesEventForRetry(t *testing.T) {
	view := boardView()
	view.runCount = 3

	decision, err := Decide(context.Background(), movedTo(t, "s-plan"), 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbRetry, decision.Verb)
}

func TestDecide_CancelledTaskConsumes(t *testing.T) {
	view := boardView()
	view.tasks["t1"].Cancelled = true

	decision, err := Decide(context.Background(), movedTo(t, "s-plan"), 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbConsume, decision.Verb)
}

func TestDecide_TaskCreatedUsesCurrentStep(t *testing.T) {
	view := boardView()
	event := makeEvent(t, events.TaskCreated{TaskID: "t1", ProjectID: "p1"})

	decision, err := Decide(context.Background(), event, 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbDispatch, decision.Verb)
}

func TestDecide_TaskCancelledSchedulesCleanup(t *testing.T) {
	view := boardView()
	event := makeEvent(t, events.TaskCancelled{TaskID: "t1"})

	decision, err := Decide(context.Background(), event, 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbCleanup, decision.Verb)
	require.Equal(t, "t1", decision.TaskID)
}

func TestDecide_TaskReadyAdvances(t *testing.T) {
	view := boardView()
	event := makeEvent(t, events.TaskReady{TaskID: "t1", ProjectID: "p1"})

	decision, err := Decide(context.Background(), event, 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbAdvance, decision.Verb)
}

func TestDecide_InertTypesConsume(t *testing.T) {
	view := boardView()
	for _, payload := range []events.Payload{
		events.PlanApproved{TaskID: "t1", ProjectID: "p1"},
		events.MilestoneCompleted{TaskID: "t1", ProjectID: "p1"},
		events.TaskUpdated{TaskID: "t1"},
	} {
		decision, err := Decide(context.Background(), makeEvent(t, payload), 3, view)
		require.NoError(t, err)
		require.Equal(t, VerbConsume, decision.Verb, "type %s", payload.EventType())
	}
}

func TestDecide_MissingTaskConsumes(t *testing.T) {
	view := boardView()
	event := makeEvent(t, events.TaskCreated{TaskID: "ghost", ProjectID: "p1"})

	decision, err := Decide(context.Background(), event, 3, view)
	require.NoError(t, err)
	require.Equal(t, VerbConsume, decision.Verb)
}
