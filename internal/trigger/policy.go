package trigger

import (
	"context"
	"fmt"

	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/store"
)

// View is the read-only snapshot the policy decides against. Implementations
// answer from the store; tests substitute fixtures.
type View interface {
	Task(ctx context.Context, taskID string) (*store.Task, error)
	Step(ctx context.Context, stepID string) (*store.WorkflowStep, error)
	TerminalPosition(ctx context.Context, projectID string) (int, error)
	HasActiveRun(ctx context.Context, taskID string) (bool, error)
	ParentApproved(ctx context.Context, taskID string) (bool, error)
	IsBlocked(ctx context.Context, taskID string) (bool, error)
	ActiveRunCount(ctx context.Context) (int, error)
}

// Verb is what the processor should do with an event.
type Verb int

const (
	// VerbConsume marks the event consumed with no further action.
	VerbConsume Verb = iota
	// VerbDispatch consumes the event and spawns a runner for the task.
	VerbDispatch
	// VerbCleanup consumes the event and schedules worktree removal.
	VerbCleanup
	// VerbAdvance consumes the event and moves the task to the next agent
	// step; the resulting task_moved event drives the dispatch.
	VerbAdvance
	// VerbRetry leaves the event unconsumed so the next tick retries it.
	// Used only for global-capacity backpressure.
	VerbRetry
)

// Decision pairs a verb with the task it applies to.
type Decision struct {
	Verb   Verb
	TaskID string
}

func consume() Decision               { return Decision{Verb: VerbConsume} }
func dispatch(taskID string) Decision { return Decision{Verb: VerbDispatch, TaskID: taskID} }
func cleanup(taskID string) Decision  { return Decision{Verb: VerbCleanup, TaskID: taskID} }
func advance(taskID string) Decision  { return Decision{Verb: VerbAdvance, TaskID: taskID} }
func retry(taskID string) Decision    { return Decision{Verb: VerbRetry, TaskID: taskID} }

// Decide maps one unconsumed event to a decision. It is a pure function of
// the event and the view; enactment happens downstream in the processor.
func Decide(ctx context.Context, event *store.Event, maxParallel int, view View) (Decision, error) {
	payload, err := events.Decode(string(event.Type), event.Payload)
	if err != nil {
		return consume(), fmt.Errorf("decoding event %s: %w", event.ID, err)
	}

	switch p := payload.(type) {
	case *events.TaskMoved:
		return decideArrival(ctx, p.TaskID, p.NewStepID, maxParallel, view)
	case *events.TaskCreated:
		task, err := view.Task(ctx, p.TaskID)
		if err != nil {
			// Task vanished between emit and tick; nothing to do.
			return consume(), nil
		}
		return decideArrival(ctx, task.ID, task.StepID, maxParallel, view)
	case *events.TaskCancelled:
		return cleanup(p.TaskID), nil
	case *events.TaskReady:
		return advance(p.TaskID), nil
	default:
		// plan_approved, milestone_completed, task_updated,
		// orchestrator_trigger: downstream effects were emitted
		// synchronously by the tool that ran.
		return consume(), nil
	}
}

// decideArrival handles a task arriving at a step, by creation or by move.
// Agent steps gate a dispatch; the terminal step schedules cleanup.
func decideArrival(ctx context.Context, taskID, stepID string, maxParallel int, view View) (Decision, error) {
	step, err := view.Step(ctx, stepID)
	if err != nil {
		return consume(), err
	}

	if step.IsAgentStep() {
		return decideDispatch(ctx, taskID, maxParallel, view)
	}

	terminal, err := view.TerminalPosition(ctx, step.ProjectID)
	if err != nil {
		return consume(), err
	}
	if step.Position == terminal {
		return cleanup(taskID), nil
	}
	return consume(), nil
}

// decideDispatch applies the dispatch gate. Every failed condition consumes
// the event except global capacity, which leaves it for the next tick.
func decideDispatch(ctx context.Context, taskID string, maxParallel int, view View) (Decision, error) {
	task, err := view.Task(ctx, taskID)
	if err != nil {
		return consume(), nil
	}
	if task.Cancelled {
		return consume(), nil
	}

	active, err := view.HasActiveRun(ctx, taskID)
	if err != nil {
		return consume(), err
	}
	if active {
		return consume(), nil
	}

	approved, err := view.ParentApproved(ctx, taskID)
	if err != nil {
		return consume(), err
	}
	if !approved {
		return consume(), nil
	}

	blocked, err := view.IsBlocked(ctx, taskID)
	if err != nil {
		return consume(), err
	}
	if blocked {
		return consume(), nil
	}

	count, err := view.ActiveRunCount(ctx)
	if err != nil {
		return consume(), err
	}
	if count >= maxParallel {
		return retry(taskID), nil
	}

	return dispatch(taskID), nil
}
