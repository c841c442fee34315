package tools

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/viberelay/relay/internal/depgraph"
	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/statemachine"
	"github.com/viberelay/relay/internal/store"
)

func movedPayload(task *store.Task, from, to *store.WorkflowStep) events.TaskMoved {
	direction := events.DirectionForward
	if to.Position < from.Position {
		direction = events.DirectionBackward
	}
	return events.TaskMoved{
		TaskID:       task.ID,
		OldStepID:    from.ID,
		NewStepID:    to.ID,
		ProjectID:    task.ProjectID,
		FromStepName: from.Name,
		ToStepName:   to.Name,
		FromPosition: from.Position,
		ToPosition:   to.Position,
		Direction:    direction,
	}
}

// MoveTask moves a task to another step after state-machine validation and
// emits task_moved.
func (s *Surface) MoveTask(ctx context.Context, taskID, targetStepID string) (*store.Task, error) {
	ctx, span := startSpan(ctx, "move_task",
		attribute.String("task.id", taskID),
		attribute.String("step.id", targetStepID))
	defer span.End()

	var task *store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = store.GetTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		target, err := store.GetStep(ctx, tx, targetStepID)
		if err != nil {
			return err
		}
		current, err := store.GetStep(ctx, tx, task.StepID)
		if err != nil {
			return err
		}

		if err := statemachine.ValidateMove(statemachine.Move{
			TaskID:        taskID,
			Cancelled:     task.Cancelled,
			FromProjectID: current.ProjectID,
			ToProjectID:   target.ProjectID,
			FromPosition:  current.Position,
			ToPosition:    target.Position,
		}); err != nil {
			return err
		}

		now := store.FormatTime(store.Now())
		if err := store.UpdateTaskStep(ctx, tx, taskID, targetStepID, now); err != nil {
			return err
		}
		task.StepID = targetStepID
		task.UpdatedAt = now
		return emit(ctx, tx, movedPayload(task, current, target))
	})
	if err != nil {
		return nil, tagErr(err)
	}

	log.Info(log.CatTools, "Moved task", "task_id", taskID, "step_id", targetStepID)
	return task, nil
}

// CompleteTask walks a task directly to the terminal step, emits task_moved,
// then propagates: task_ready for each unblocked successor, and the
// sibling-completion check that may advance the parent milestone.
func (s *Surface) CompleteTask(ctx context.Context, taskID string) (*store.Task, error) {
	ctx, span := startSpan(ctx, "complete_task", attribute.String("task.id", taskID))
	defer span.End()

	var task *store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = store.GetTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Cancelled {
			return InvalidTransitionf("task %s is cancelled", taskID)
		}

		current, err := store.GetStep(ctx, tx, task.StepID)
		if err != nil {
			return err
		}
		terminal, err := store.TerminalPosition(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}
		if current.Position == terminal {
			return InvalidTransitionf("task %s is already at the terminal step", taskID)
		}
		terminalStep, err := store.GetStepAtPosition(ctx, tx, task.ProjectID, terminal)
		if err != nil {
			return err
		}

		now := store.FormatTime(store.Now())
		if err := store.UpdateTaskStep(ctx, tx, taskID, terminalStep.ID, now); err != nil {
			return err
		}
		task.StepID = terminalStep.ID
		task.UpdatedAt = now
		if err := emit(ctx, tx, movedPayload(task, current, terminalStep)); err != nil {
			return err
		}

		if err := s.cascadeUnblock(ctx, tx, task); err != nil {
			return err
		}
		return s.checkSiblingCompletion(ctx, tx, task)
	})
	if err != nil {
		return nil, tagErr(err)
	}

	log.Info(log.CatTools, "Completed task", "task_id", taskID)
	return task, nil
}

// AdvanceToNextAgentStep moves a task directly to the next agent step after
// its current position, emitting task_moved. Used by the trigger processor
// when a task becomes ready. Returns false without error when no agent step
// remains ahead of the task.
func (s *Surface) AdvanceToNextAgentStep(ctx context.Context, taskID string) (*store.Task, bool, error) {
	ctx, span := startSpan(ctx, "advance_to_next_agent_step", attribute.String("task.id", taskID))
	defer span.End()

	advanced := false
	var task *store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = store.GetTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Cancelled {
			return nil
		}
		current, err := store.GetStep(ctx, tx, task.StepID)
		if err != nil {
			return err
		}
		next, err := store.NextAgentStepAfter(ctx, tx, task.ProjectID, current.Position)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := store.FormatTime(store.Now())
		if err := store.UpdateTaskStep(ctx, tx, taskID, next.ID, now); err != nil {
			return err
		}
		task.StepID = next.ID
		task.UpdatedAt = now
		advanced = true
		return emit(ctx, tx, movedPayload(task, current, next))
	})
	if err != nil {
		return nil, false, tagErr(err)
	}
	if advanced {
		log.Info(log.CatTools, "Advanced ready task to agent step", "task_id", taskID, "step_id", task.StepID)
	}
	return task, advanced, nil
}

// cascadeUnblock emits task_ready for every successor of done that is now
// unblocked, ungated, and not cancelled.
func (s *Surface) cascadeUnblock(ctx context.Context, tx *sql.Tx, done *store.Task) error {
	ready, err := depgraph.ReadySuccessors(ctx, tx, done.ID)
	if err != nil {
		return err
	}
	for _, task := range ready {
		if err := emit(ctx, tx, events.TaskReady{TaskID: task.ID, ProjectID: task.ProjectID}); err != nil {
			return err
		}
		log.Debug(log.CatTools, "Task unblocked", "task_id", task.ID, "completed_predecessor", done.ID)
	}
	return nil
}

// checkSiblingCompletion advances the parent one step when every
// non-cancelled sibling of the completed task sits at the terminal step.
// When the advance lands the parent at terminal, it emits
// milestone_completed, cascades unblock, and recurses upward.
func (s *Surface) checkSiblingCompletion(ctx context.Context, tx *sql.Tx, task *store.Task) error {
	if task.ParentTaskID == nil {
		return nil
	}
	parent, err := store.GetTask(ctx, tx, *task.ParentTaskID)
	if err != nil {
		return err
	}
	if parent.Cancelled {
		return nil
	}

	terminal, err := store.TerminalPosition(ctx, tx, parent.ProjectID)
	if err != nil {
		return err
	}
	children, err := store.ListChildTasks(ctx, tx, parent.ID)
	if err != nil {
		return err
	}

	remaining := 0
	for _, child := range children {
		if child.Cancelled {
			continue
		}
		step, err := store.GetStep(ctx, tx, child.StepID)
		if err != nil {
			return err
		}
		if step.Position != terminal {
			return nil // Still-open sibling; nothing to advance.
		}
		remaining++
	}
	if remaining == 0 {
		return nil // All children cancelled; cancellation does not advance the parent.
	}

	parentStep, err := store.GetStep(ctx, tx, parent.StepID)
	if err != nil {
		return err
	}
	if parentStep.Position >= terminal {
		return nil
	}
	nextStep, err := store.GetStepAtPosition(ctx, tx, parent.ProjectID, parentStep.Position+1)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := store.FormatTime(store.Now())
	if err := store.UpdateTaskStep(ctx, tx, parent.ID, nextStep.ID, now); err != nil {
		return err
	}
	parent.StepID = nextStep.ID
	parent.UpdatedAt = now
	if err := emit(ctx, tx, movedPayload(parent, parentStep, nextStep)); err != nil {
		return err
	}
	log.Info(log.CatTools, "Advanced parent after sibling completion",
		"parent_id", parent.ID, "step_id", nextStep.ID)

	if nextStep.Position == terminal {
		if err := emit(ctx, tx, events.MilestoneCompleted{TaskID: parent.ID, ProjectID: parent.ProjectID}); err != nil {
			return err
		}
		if err := s.cascadeUnblock(ctx, tx, parent); err != nil {
			return err
		}
		return s.checkSiblingCompletion(ctx, tx, parent)
	}
	return nil
}
