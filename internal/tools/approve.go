package tools

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel/attribute"

	"github.com/viberelay/relay/internal/depgraph"
	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/store"
)

// ApprovePlan approves a milestone's plan, emitting plan_approved plus a
// task_ready per child that is not blocked and not cancelled. Only
// milestones with at least one child can be approved, and only once.
func (s *Surface) ApprovePlan(ctx context.Context, taskID string) (*store.Task, error) {
	ctx, span := startSpan(ctx, "approve_plan", attribute.String("task.id", taskID))
	defer span.End()

	var task *store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = store.GetTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Type != store.TaskTypeMilestone {
			return InvalidInputf("task %s is not a milestone", taskID)
		}
		if task.PlanApproved {
			return InvalidInputf("milestone %s is already approved", taskID)
		}

		children, err := store.ListChildTasks(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return InvalidInputf("milestone %s has no children to approve", taskID)
		}

		now := store.FormatTime(store.Now())
		if err := store.UpdateTaskPlanApproved(ctx, tx, taskID, now); err != nil {
			return err
		}
		task.PlanApproved = true
		task.UpdatedAt = now

		if err := emit(ctx, tx, events.PlanApproved{TaskID: taskID, ProjectID: task.ProjectID}); err != nil {
			return err
		}

		for _, child := range children {
			if child.Cancelled {
				continue
			}
			blocked, err := depgraph.IsBlocked(ctx, tx, child.ID)
			if err != nil {
				return err
			}
			if blocked {
				continue
			}
			if err := emit(ctx, tx, events.TaskReady{TaskID: child.ID, ProjectID: child.ProjectID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, tagErr(err)
	}

	log.Info(log.CatTools, "Approved plan", "task_id", taskID)
	return task, nil
}
