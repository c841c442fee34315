package tools

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/statemachine"
	"github.com/viberelay/relay/internal/store"
)

// CreateTaskParams are the inputs to CreateTask.
type CreateTaskParams struct {
	Title        string
	Description  string
	StepID       string
	ProjectID    string
	ParentTaskID string
	Type         string
}

func validTaskType(t string) bool {
	switch t {
	case store.TaskTypeTask, store.TaskTypeResearch, store.TaskTypeMilestone:
		return true
	}
	return false
}

// CreateTask creates a task at a step and emits task_created.
func (s *Surface) CreateTask(ctx context.Context, p CreateTaskParams) (*store.Task, error) {
	ctx, span := startSpan(ctx, "create_task", attribute.String("project.id", p.ProjectID))
	defer span.End()

	if p.Title == "" {
		return nil, InvalidInputf("title is required")
	}
	if p.Type == "" {
		p.Type = store.TaskTypeTask
	}
	if !validTaskType(p.Type) {
		return nil, InvalidInputf("invalid task type %q", p.Type)
	}

	var task *store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.GetProject(ctx, tx, p.ProjectID); err != nil {
			return err
		}
		step, err := store.GetStep(ctx, tx, p.StepID)
		if err != nil {
			return err
		}
		if step.ProjectID != p.ProjectID {
			return InvalidInputf("step %s belongs to a different project", p.StepID)
		}
		if p.ParentTaskID != "" {
			if _, err := store.GetTask(ctx, tx, p.ParentTaskID); err != nil {
				return err
			}
		}

		now := store.FormatTime(store.Now())
		task = &store.Task{
			ID:          uuid.NewString(),
			ProjectID:   p.ProjectID,
			Title:       p.Title,
			Description: p.Description,
			StepID:      p.StepID,
			Type:        p.Type,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if p.ParentTaskID != "" {
			parentID := p.ParentTaskID
			task.ParentTaskID = &parentID
		}
		if err := store.InsertTask(ctx, tx, task); err != nil {
			return err
		}
		return emit(ctx, tx, events.TaskCreated{TaskID: task.ID, ProjectID: task.ProjectID})
	})
	if err != nil {
		return nil, tagErr(err)
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	log.Info(log.CatTools, "Created task", "task_id", task.ID, "step_id", task.StepID, "type", task.Type)
	return task, nil
}

// UpdateTask updates a task's title and/or description and emits
// task_updated. Nil fields are left unchanged.
func (s *Surface) UpdateTask(ctx context.Context, taskID string, title, description *string) (*store.Task, error) {
	ctx, span := startSpan(ctx, "update_task", attribute.String("task.id", taskID))
	defer span.End()

	if title == nil && description == nil {
		return nil, InvalidInputf("nothing to update")
	}
	if title != nil && *title == "" {
		return nil, InvalidInputf("title cannot be empty")
	}

	var task *store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = store.GetTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if title != nil {
			task.Title = *title
		}
		if description != nil {
			task.Description = *description
		}
		now := store.FormatTime(store.Now())
		if err := store.UpdateTaskFields(ctx, tx, taskID, task.Title, task.Description, now); err != nil {
			return err
		}
		task.UpdatedAt = now
		return emit(ctx, tx, events.TaskUpdated{TaskID: taskID})
	})
	if err != nil {
		return nil, tagErr(err)
	}
	return task, nil
}

// SetTaskOutput records a task's output text and emits task_updated.
// Research tasks use it to surface findings to their siblings.
func (s *Surface) SetTaskOutput(ctx context.Context, taskID, output string) (*store.Task, error) {
	ctx, span := startSpan(ctx, "set_task_output", attribute.String("task.id", taskID))
	defer span.End()

	var task *store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = store.GetTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		now := store.FormatTime(store.Now())
		if err := store.UpdateTaskOutput(ctx, tx, taskID, output, now); err != nil {
			return err
		}
		task.Output = &output
		task.UpdatedAt = now
		return emit(ctx, tx, events.TaskUpdated{TaskID: taskID})
	})
	if err != nil {
		return nil, tagErr(err)
	}
	return task, nil
}

// CancelTask flips a task's cancelled flag on and emits task_cancelled.
func (s *Surface) CancelTask(ctx context.Context, taskID string) (*store.Task, error) {
	return s.setCancelled(ctx, taskID, true)
}

// UncancelTask flips a task's cancelled flag off and emits task_uncancelled.
func (s *Surface) UncancelTask(ctx context.Context, taskID string) (*store.Task, error) {
	return s.setCancelled(ctx, taskID, false)
}

func (s *Surface) setCancelled(ctx context.Context, taskID string, cancelled bool) (*store.Task, error) {
	op := "cancel_task"
	if !cancelled {
		op = "uncancel_task"
	}
	ctx, span := startSpan(ctx, op, attribute.String("task.id", taskID))
	defer span.End()

	var task *store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = store.GetTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if cancelled {
			err = statemachine.ValidateCancel(taskID, task.Cancelled)
		} else {
			err = statemachine.ValidateUncancel(taskID, task.Cancelled)
		}
		if err != nil {
			return err
		}

		now := store.FormatTime(store.Now())
		if err := store.UpdateTaskCancelled(ctx, tx, taskID, cancelled, now); err != nil {
			return err
		}
		task.Cancelled = cancelled
		task.UpdatedAt = now

		if cancelled {
			return emit(ctx, tx, events.TaskCancelled{TaskID: taskID})
		}
		return emit(ctx, tx, events.TaskUncancelled{TaskID: taskID})
	})
	if err != nil {
		return nil, tagErr(err)
	}

	log.Info(log.CatTools, "Toggled task cancellation", "task_id", taskID, "cancelled", cancelled)
	return task, nil
}

// TaskDetail is a task with its step, comments, and run history.
type TaskDetail struct {
	Task     *store.Task         `json:"task"`
	Step     *store.WorkflowStep `json:"step"`
	Comments []*store.Comment    `json:"comments"`
	Runs     []*store.AgentRun   `json:"runs"`
}

// GetTask returns a task enriched with its step, comments, and runs.
func (s *Surface) GetTask(ctx context.Context, taskID string) (*TaskDetail, error) {
	db := s.store.DB()
	task, err := store.GetTask(ctx, db, taskID)
	if err != nil {
		return nil, tagErr(err)
	}
	step, err := store.GetStep(ctx, db, task.StepID)
	if err != nil {
		return nil, tagErr(err)
	}
	comments, err := store.ListTaskComments(ctx, db, taskID)
	if err != nil {
		return nil, err
	}
	runs, err := store.ListTaskRuns(ctx, db, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: task, Step: step, Comments: comments, Runs: runs}, nil
}

// GetMyTasks returns the children of the given task with their steps. Agents
// call it (scoped to their own task id) to review the subtasks they created.
func (s *Surface) GetMyTasks(ctx context.Context, taskID string) ([]*TaskDetail, error) {
	db := s.store.DB()
	if _, err := store.GetTask(ctx, db, taskID); err != nil {
		return nil, tagErr(err)
	}
	children, err := store.ListChildTasks(ctx, db, taskID)
	if err != nil {
		return nil, err
	}

	details := make([]*TaskDetail, 0, len(children))
	for _, child := range children {
		step, err := store.GetStep(ctx, db, child.StepID)
		if err != nil {
			return nil, tagErr(err)
		}
		details = append(details, &TaskDetail{Task: child, Step: step})
	}
	return details, nil
}
