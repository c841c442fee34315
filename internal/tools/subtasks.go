package tools

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/store"
)

// SubtaskSpec defines one child task in a CreateSubtasks batch.
type SubtaskSpec struct {
	Title       string
	Description string
	StepID      string // empty uses the batch default
	Type        string // empty defaults to "task"
}

// CreateSubtasksParams are the inputs to CreateSubtasks.
type CreateSubtasksParams struct {
	ParentTaskID  string
	Specs         []SubtaskSpec
	DefaultStepID string
	// Dependencies are intra-batch edges by list index:
	// {predecessor index, successor index}.
	Dependencies [][2]int
	// CascadeDepsFrom makes every existing successor of the named task
	// additionally depend on every created child.
	CascadeDepsFrom string
}

// CreateSubtasks creates a batch of children under a parent task. All edges
// (intra-batch and cascaded) are inserted before any task_created event is
// written so the trigger processor never sees a child without its gates.
// Emits one subtasks_created plus one task_created per child.
func (s *Surface) CreateSubtasks(ctx context.Context, p CreateSubtasksParams) ([]*store.Task, error) {
	ctx, span := startSpan(ctx, "create_subtasks", attribute.String("task.id", p.ParentTaskID))
	defer span.End()

	if len(p.Specs) == 0 {
		return nil, InvalidInputf("at least one subtask spec is required")
	}
	for i, spec := range p.Specs {
		if spec.Title == "" {
			return nil, InvalidInputf("subtask %d is missing a title", i)
		}
		if spec.Type != "" && !validTaskType(spec.Type) {
			return nil, InvalidInputf("subtask %d has invalid type %q", i, spec.Type)
		}
	}
	for _, edge := range p.Dependencies {
		for _, idx := range edge {
			if idx < 0 || idx >= len(p.Specs) {
				return nil, InvalidInputf("dependency index %d is out of range", idx)
			}
		}
		if edge[0] == edge[1] {
			return nil, InvalidInputf("subtask %d cannot depend on itself", edge[0])
		}
	}

	var created []*store.Task
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		parent, err := store.GetTask(ctx, tx, p.ParentTaskID)
		if err != nil {
			return err
		}

		defaultStep, err := s.resolveDefaultStep(ctx, tx, parent, p.DefaultStepID)
		if err != nil {
			return err
		}

		now := store.FormatTime(store.Now())
		created = make([]*store.Task, 0, len(p.Specs))
		for _, spec := range p.Specs {
			stepID := defaultStep.ID
			if spec.StepID != "" {
				step, err := store.GetStep(ctx, tx, spec.StepID)
				if err != nil {
					return err
				}
				if step.ProjectID != parent.ProjectID {
					return InvalidInputf("step %s belongs to a different project", spec.StepID)
				}
				stepID = spec.StepID
			}
			taskType := spec.Type
			if taskType == "" {
				taskType = store.TaskTypeTask
			}

			parentID := parent.ID
			task := &store.Task{
				ID:           uuid.NewString(),
				ProjectID:    parent.ProjectID,
				ParentTaskID: &parentID,
				Title:        spec.Title,
				Description:  spec.Description,
				StepID:       stepID,
				Type:         taskType,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := store.InsertTask(ctx, tx, task); err != nil {
				return err
			}
			created = append(created, task)
		}

		// Edges first, events after.
		for _, edge := range p.Dependencies {
			if err := store.InsertDependency(ctx, tx, &store.TaskDependency{
				ID:            uuid.NewString(),
				PredecessorID: created[edge[0]].ID,
				SuccessorID:   created[edge[1]].ID,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
		if p.CascadeDepsFrom != "" {
			if err := s.cascadeDeps(ctx, tx, p.CascadeDepsFrom, created, now); err != nil {
				return err
			}
		}

		taskIDs := make([]string, len(created))
		for i, task := range created {
			taskIDs[i] = task.ID
		}
		if err := emit(ctx, tx, events.SubtasksCreated{ParentTaskID: parent.ID, TaskIDs: taskIDs}); err != nil {
			return err
		}
		for _, task := range created {
			if err := emit(ctx, tx, events.TaskCreated{TaskID: task.ID, ProjectID: task.ProjectID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, tagErr(err)
	}

	log.Info(log.CatTools, "Created subtasks", "parent_id", p.ParentTaskID, "count", len(created))
	return created, nil
}

// resolveDefaultStep picks the step children land on when a spec omits one:
// the explicit default, else the parent's next step, else (parent at
// terminal) the project's first agent step.
func (s *Surface) resolveDefaultStep(ctx context.Context, tx *sql.Tx, parent *store.Task, defaultStepID string) (*store.WorkflowStep, error) {
	if defaultStepID != "" {
		step, err := store.GetStep(ctx, tx, defaultStepID)
		if err != nil {
			return nil, err
		}
		if step.ProjectID != parent.ProjectID {
			return nil, InvalidInputf("step %s belongs to a different project", defaultStepID)
		}
		return step, nil
	}

	parentStep, err := store.GetStep(ctx, tx, parent.StepID)
	if err != nil {
		return nil, err
	}
	terminal, err := store.TerminalPosition(ctx, tx, parent.ProjectID)
	if err != nil {
		return nil, err
	}
	if parentStep.Position >= terminal {
		first, err := store.FirstAgentStep(ctx, tx, parent.ProjectID)
		if errors.Is(err, store.ErrNotFound) {
			return parentStep, nil
		}
		return first, err
	}
	return store.GetStepAtPosition(ctx, tx, parent.ProjectID, parentStep.Position+1)
}

// cascadeDeps makes every existing successor of fromTaskID depend on every
// created child.
func (s *Surface) cascadeDeps(ctx context.Context, tx *sql.Tx, fromTaskID string, created []*store.Task, now string) error {
	if _, err := store.GetTask(ctx, tx, fromTaskID); err != nil {
		return err
	}
	successorIDs, err := store.ListSuccessors(ctx, tx, fromTaskID)
	if err != nil {
		return err
	}
	for _, succID := range successorIDs {
		for _, child := range created {
			exists, err := store.DependencyExists(ctx, tx, child.ID, succID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := store.InsertDependency(ctx, tx, &store.TaskDependency{
				ID:            uuid.NewString(),
				PredecessorID: child.ID,
				SuccessorID:   succID,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
