package tools

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/store"
)

// CreateWorkflowSteps creates a project's ordered step sequence. Positions
// are assigned densely from 0 in list order.
func (s *Surface) CreateWorkflowSteps(ctx context.Context, projectID string, defs []config.StepDef) ([]*store.WorkflowStep, error) {
	ctx, span := startSpan(ctx, "create_workflow_steps")
	defer span.End()

	if len(defs) == 0 {
		return nil, InvalidInputf("at least one step definition is required")
	}
	for i, def := range defs {
		if def.Name == "" {
			return nil, InvalidInputf("step definition %d is missing a name", i)
		}
	}

	var steps []*store.WorkflowStep
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.GetProject(ctx, tx, projectID); err != nil {
			return err
		}

		now := store.FormatTime(store.Now())
		for i, def := range defs {
			step := &store.WorkflowStep{
				ID:        uuid.NewString(),
				ProjectID: projectID,
				Name:      def.Name,
				Position:  i,
				CreatedAt: now,
			}
			if def.SystemPrompt != "" {
				prompt := def.SystemPrompt
				step.SystemPrompt = &prompt
			}
			if def.Model != "" {
				model := def.Model
				step.Model = &model
			}
			if def.Color != "" {
				color := def.Color
				step.Color = &color
			}
			if err := store.InsertStep(ctx, tx, step); err != nil {
				return err
			}
			steps = append(steps, step)
		}
		return nil
	})
	if err != nil {
		return nil, tagErr(err)
	}
	return steps, nil
}

// GetWorkflowSteps returns a project's steps ordered by position.
func (s *Surface) GetWorkflowSteps(ctx context.Context, projectID string) ([]*store.WorkflowStep, error) {
	db := s.store.DB()
	if _, err := store.GetProject(ctx, db, projectID); err != nil {
		return nil, tagErr(err)
	}
	steps, err := store.ListSteps(ctx, db, projectID)
	if err != nil {
		return nil, err
	}
	return steps, nil
}
