package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const stepColumns = `id, project_id, name, position, system_prompt, model, color, created_at`

func scanStep(scanner interface{ Scan(...any) error }) (*WorkflowStep, error) {
	var s WorkflowStep
	err := scanner.Scan(
		&s.ID, &s.ProjectID, &s.Name, &s.Position,
		&s.SystemPrompt, &s.Model, &s.Color, &s.CreatedAt,
	)
	return &s, err
}

// InsertStep persists a new workflow step row.
func InsertStep(ctx context.Context, q Querier, s *WorkflowStep) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO workflow_steps (`+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, s.Name, s.Position, s.SystemPrompt, s.Model, s.Color, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting workflow step: %w", err)
	}
	return nil
}

// GetStep retrieves a workflow step by id.
func GetStep(ctx context.Context, q Querier, id string) (*WorkflowStep, error) {
	row := q.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE id = ?`, id)
	s, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow step %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow step: %w", err)
	}
	return s, nil
}

// ListSteps returns a project's steps ordered by position.
func ListSteps(ctx context.Context, q Querier, projectID string) ([]*WorkflowStep, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE project_id = ? ORDER BY position`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []*WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// GetStepAtPosition retrieves the step at a given position within a project.
func GetStepAtPosition(ctx context.Context, q Querier, projectID string, position int) (*WorkflowStep, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE project_id = ? AND position = ?`,
		projectID, position,
	)
	s, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("step at position %d in project %s: %w", position, projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting step at position: %w", err)
	}
	return s, nil
}

// TerminalPosition returns the max step position for a project.
func TerminalPosition(ctx context.Context, q Querier, projectID string) (int, error) {
	var pos sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT MAX(position) FROM workflow_steps WHERE project_id = ?`,
		projectID,
	).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("getting terminal position: %w", err)
	}
	if !pos.Valid {
		return 0, fmt.Errorf("project %s has no steps: %w", projectID, ErrNotFound)
	}
	return int(pos.Int64), nil
}

// FirstAgentStep returns the lowest-positioned step with a system prompt, or
// ErrNotFound if the project has none.
func FirstAgentStep(ctx context.Context, q Querier, projectID string) (*WorkflowStep, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps
		 WHERE project_id = ? AND system_prompt IS NOT NULL AND system_prompt <> ''
		 ORDER BY position LIMIT 1`,
		projectID,
	)
	s, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no agent step in project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting first agent step: %w", err)
	}
	return s, nil
}

// NextAgentStepAfter returns the lowest-positioned agent step strictly after
// the given position, or ErrNotFound when none remains.
func NextAgentStepAfter(ctx context.Context, q Querier, projectID string, position int) (*WorkflowStep, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps
		 WHERE project_id = ? AND position > ? AND system_prompt IS NOT NULL AND system_prompt <> ''
		 ORDER BY position LIMIT 1`,
		projectID, position,
	)
	s, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no agent step after position %d in project %s: %w", position, projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting next agent step: %w", err)
	}
	return s, nil
}
