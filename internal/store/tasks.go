package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const taskColumns = `id, project_id, parent_task_id, title, description, step_id, cancelled, type,
	plan_approved, output, worktree_path, branch, session_id, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	err := scanner.Scan(
		&t.ID, &t.ProjectID, &t.ParentTaskID, &t.Title, &t.Description,
		&t.StepID, &t.Cancelled, &t.Type, &t.PlanApproved, &t.Output,
		&t.WorktreePath, &t.Branch, &t.SessionID, &t.CreatedAt, &t.UpdatedAt,
	)
	return &t, err
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// InsertTask persists a new task row.
func InsertTask(ctx context.Context, q Querier, t *Task) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.ParentTaskID, t.Title, t.Description,
		t.StepID, t.Cancelled, t.Type, t.PlanApproved, t.Output,
		t.WorktreePath, t.Branch, t.SessionID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func GetTask(ctx context.Context, q Querier, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return t, nil
}

// ListProjectTasks returns all tasks in a project ordered by creation time.
func ListProjectTasks(ctx context.Context, q Querier, projectID string) ([]*Task, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing project tasks: %w", err)
	}
	return collectTasks(rows)
}

// ListChildTasks returns all tasks whose parent is the given task.
func ListChildTasks(ctx context.Context, q Querier, parentID string) ([]*Task, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_task_id = ? ORDER BY created_at`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing child tasks: %w", err)
	}
	return collectTasks(rows)
}

// ListTasksAtStep returns all tasks currently at the given step.
func ListTasksAtStep(ctx context.Context, q Querier, stepID string) ([]*Task, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE step_id = ? ORDER BY created_at`,
		stepID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tasks at step: %w", err)
	}
	return collectTasks(rows)
}

// UpdateTaskStep moves a task to a new step.
func UpdateTaskStep(ctx context.Context, q Querier, taskID, stepID, updatedAt string) error {
	return execTaskUpdate(ctx, q, taskID,
		`UPDATE tasks SET step_id = ?, updated_at = ? WHERE id = ?`,
		stepID, updatedAt, taskID)
}

// UpdateTaskCancelled flips the cancelled flag.
func UpdateTaskCancelled(ctx context.Context, q Querier, taskID string, cancelled bool, updatedAt string) error {
	return execTaskUpdate(ctx, q, taskID,
		`UPDATE tasks SET cancelled = ?, updated_at = ? WHERE id = ?`,
		cancelled, updatedAt, taskID)
}

// UpdateTaskFields updates title and description.
func UpdateTaskFields(ctx context.Context, q Querier, taskID, title, description, updatedAt string) error {
	return execTaskUpdate(ctx, q, taskID,
		`UPDATE tasks SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
		title, description, updatedAt, taskID)
}

// UpdateTaskOutput sets the task's output text.
func UpdateTaskOutput(ctx context.Context, q Querier, taskID, output, updatedAt string) error {
	return execTaskUpdate(ctx, q, taskID,
		`UPDATE tasks SET output = ?, updated_at = ? WHERE id = ?`,
		output, updatedAt, taskID)
}

// UpdateTaskPlanApproved marks a milestone's plan approved.
func UpdateTaskPlanApproved(ctx context.Context, q Querier, taskID, updatedAt string) error {
	return execTaskUpdate(ctx, q, taskID,
		`UPDATE tasks SET plan_approved = 1, updated_at = ? WHERE id = ?`,
		updatedAt, taskID)
}

// UpdateTaskWorktree records the worktree path and branch for a task. Pass
// nils to clear both after cleanup.
func UpdateTaskWorktree(ctx context.Context, q Querier, taskID string, worktreePath, branch *string, updatedAt string) error {
	return execTaskUpdate(ctx, q, taskID,
		`UPDATE tasks SET worktree_path = ?, branch = ?, updated_at = ? WHERE id = ?`,
		worktreePath, branch, updatedAt, taskID)
}

// UpdateTaskSessionID records the captured agent session identifier.
func UpdateTaskSessionID(ctx context.Context, q Querier, taskID, sessionID, updatedAt string) error {
	return execTaskUpdate(ctx, q, taskID,
		`UPDATE tasks SET session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID, updatedAt, taskID)
}

func execTaskUpdate(ctx context.Context, q Querier, taskID, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}
