package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const runColumns = `id, task_id, step_id, started_at, completed_at, exit_code, error`

func scanRun(scanner interface{ Scan(...any) error }) (*AgentRun, error) {
	var r AgentRun
	err := scanner.Scan(&r.ID, &r.TaskID, &r.StepID, &r.StartedAt, &r.CompletedAt, &r.ExitCode, &r.Error)
	return &r, err
}

// InsertRun opens a new agent run row.
func InsertRun(ctx context.Context, q Querier, r *AgentRun) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO agent_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.StepID, r.StartedAt, r.CompletedAt, r.ExitCode, r.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting agent run: %w", err)
	}
	return nil
}

// CloseRun records a run's outcome. Pass a nil errMsg on clean exits.
func CloseRun(ctx context.Context, q Querier, runID string, completedAt string, exitCode int, errMsg *string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE agent_runs SET completed_at = ?, exit_code = ?, error = ? WHERE id = ?`,
		completedAt, exitCode, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("closing agent run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing agent run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("agent run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetActiveRun returns the task's open run, or ErrNotFound when none exists.
func GetActiveRun(ctx context.Context, q Querier, taskID string) (*AgentRun, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM agent_runs WHERE task_id = ? AND completed_at IS NULL`,
		taskID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active run for task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting active run: %w", err)
	}
	return r, nil
}

// CountActiveRuns returns the number of open runs across all tasks.
func CountActiveRuns(ctx context.Context, q Querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_runs WHERE completed_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active runs: %w", err)
	}
	return n, nil
}

// ListTaskRuns returns a task's run history, most recent first.
func ListTaskRuns(ctx context.Context, q Querier, taskID string) ([]*AgentRun, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+runColumns+` FROM agent_runs WHERE task_id = ? ORDER BY started_at DESC, rowid DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*AgentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
