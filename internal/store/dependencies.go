package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const dependencyColumns = `id, predecessor_id, successor_id, created_at`

func scanDependency(scanner interface{ Scan(...any) error }) (*TaskDependency, error) {
	var d TaskDependency
	err := scanner.Scan(&d.ID, &d.PredecessorID, &d.SuccessorID, &d.CreatedAt)
	return &d, err
}

// InsertDependency persists a new dependency edge.
func InsertDependency(ctx context.Context, q Querier, d *TaskDependency) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO task_dependencies (`+dependencyColumns+`) VALUES (?, ?, ?, ?)`,
		d.ID, d.PredecessorID, d.SuccessorID, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting dependency: %w", err)
	}
	return nil
}

// DeleteDependency removes an edge by predecessor and successor, returning
// the deleted row.
func DeleteDependency(ctx context.Context, q Querier, predecessorID, successorID string) (*TaskDependency, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+dependencyColumns+` FROM task_dependencies WHERE predecessor_id = ? AND successor_id = ?`,
		predecessorID, successorID,
	)
	d, err := scanDependency(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dependency %s -> %s: %w", predecessorID, successorID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting dependency: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM task_dependencies WHERE id = ?`, d.ID); err != nil {
		return nil, fmt.Errorf("deleting dependency: %w", err)
	}
	return d, nil
}

// DependencyExists reports whether the exact edge is already present.
func DependencyExists(ctx context.Context, q Querier, predecessorID, successorID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_dependencies WHERE predecessor_id = ? AND successor_id = ?`,
		predecessorID, successorID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking dependency: %w", err)
	}
	return n > 0, nil
}

// ListPredecessors returns the tasks the given task depends on.
func ListPredecessors(ctx context.Context, q Querier, taskID string) ([]string, error) {
	return listEdgeEnds(ctx, q,
		`SELECT predecessor_id FROM task_dependencies WHERE successor_id = ?`, taskID)
}

// ListSuccessors returns the tasks depending on the given task.
func ListSuccessors(ctx context.Context, q Querier, taskID string) ([]string, error) {
	return listEdgeEnds(ctx, q,
		`SELECT successor_id FROM task_dependencies WHERE predecessor_id = ?`, taskID)
}

func listEdgeEnds(ctx context.Context, q Querier, query, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing dependency edges: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning dependency edge: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
