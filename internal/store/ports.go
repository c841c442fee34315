package store

import (
	"context"
	"fmt"
)

// AllocatePort reserves the first free port in [start, end] for a task.
// Returns ErrNotFound when the range is exhausted.
func AllocatePort(ctx context.Context, q Querier, taskID string, start, end int, allocatedAt string) (int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT port FROM ports WHERE port BETWEEN ? AND ? ORDER BY port`,
		start, end,
	)
	if err != nil {
		return 0, fmt.Errorf("reading allocated ports: %w", err)
	}
	defer rows.Close()

	taken := make(map[int]bool)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return 0, fmt.Errorf("scanning port: %w", err)
		}
		taken[p] = true
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading allocated ports: %w", err)
	}

	for port := start; port <= end; port++ {
		if taken[port] {
			continue
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO ports (port, task_id, allocated_at) VALUES (?, ?, ?)`,
			port, taskID, allocatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("allocating port %d: %w", port, err)
		}
		return port, nil
	}
	return 0, fmt.Errorf("no free port in [%d, %d]: %w", start, end, ErrNotFound)
}

// ReleasePorts frees every port held by the task, returning the count.
func ReleasePorts(ctx context.Context, q Querier, taskID string) (int, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM ports WHERE task_id = ?`, taskID)
	if err != nil {
		return 0, fmt.Errorf("releasing ports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("releasing ports: %w", err)
	}
	return int(n), nil
}

// ListTaskPorts returns the ports held by a task in ascending order.
func ListTaskPorts(ctx context.Context, q Querier, taskID string) ([]int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT port FROM ports WHERE task_id = ? ORDER BY port`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing task ports: %w", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning port: %w", err)
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}
