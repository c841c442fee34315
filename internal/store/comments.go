package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const commentColumns = `id, task_id, author_role, content, created_at`

func scanComment(scanner interface{ Scan(...any) error }) (*Comment, error) {
	var c Comment
	err := scanner.Scan(&c.ID, &c.TaskID, &c.AuthorRole, &c.Content, &c.CreatedAt)
	return &c, err
}

// InsertComment persists a new comment row. Comments are append-only.
func InsertComment(ctx context.Context, q Querier, c *Comment) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO comments (`+commentColumns+`) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.AuthorRole, c.Content, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	return nil
}

// GetComment retrieves a comment by id.
func GetComment(ctx context.Context, q Querier, id string) (*Comment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting comment: %w", err)
	}
	return c, nil
}

// ListTaskComments returns a task's comments in chronological order.
func ListTaskComments(ctx context.Context, q Querier, taskID string) ([]*Comment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE task_id = ? ORDER BY created_at, rowid`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
