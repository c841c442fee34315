package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get helpers when no row matches.
var ErrNotFound = errors.New("not found")

const projectColumns = `id, title, description, repo_path, base_branch, status, created_at, updated_at`

func scanProject(scanner interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	err := scanner.Scan(
		&p.ID, &p.Title, &p.Description, &p.RepoPath, &p.BaseBranch,
		&p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	return &p, err
}

// InsertProject persists a new project row.
func InsertProject(ctx context.Context, q Querier, p *Project) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, p.RepoPath, p.BaseBranch, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by id.
func GetProject(ctx context.Context, q Querier, id string) (*Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by creation time.
func ListProjects(ctx context.Context, q Querier) ([]*Project, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetProjectStatus updates a project's status and updated_at.
func SetProjectStatus(ctx context.Context, q Querier, id, status, updatedAt string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		status, updatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("updating project status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating project status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}
