package tools

import (
	"context"

	"github.com/viberelay/relay/internal/store"
)

// BoardTask is a task annotated with whether an agent is currently working
// on it.
type BoardTask struct {
	*store.Task
	HasActiveRun bool `json:"has_active_run"`
}

// BoardColumn groups a step with the tasks sitting at it.
type BoardColumn struct {
	Step  *store.WorkflowStep `json:"step"`
	Tasks []*BoardTask        `json:"tasks"`
	Count int                 `json:"count"`
}

// Board is the grouped read model of one project.
type Board struct {
	Project *store.Project `json:"project"`
	Columns []*BoardColumn `json:"columns"`
}

// GetBoard returns the project's tasks grouped by step in position order,
// each task annotated with has_active_run.
func (s *Surface) GetBoard(ctx context.Context, projectID string) (*Board, error) {
	db := s.store.DB()
	project, err := store.GetProject(ctx, db, projectID)
	if err != nil {
		return nil, tagErr(err)
	}
	steps, err := store.ListSteps(ctx, db, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := store.ListProjectTasks(ctx, db, projectID)
	if err != nil {
		return nil, err
	}

	byStep := make(map[string][]*BoardTask, len(steps))
	for _, task := range tasks {
		boardTask := &BoardTask{Task: task}
		if _, err := store.GetActiveRun(ctx, db, task.ID); err == nil {
			boardTask.HasActiveRun = true
		}
		byStep[task.StepID] = append(byStep[task.StepID], boardTask)
	}

	board := &Board{Project: project, Columns: make([]*BoardColumn, 0, len(steps))}
	for _, step := range steps {
		column := &BoardColumn{Step: step, Tasks: byStep[step.ID]}
		column.Count = len(column.Tasks)
		board.Columns = append(board.Columns, column)
	}
	return board, nil
}

// TaskCounts returns the number of tasks per step for a project, keyed by
// step id.
func (s *Surface) TaskCounts(ctx context.Context, projectID string) (map[string]int, error) {
	db := s.store.DB()
	if _, err := store.GetProject(ctx, db, projectID); err != nil {
		return nil, tagErr(err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT step_id, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY step_id`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stepID string
		var n int
		if err := rows.Scan(&stepID, &n); err != nil {
			return nil, err
		}
		counts[stepID] = n
	}
	return counts, rows.Err()
}
