package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/viberelay/relay/internal/store"
)

// Builder accumulates board fixtures and inserts them in dependency order.
type Builder struct {
	t       *testing.T
	s       *store.Store
	project *store.Project
	steps   []*store.WorkflowStep
	tasks   []*store.Task
	deps    [][2]string // predecessor, successor
}

// NewBuilder creates a builder for the given test store.
func NewBuilder(t *testing.T, s *store.Store) *Builder {
	t.Helper()
	return &Builder{t: t, s: s}
}

// WithProject adds a project. At most one project per builder.
func (b *Builder) WithProject(id, title string) *Builder {
	now := store.FormatTime(store.Now())
	b.project = &store.Project{
		ID:        id,
		Title:     title,
		Status:    store.ProjectActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return b
}

// WithStep adds a workflow step at the next position. A non-empty
// systemPrompt makes it an agent step.
func (b *Builder) WithStep(id, name, systemPrompt string) *Builder {
	require.NotNil(b.t, b.project, "WithStep requires WithProject first")
	step := &store.WorkflowStep{
		ID:        id,
		ProjectID: b.project.ID,
		Name:      name,
		Position:  len(b.steps),
		CreatedAt: store.FormatTime(store.Now()),
	}
	if systemPrompt != "" {
		step.SystemPrompt = &systemPrompt
	}
	b.steps = append(b.steps, step)
	return b
}

// WithTask adds a task at the given step.
func (b *Builder) WithTask(id, stepID string, opts ...TaskOption) *Builder {
	require.NotNil(b.t, b.project, "WithTask requires WithProject first")
	now := store.FormatTime(store.Now())
	task := &store.Task{
		ID:        id,
		ProjectID: b.project.ID,
		Title:     id,
		StepID:    stepID,
		Type:      store.TaskTypeTask,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(task)
	}
	b.tasks = append(b.tasks, task)
	return b
}

// WithDependency adds a predecessor -> successor edge.
func (b *Builder) WithDependency(predecessorID, successorID string) *Builder {
	b.deps = append(b.deps, [2]string{predecessorID, successorID})
	return b
}

// Build inserts all accumulated fixtures.
func (b *Builder) Build() {
	b.t.Helper()
	ctx := context.Background()
	db := b.s.DB()

	if b.project != nil {
		require.NoError(b.t, store.InsertProject(ctx, db, b.project))
	}
	for _, step := range b.steps {
		require.NoError(b.t, store.InsertStep(ctx, db, step))
	}
	for _, task := range b.tasks {
		require.NoError(b.t, store.InsertTask(ctx, db, task))
	}
	for _, dep := range b.deps {
		require.NoError(b.t, store.InsertDependency(ctx, db, &store.TaskDependency{
			ID:            uuid.NewString(),
			PredecessorID: dep[0],
			SuccessorID:   dep[1],
			CreatedAt:     store.FormatTime(store.Now()),
		}))
	}
}

// TaskOption configures a task during builder setup.
type TaskOption func(*store.Task)

// AsMilestone marks the task as a milestone.
func AsMilestone() TaskOption {
	return func(t *store.Task) { t.Type = store.TaskTypeMilestone }
}

// AsResearch marks the task as a research task.
func AsResearch() TaskOption {
	return func(t *store.Task) { t.Type = store.TaskTypeResearch }
}

// WithParent sets the task's parent.
func WithParent(parentID string) TaskOption {
	return func(t *store.Task) { t.ParentTaskID = &parentID }
}

// Approved marks a milestone's plan approved.
func Approved() TaskOption {
	return func(t *store.Task) { t.PlanApproved = true }
}

// Cancelled marks the task cancelled.
func Cancelled() TaskOption {
	return func(t *store.Task) { t.Cancelled = true }
}

// WithTitle overrides the default title.
func WithTitle(title string) TaskOption {
	return func(t *store.Task) { t.Title = title }
}
