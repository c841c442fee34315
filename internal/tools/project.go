package tools

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/store"
)

// CreateProjectParams are the inputs to CreateProject.
type CreateProjectParams struct {
	Title       string
	Description string
	RepoPath    string
	BaseBranch  string
}

// CreateProject creates a project and emits project_created. When RepoPath is
// given it must be a git working tree; when BaseBranch is absent the
// repository's default branch is detected.
func (s *Surface) CreateProject(ctx context.Context, p CreateProjectParams) (*store.Project, error) {
	ctx, span := startSpan(ctx, "create_project")
	defer span.End()

	if p.Title == "" {
		return nil, InvalidInputf("title is required")
	}

	if p.RepoPath != "" && s.repos != nil {
		ok, err := s.repos.IsWorkingTree(ctx, p.RepoPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, InvalidInputf("repo_path %s is not a git working tree", p.RepoPath)
		}
		if p.BaseBranch == "" {
			branch, err := s.repos.DefaultBranch(ctx, p.RepoPath)
			if err != nil {
				return nil, err
			}
			p.BaseBranch = branch
		}
	}

	now := store.FormatTime(store.Now())
	project := &store.Project{
		ID:          uuid.NewString(),
		Title:       p.Title,
		Description: p.Description,
		Status:      store.ProjectActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.RepoPath != "" {
		project.RepoPath = &p.RepoPath
	}
	if p.BaseBranch != "" {
		project.BaseBranch = &p.BaseBranch
	}

	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertProject(ctx, tx, project); err != nil {
			return err
		}
		return emit(ctx, tx, events.ProjectCreated{ProjectID: project.ID})
	})
	if err != nil {
		return nil, tagErr(err)
	}

	span.SetAttributes(attribute.String("project.id", project.ID))
	log.Info(log.CatTools, "Created project", "project_id", project.ID, "title", project.Title)
	return project, nil
}

// CreateProjectWithWorkflow creates a project, its workflow steps, and a root
// milestone sitting at the first agent step. Steps default to the configured
// workflow when defs is empty.
func (s *Surface) CreateProjectWithWorkflow(ctx context.Context, p CreateProjectParams, defs []config.StepDef) (*store.Project, []*store.WorkflowStep, *store.Task, error) {
	project, err := s.CreateProject(ctx, p)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(defs) == 0 {
		defs = s.cfg.Workflow()
	}
	steps, err := s.CreateWorkflowSteps(ctx, project.ID, defs)
	if err != nil {
		return nil, nil, nil, err
	}

	// The root milestone anchors the project's task tree. It starts at the
	// first agent step, or at position 0 when the workflow has none.
	rootStep := steps[0]
	for _, step := range steps {
		if step.IsAgentStep() {
			rootStep = step
			break
		}
	}

	root, err := s.CreateTask(ctx, CreateTaskParams{
		Title:       p.Title,
		Description: p.Description,
		StepID:      rootStep.ID,
		ProjectID:   project.ID,
		Type:        store.TaskTypeMilestone,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return project, steps, root, nil
}

// CancelProject marks a project cancelled and emits project_updated.
func (s *Surface) CancelProject(ctx context.Context, projectID string) (*store.Project, error) {
	ctx, span := startSpan(ctx, "cancel_project", attribute.String("project.id", projectID))
	defer span.End()

	var project *store.Project
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		project, err = store.GetProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if project.Status == store.ProjectCancelled {
			return InvalidTransitionf("project %s is already cancelled", projectID)
		}

		now := store.FormatTime(store.Now())
		if err := store.SetProjectStatus(ctx, tx, projectID, store.ProjectCancelled, now); err != nil {
			return err
		}
		project.Status = store.ProjectCancelled
		project.UpdatedAt = now
		return emit(ctx, tx, events.ProjectUpdated{ProjectID: projectID})
	})
	if err != nil {
		return nil, tagErr(err)
	}

	log.Info(log.CatTools, "Cancelled project", "project_id", projectID)
	return project, nil
}

// GetProject returns a project by id.
func (s *Surface) GetProject(ctx context.Context, projectID string) (*store.Project, error) {
	project, err := store.GetProject(ctx, s.store.DB(), projectID)
	if err != nil {
		return nil, tagErr(err)
	}
	return project, nil
}

// ListProjects returns all projects.
func (s *Surface) ListProjects(ctx context.Context) ([]*store.Project, error) {
	return store.ListProjects(ctx, s.store.DB())
}
