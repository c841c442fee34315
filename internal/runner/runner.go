// Package runner supervises one external agent subprocess per dispatched
// task. A run opens an AgentRun row, ensures the task's worktree, spawns the
// claude CLI in headless stream-json mode, and closes the row with the exit
// outcome. The captured session id is committed as soon as it appears so a
// crash mid-run leaves the task resumable.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/worktree"
)

var tracer = otel.Tracer("github.com/viberelay/relay/internal/runner")

// Runner dispatches agents for tasks sitting at agent steps.
type Runner struct {
	store     *store.Store
	cfg       config.Config
	worktrees *worktree.Coordinator
	registry  *Registry
}

// New creates a Runner.
func New(s *store.Store, cfg config.Config, worktrees *worktree.Coordinator, registry *Registry) *Runner {
	return &Runner{store: s, cfg: cfg, worktrees: worktrees, registry: registry}
}

// Registry returns the live-subprocess registry for shutdown handling.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run dispatches an agent for the task and blocks until the subprocess
// exits. It returns the closed AgentRun row.
func (r *Runner) Run(ctx context.Context, taskID string) (*store.AgentRun, error) {
	ctx, span := tracer.Start(ctx, "runner.run",
		trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	db := r.store.DB()
	task, err := store.GetTask(ctx, db, taskID)
	if err != nil {
		return nil, err
	}
	if task.Cancelled {
		return nil, fmt.Errorf("task %s is cancelled", taskID)
	}
	step, err := store.GetStep(ctx, db, task.StepID)
	if err != nil {
		return nil, err
	}
	if !step.IsAgentStep() {
		return nil, fmt.Errorf("step %s has no system prompt", step.ID)
	}

	repoPath, baseBranch := r.repoFor(ctx, task.ProjectID)
	if _, err := r.worktrees.Create(ctx, task, repoPath, baseBranch); err != nil {
		return nil, err
	}

	model := r.cfg.DefaultModel
	if step.Model != nil && *step.Model != "" {
		model = *step.Model
	}

	comments, err := store.ListTaskComments(ctx, db, taskID)
	if err != nil {
		return nil, err
	}

	run := &store.AgentRun{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		StepID:    step.ID,
		StartedAt: store.FormatTime(store.Now()),
	}
	if err := store.InsertRun(ctx, db, run); err != nil {
		return nil, err
	}

	mcpConfigPath, cleanup, err := r.writeMCPConfig(task.ID)
	if err != nil {
		r.closeRun(run, -1, err.Error())
		return run, err
	}
	defer cleanup()

	sessionID := ""
	if task.SessionID != nil {
		sessionID = *task.SessionID
	}

	log.Info(log.CatRunner, "Dispatching agent",
		"task_id", task.ID, "run_id", run.ID, "step", step.Name, "model", model, "resume", sessionID != "")

	result, err := spawn(ctx, run.ID, spawnConfig{
		WorkDir:       *task.WorktreePath,
		Prompt:        buildPrompt(task, step, comments),
		SessionID:     sessionID,
		Model:         model,
		MCPConfigPath: mcpConfigPath,
	}, r.registry, func(id string) {
		// Own transaction: a crash after this point leaves the task resumable.
		now := store.FormatTime(store.Now())
		if err := store.UpdateTaskSessionID(context.Background(), db, task.ID, id, now); err != nil {
			log.ErrorErr(log.CatRunner, "Failed to persist session id", err, "task_id", task.ID)
		}
	})
	if err != nil {
		r.closeRun(run, -1, err.Error())
		return run, err
	}

	errMsg := ""
	if result.ExitCode != 0 {
		errMsg = result.StderrTail
	}
	r.closeRun(run, result.ExitCode, errMsg)

	log.Info(log.CatRunner, "Agent run finished",
		"task_id", task.ID, "run_id", run.ID, "exit_code", result.ExitCode)
	span.SetAttributes(attribute.Int("run.exit_code", result.ExitCode))
	return run, nil
}

// repoFor resolves the repository path and base branch for a project,
// preferring project-level overrides over the global config.
func (r *Runner) repoFor(ctx context.Context, projectID string) (repoPath, baseBranch string) {
	repoPath, baseBranch = r.cfg.RepoPath, r.cfg.BaseBranch
	project, err := store.GetProject(ctx, r.store.DB(), projectID)
	if err != nil {
		return repoPath, baseBranch
	}
	if project.RepoPath != nil && *project.RepoPath != "" {
		repoPath = *project.RepoPath
	}
	if project.BaseBranch != nil && *project.BaseBranch != "" {
		baseBranch = *project.BaseBranch
	}
	return repoPath, baseBranch
}

// closeRun records the run outcome. Uses a background context so a cancelled
// dispatch still closes its row.
func (r *Runner) closeRun(run *store.AgentRun, exitCode int, errMsg string) {
	completedAt := store.FormatTime(store.Now())
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	if err := store.CloseRun(context.Background(), r.store.DB(), run.ID, completedAt, exitCode, errPtr); err != nil {
		log.ErrorErr(log.CatRunner, "Failed to close agent run", err, "run_id", run.ID)
		return
	}
	run.CompletedAt = &completedAt
	run.ExitCode = &exitCode
	run.Error = errPtr
}

// mcpServerConfig is the shape of the --mcp-config file handed to the
// subprocess. It points the agent's relay tools back at this process's
// database, scoped to the dispatched task.
type mcpServerConfig struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

type mcpServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// writeMCPConfig writes the back-channel config to a temp file and returns
// its path with a cleanup func.
func (r *Runner) writeMCPConfig(taskID string) (string, func(), error) {
	exe, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrAgentLaunch, err)
	}

	cfg := mcpServerConfig{
		MCPServers: map[string]mcpServerEntry{
			"relay": {
				Command: exe,
				Args:    []string{"mcp", "--task-id", taskID, "--db", r.cfg.DBPath},
			},
		},
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "relay-mcp-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrAgentLaunch, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("%w: %v", ErrAgentLaunch, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, fmt.Errorf("%w: %v", ErrAgentLaunch, err)
	}
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}
