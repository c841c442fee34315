// Package worktree manages per-task git worktrees. Each task working with an
// agent gets its own branch and checkout under the configured worktrees root
// so parallel agents never touch each other's files.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/viberelay/relay/internal/git"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/store"
)

// ErrWorktree wraps failures of worktree operations.
var ErrWorktree = errors.New("worktree operation failed")

// Coordinator creates and removes task worktrees and records their paths on
// the task row.
type Coordinator struct {
	store         *store.Store
	git           git.Executor
	worktreesPath string
}

// New creates a Coordinator.
func New(s *store.Store, executor git.Executor, worktreesPath string) *Coordinator {
	return &Coordinator{store: s, git: executor, worktreesPath: worktreesPath}
}

// PathFor returns the worktree location for a task:
// {worktrees_path}/{project_id}/{task_id}/.
func (c *Coordinator) PathFor(projectID, taskID string) string {
	return filepath.Join(c.worktreesPath, projectID, taskID)
}

// branchFor derives the branch name for a task: task-{id8}-{unix}.
func branchFor(taskID string, now time.Time) string {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("task-%s-%d", short, now.Unix())
}

// Create ensures a worktree exists for the task and returns its path. The
// call is idempotent: when the task already has a worktree on disk it is
// reused without touching git.
func (c *Coordinator) Create(ctx context.Context, task *store.Task, repoPath, baseBranch string) (string, error) {
	if task.WorktreePath != nil && Exists(*task.WorktreePath) {
		return *task.WorktreePath, nil
	}

	path := c.PathFor(task.ProjectID, task.ID)
	if Exists(path) {
		// Worktree on disk but not on the row. Record it and reuse.
		if err := c.record(ctx, task, path, nil); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWorktree, err)
	}

	branch := branchFor(task.ID, time.Now())
	if err := c.git.CreateWorktree(ctx, repoPath, path, branch, baseBranch); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWorktree, err)
	}

	if err := c.record(ctx, task, path, &branch); err != nil {
		return "", err
	}

	log.Info(log.CatWorktree, "Created worktree", "task_id", task.ID, "path", path, "branch", branch)
	return path, nil
}

// record stores the worktree path (and branch when known) on the task row.
func (c *Coordinator) record(ctx context.Context, task *store.Task, path string, branch *string) error {
	now := store.FormatTime(store.Now())
	if branch == nil {
		branch = task.Branch
	}
	if err := store.UpdateTaskWorktree(ctx, c.store.DB(), task.ID, &path, branch, now); err != nil {
		return err
	}
	task.WorktreePath = &path
	task.Branch = branch
	task.UpdatedAt = now
	return nil
}

// Remove reads the checkout's branch, detaches the worktree, then deletes
// the branch. The branch comes from the checkout itself, falling back to the
// task row when the checkout cannot be read; adopted worktrees carry no
// branch on the row. Branch deletion failures are logged and swallowed; the
// branch may already be gone or checked out elsewhere.
func (c *Coordinator) Remove(ctx context.Context, task *store.Task, repoPath string) error {
	if task.WorktreePath == nil {
		return nil
	}
	path := *task.WorktreePath

	var branch string
	if Exists(path) {
		b, err := c.git.CurrentBranch(ctx, path)
		if err != nil {
			log.Warn(log.CatWorktree, "Failed to read worktree branch", "task_id", task.ID, "path", path, "error", err)
		} else {
			branch = b
		}
		if err := c.git.RemoveWorktree(ctx, repoPath, path); err != nil {
			return fmt.Errorf("%w: %v", ErrWorktree, err)
		}
	}
	if branch == "" && task.Branch != nil {
		branch = *task.Branch
	}

	if branch != "" && c.git.BranchExists(ctx, repoPath, branch) {
		if err := c.git.DeleteBranch(ctx, repoPath, branch); err != nil {
			log.Warn(log.CatWorktree, "Failed to delete branch", "task_id", task.ID, "branch", branch, "error", err)
		}
	}

	now := store.FormatTime(store.Now())
	if err := store.UpdateTaskWorktree(ctx, c.store.DB(), task.ID, nil, nil, now); err != nil {
		return err
	}
	task.WorktreePath = nil
	task.Branch = nil
	task.UpdatedAt = now

	log.Info(log.CatWorktree, "Removed worktree", "task_id", task.ID, "path", path)
	return nil
}

// Prune drops stale worktree references from the repository.
func (c *Coordinator) Prune(ctx context.Context, repoPath string) error {
	if err := c.git.PruneWorktrees(ctx, repoPath); err != nil {
		return fmt.Errorf("%w: %v", ErrWorktree, err)
	}
	return nil
}

// Reconcile removes registered worktrees under the coordinator's root that no
// task row references any more, then prunes stale registrations. Run at
// startup; a crash between worktree removal and the row update leaves such
// leftovers behind.
func (c *Coordinator) Reconcile(ctx context.Context, repoPath string) error {
	infos, err := c.git.ListWorktrees(ctx, repoPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorktree, err)
	}

	for _, info := range infos {
		if !strings.HasPrefix(info.Path, c.worktreesPath+string(filepath.Separator)) {
			continue
		}
		taskID := filepath.Base(info.Path)
		task, err := store.GetTask(ctx, c.store.DB(), taskID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil && task.WorktreePath != nil && *task.WorktreePath == info.Path {
			continue
		}

		if rmErr := c.git.RemoveWorktree(ctx, repoPath, info.Path); rmErr != nil {
			log.Warn(log.CatWorktree, "Failed to remove stale worktree", "path", info.Path, "error", rmErr)
			continue
		}
		if info.Branch != "" && c.git.BranchExists(ctx, repoPath, info.Branch) {
			if delErr := c.git.DeleteBranch(ctx, repoPath, info.Branch); delErr != nil {
				log.Warn(log.CatWorktree, "Failed to delete branch", "branch", info.Branch, "error", delErr)
			}
		}
		log.Info(log.CatWorktree, "Removed stale worktree", "path", info.Path)
	}

	return c.Prune(ctx, repoPath)
}

// Exists reports whether path holds a checked-out worktree. A worktree's
// .git is a file pointing at the repository, not a directory.
func Exists(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return !info.IsDir()
}
