package git

import "context"

// Executor defines the git operations the worktree coordinator and project
// creation need. The abstraction allows tests to substitute a fake.
type Executor interface {
	// IsWorkingTree reports whether path is inside a git working tree.
	IsWorkingTree(ctx context.Context, path string) (bool, error)
	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context, path string) (string, error)
	// CreateWorktree creates a worktree at worktreePath with a new branch
	// based on baseBranch. An empty baseBranch starts from the current HEAD.
	CreateWorktree(ctx context.Context, repoPath, worktreePath, newBranch, baseBranch string) error
	// RemoveWorktree removes the worktree at worktreePath, forcing if a plain
	// remove fails.
	RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error
	// PruneWorktrees drops stale worktree references.
	PruneWorktrees(ctx context.Context, repoPath string) error
	// DeleteBranch force-deletes a local branch.
	DeleteBranch(ctx context.Context, repoPath, name string) error
	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, repoPath, name string) bool
	// ListWorktrees returns the worktrees registered on the repository.
	ListWorktrees(ctx context.Context, repoPath string) ([]WorktreeInfo, error)
	// CurrentBranch returns the checked-out branch of the working tree at path.
	CurrentBranch(ctx context.Context, path string) (string, error)
}

// WorktreeInfo describes one entry of `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string
	HEAD   string
}
