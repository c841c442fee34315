package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/viberelay/relay/internal/log"
)

// Git-specific errors surfaced to callers.
var (
	// ErrBranchAlreadyCheckedOut indicates the branch is checked out in another worktree.
	ErrBranchAlreadyCheckedOut = errors.New("branch already checked out in another worktree")

	// ErrPathAlreadyExists indicates the worktree path already exists.
	ErrPathAlreadyExists = errors.New("worktree path already exists")

	// ErrWorktreeLocked indicates the worktree is locked.
	ErrWorktreeLocked = errors.New("worktree is locked")

	// ErrNotGitRepo indicates the directory is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")
)

// opTimeout bounds every git subprocess. Worktree creation on a large repo
// can take a few seconds; anything past this is treated as stuck.
const opTimeout = 5 * time.Second

// Compile-time check that RealExecutor implements Executor.
var _ Executor = (*RealExecutor)(nil)

// RealExecutor implements Executor by shelling out to git.
type RealExecutor struct{}

// NewRealExecutor creates a RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// runGit executes a git command in dir and returns trimmed stdout.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	//nolint:gosec // G204: args come from controlled sources
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), ctx.Err())
		}
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseGitError(stderrStr, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// parseGitError converts git stderr messages to sentinel errors.
func parseGitError(stderr string, originalErr error) error {
	stderrLower := strings.ToLower(stderr)

	// fatal: '<branch>' is already checked out
	if strings.Contains(stderrLower, "is already checked out") ||
		strings.Contains(stderrLower, "already checked out at") {
		return fmt.Errorf("%w: %s", ErrBranchAlreadyCheckedOut, stderr)
	}

	// fatal: '<path>' already exists
	if strings.Contains(stderrLower, "already exists") {
		return fmt.Errorf("%w: %s", ErrPathAlreadyExists, stderr)
	}

	// fatal: '<path>' is locked
	if strings.Contains(stderrLower, "is locked") {
		return fmt.Errorf("%w: %s", ErrWorktreeLocked, stderr)
	}

	if strings.Contains(stderrLower, "not a git repository") {
		return fmt.Errorf("%w: %s", ErrNotGitRepo, stderr)
	}

	return fmt.Errorf("git error: %s: %w", stderr, originalErr)
}

// IsWorkingTree reports whether path is inside a git working tree.
func (e *RealExecutor) IsWorkingTree(ctx context.Context, path string) (bool, error) {
	out, err := runGit(ctx, path, "rev-parse", "--is-inside-work-tree")
	if errors.Is(err, ErrNotGitRepo) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

// DefaultBranch detects the repository's default branch.
// Order: remote HEAD, then main/master existence, then "main".
func (e *RealExecutor) DefaultBranch(ctx context.Context, path string) (string, error) {
	if ref, err := runGit(ctx, path, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil && ref != "" {
		parts := strings.Split(ref, "/")
		return parts[len(parts)-1], nil
	}

	for _, name := range []string{"main", "master"} {
		if _, err := runGit(ctx, path, "show-ref", "--verify", "--quiet", "refs/heads/"+name); err == nil {
			return name, nil
		}
	}

	return "main", nil
}

// CreateWorktree creates a worktree at worktreePath on a new branch.
func (e *RealExecutor) CreateWorktree(ctx context.Context, repoPath, worktreePath, newBranch, baseBranch string) error {
	args := []string{"worktree", "add", "-b", newBranch, worktreePath}
	if baseBranch != "" {
		args = append(args, baseBranch)
	}
	if _, err := runGit(ctx, repoPath, args...); err != nil {
		return err
	}
	log.Info(log.CatGit, "Created worktree", "path", worktreePath, "branch", newBranch)
	return nil
}

// RemoveWorktree removes a worktree, retrying with --force when a plain
// remove fails on a dirty tree.
func (e *RealExecutor) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	if _, err := runGit(ctx, repoPath, "worktree", "remove", worktreePath); err == nil {
		return nil
	}
	_, err := runGit(ctx, repoPath, "worktree", "remove", "--force", worktreePath)
	return err
}

// PruneWorktrees removes stale worktree references.
func (e *RealExecutor) PruneWorktrees(ctx context.Context, repoPath string) error {
	_, err := runGit(ctx, repoPath, "worktree", "prune")
	return err
}

// DeleteBranch force-deletes a local branch.
func (e *RealExecutor) DeleteBranch(ctx context.Context, repoPath, name string) error {
	_, err := runGit(ctx, repoPath, "branch", "-D", name)
	return err
}

// BranchExists reports whether a local branch exists.
func (e *RealExecutor) BranchExists(ctx context.Context, repoPath, name string) bool {
	_, err := runGit(ctx, repoPath, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// ListWorktrees returns all worktrees registered on the repository.
func (e *RealExecutor) ListWorktrees(ctx context.Context, repoPath string) ([]WorktreeInfo, error) {
	output, err := runGit(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(output), nil
}

// CurrentBranch returns the checked-out branch of the working tree at path.
func (e *RealExecutor) CurrentBranch(ctx context.Context, path string) (string, error) {
	out, err := runGit(ctx, path, "branch", "--show-current")
	if err == nil && out != "" {
		return out, nil
	}
	out, err = runGit(ctx, path, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return out, nil
}

// parseWorktreeList parses the porcelain output of git worktree list.
// Format:
//
//	worktree /path/to/worktree
//	HEAD <sha>
//	branch refs/heads/branch-name
//	<blank line>
func parseWorktreeList(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current WorktreeInfo

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
			}
			current = WorktreeInfo{}
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		if len(parts) < 2 {
			continue
		}

		key, value := parts[0], parts[1]
		switch key {
		case "worktree":
			current.Path = value
		case "HEAD":
			current.HEAD = value
		case "branch":
			if after, found := strings.CutPrefix(value, "refs/heads/"); found {
				current.Branch = after
			} else {
				current.Branch = value
			}
		}
	}

	if current.Path != "" {
		worktrees = append(worktrees, current)
	}

	return worktrees
}
