package worktree_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viberelay/relay/internal/git"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/testutil"
	"github.com/viberelay/relay/internal/worktree"
)

// fakeExecutor materializes worktrees on disk without shelling out to git.
// branches maps worktree paths to their checked-out branch, the way the real
// repository would answer CurrentBranch.
type fakeExecutor struct {
	created        []string
	removed        []string
	deletedBranch  []string
	branches       map[string]string
	worktrees      []git.WorktreeInfo
	pruned         int
	failDeleteWith error
}

var _ git.Executor = (*fakeExecutor)(nil)

func (f *fakeExecutor) IsWorkingTree(ctx context.Context, path string) (bool, error) {
	return true, nil
}

func (f *fakeExecutor) DefaultBranch(ctx context.Context, path string) (string, error) {
	return "main", nil
}

func (f *fakeExecutor) CreateWorktree(ctx context.Context, repoPath, worktreePath, newBranch, baseBranch string) error {
	if err := os.MkdirAll(worktreePath, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(worktreePath, ".git"), []byte("gitdir: "+repoPath+"\n"), 0o644); err != nil {
		return err
	}
	if f.branches == nil {
		f.branches = map[string]string{}
	}
	f.branches[worktreePath] = newBranch
	f.created = append(f.created, newBranch)
	return nil
}

func (f *fakeExecutor) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	f.removed = append(f.removed, worktreePath)
	return os.RemoveAll(worktreePath)
}

func (f *fakeExecutor) PruneWorktrees(ctx context.Context, repoPath string) error {
	f.pruned++
	return nil
}

func (f *fakeExecutor) DeleteBranch(ctx context.Context, repoPath, name string) error {
	if f.failDeleteWith != nil {
		return f.failDeleteWith
	}
	f.deletedBranch = append(f.deletedBranch, name)
	for path, branch := range f.branches {
		if branch == name {
			delete(f.branches, path)
		}
	}
	return nil
}

func (f *fakeExecutor) BranchExists(ctx context.Context, repoPath, name string) bool {
	for _, branch := range f.branches {
		if branch == name {
			return true
		}
	}
	return false
}

func (f *fakeExecutor) ListWorktrees(ctx context.Context, repoPath string) ([]git.WorktreeInfo, error) {
	return f.worktrees, nil
}

func (f *fakeExecutor) CurrentBranch(ctx context.Context, path string) (string, error) {
	branch, ok := f.branches[path]
	if !ok {
		return "", errors.New("not a working tree")
	}
	return branch, nil
}

func seedTask(t *testing.T) (*store.Store, *store.Task) {
	t.Helper()
	s := testutil.NewTestStore(t)
	testutil.NewBuilder(t, s).
		WithProject("p1", "Project").
		WithStep("s1", "Plan", "plan").
		WithTask("t1", "s1").
		Build()

	task, err := store.GetTask(context.Background(), s.DB(), "t1")
	require.NoError(t, err)
	return s, task
}

func TestCreate(t *testing.T) {
	s, task := seedTask(t)
	executor := &fakeExecutor{}
	coordinator := worktree.New(s, executor, t.TempDir())
	ctx := context.Background()

	path, err := coordinator.Create(ctx, task, "/repo", "main")
	require.NoError(t, err)
	require.Equal(t, coordinator.PathFor("p1", "t1"), path)
	require.True(t, worktree.Exists(path))

	// Branch and path land on the task row.
	stored, err := store.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.NotNil(t, stored.WorktreePath)
	require.Equal(t, path, *stored.WorktreePath)
	require.NotNil(t, stored.Branch)
	require.True(t, strings.HasPrefix(*stored.Branch, "task-t1-"), "branch %q", *stored.Branch)

	// Second create reuses the existing worktree.
	again, err := coordinator.Create(ctx, task, "/repo", "main")
	require.NoError(t, err)
	require.Equal(t, path, again)
	require.Len(t, executor.created, 1)
}

func TestCreate_AdoptsOrphanedWorktree(t *testing.T) {
	s, task := seedTask(t)
	executor := &fakeExecutor{}
	root := t.TempDir()
	coordinator := worktree.New(s, executor, root)
	ctx := context.Background()

	// A worktree on disk whose path was never recorded, e.g. after a crash
	// between git and the row update.
	orphan := coordinator.PathFor("p1", "t1")
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(orphan, ".git"), []byte("gitdir: /repo\n"), 0o644))

	path, err := coordinator.Create(ctx, task, "/repo", "main")
	require.NoError(t, err)
	require.Equal(t, orphan, path)
	require.Empty(t, executor.created, "git must not run for an adopted worktree")

	stored, err := store.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Equal(t, orphan, *stored.WorktreePath)
}

func TestRemove(t *testing.T) {
	s, task := seedTask(t)
	executor := &fakeExecutor{}
	coordinator := worktree.New(s, executor, t.TempDir())
	ctx := context.Background()

	path, err := coordinator.Create(ctx, task, "/repo", "main")
	require.NoError(t, err)

	require.NoError(t, coordinator.Remove(ctx, task, "/repo"))
	require.False(t, worktree.Exists(path))
	require.Len(t, executor.deletedBranch, 1)
	require.True(t, strings.HasPrefix(executor.deletedBranch[0], "task-t1-"), "branch %q", executor.deletedBranch[0])

	stored, err := store.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Nil(t, stored.WorktreePath)
	require.Nil(t, stored.Branch)

	// Removing again is a no-op.
	require.NoError(t, coordinator.Remove(ctx, task, "/repo"))
}

func TestRemove_AdoptedWorktreeDeletesCheckoutBranch(t *testing.T) {
	s, task := seedTask(t)
	executor := &fakeExecutor{}
	coordinator := worktree.New(s, executor, t.TempDir())
	ctx := context.Background()

	// Adopted worktree: on disk with a live branch, but the row never saw it.
	orphan := coordinator.PathFor("p1", "t1")
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(orphan, ".git"), []byte("gitdir: /repo\n"), 0o644))
	executor.branches = map[string]string{orphan: "task-t1-orphan"}

	_, err := coordinator.Create(ctx, task, "/repo", "main")
	require.NoError(t, err)
	require.Nil(t, task.Branch, "adoption records no branch")

	require.NoError(t, coordinator.Remove(ctx, task, "/repo"))
	require.Equal(t, []string{"task-t1-orphan"}, executor.deletedBranch,
		"branch must come from the checkout, not the row")

	stored, err := store.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Nil(t, stored.WorktreePath)
}

func TestRemove_BranchDeleteFailureSwallowed(t *testing.T) {
	s, task := seedTask(t)
	executor := &fakeExecutor{failDeleteWith: errors.New("branch checked out elsewhere")}
	coordinator := worktree.New(s, executor, t.TempDir())
	ctx := context.Background()

	_, err := coordinator.Create(ctx, task, "/repo", "main")
	require.NoError(t, err)

	require.NoError(t, coordinator.Remove(ctx, task, "/repo"))

	stored, err := store.GetTask(ctx, s.DB(), "t1")
	require.NoError(t, err)
	require.Nil(t, stored.WorktreePath)
}

func TestReconcile_RemovesStaleWorktrees(t *testing.T) {
	s, task := seedTask(t)
	executor := &fakeExecutor{}
	coordinator := worktree.New(s, executor, t.TempDir())
	ctx := context.Background()

	live, err := coordinator.Create(ctx, task, "/repo", "main")
	require.NoError(t, err)

	// A checkout for a task that no longer exists, left behind by a crash.
	stale := coordinator.PathFor("p1", "gone")
	executor.branches[stale] = "task-gone-1"
	executor.worktrees = []git.WorktreeInfo{
		{Path: "/repo", Branch: "main"},
		{Path: live, Branch: *task.Branch},
		{Path: stale, Branch: "task-gone-1"},
	}

	require.NoError(t, coordinator.Reconcile(ctx, "/repo"))
	require.Equal(t, []string{stale}, executor.removed, "the live worktree must survive")
	require.Equal(t, []string{"task-gone-1"}, executor.deletedBranch)
	require.Equal(t, 1, executor.pruned)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	require.False(t, worktree.Exists(dir))

	// A .git directory is a full repo, not a worktree.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.False(t, worktree.Exists(dir))

	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, ".git"), []byte("gitdir: /repo\n"), 0o644))
	require.True(t, worktree.Exists(other))
}
