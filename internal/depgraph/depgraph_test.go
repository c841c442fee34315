package depgraph_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/viberelay/relay/internal/depgraph"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/testutil"
)

// board creates a project with steps Plan(agent) and Done plus tasks a, b, c
// at Plan.
func board(t *testing.T) *store.Store {
	t.Helper()
	s := testutil.NewTestStore(t)
	testutil.NewBuilder(t, s).
		WithProject("p1", "Test project").
		WithStep("plan", "Plan", "plan prompt").
		WithStep("done", "Done", "").
		WithTask("a", "plan").
		WithTask("b", "plan").
		WithTask("c", "plan").
		Build()
	return s
}

func addEdge(t *testing.T, s *store.Store, pred, succ string) {
	t.Helper()
	require.NoError(t, store.InsertDependency(context.Background(), s.DB(), &store.TaskDependency{
		ID:            pred + "->" + succ,
		PredecessorID: pred,
		SuccessorID:   succ,
		CreatedAt:     store.FormatTime(store.Now()),
	}))
}

func TestWouldCycle_SelfReachability(t *testing.T) {
	s := board(t)
	ctx := context.Background()

	addEdge(t, s, "a", "b")
	addEdge(t, s, "b", "c")

	cycle, err := depgraph.WouldCycle(ctx, s.DB(), "c", "a")
	require.NoError(t, err)
	require.True(t, cycle, "c -> a closes the loop a -> b -> c -> a")

	cycle, err = depgraph.WouldCycle(ctx, s.DB(), "a", "c")
	require.NoError(t, err)
	require.False(t, cycle)
}

func TestIsBlocked(t *testing.T) {
	s := board(t)
	ctx := context.Background()

	addEdge(t, s, "a", "b")

	blocked, err := depgraph.IsBlocked(ctx, s.DB(), "b")
	require.NoError(t, err)
	require.True(t, blocked, "predecessor a is not terminal")

	// Walk a to the terminal step.
	require.NoError(t, store.UpdateTaskStep(ctx, s.DB(), "a", "done", store.FormatTime(store.Now())))

	blocked, err = depgraph.IsBlocked(ctx, s.DB(), "b")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestReadySuccessors_AllPredecessorsMustBeTerminal(t *testing.T) {
	s := board(t)
	ctx := context.Background()

	addEdge(t, s, "a", "c")
	addEdge(t, s, "b", "c")

	require.NoError(t, store.UpdateTaskStep(ctx, s.DB(), "a", "done", store.FormatTime(store.Now())))

	ready, err := depgraph.ReadySuccessors(ctx, s.DB(), "a")
	require.NoError(t, err)
	require.Empty(t, ready, "b is still non-terminal")

	require.NoError(t, store.UpdateTaskStep(ctx, s.DB(), "b", "done", store.FormatTime(store.Now())))

	ready, err = depgraph.ReadySuccessors(ctx, s.DB(), "b")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, "c", ready[0].ID)
}

func TestReadySuccessors_SkipsCancelled(t *testing.T) {
	s := board(t)
	ctx := context.Background()

	addEdge(t, s, "a", "b")
	require.NoError(t, store.UpdateTaskStep(ctx, s.DB(), "a", "done", store.FormatTime(store.Now())))
	require.NoError(t, store.UpdateTaskCancelled(ctx, s.DB(), "b", true, store.FormatTime(store.Now())))

	ready, err := depgraph.ReadySuccessors(ctx, s.DB(), "a")
	require.NoError(t, err)
	require.Empty(t, ready)
}

func TestParentApproved_MilestoneGate(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.NewBuilder(t, s).
		WithProject("p1", "Gated").
		WithStep("plan", "Plan", "plan prompt").
		WithStep("done", "Done", "").
		WithTask("m", "plan", testutil.AsMilestone()).
		WithTask("child", "plan", testutil.WithParent("m")).
		Build()
	ctx := context.Background()

	child, err := store.GetTask(ctx, s.DB(), "child")
	require.NoError(t, err)

	approved, err := depgraph.ParentApproved(ctx, s.DB(), child)
	require.NoError(t, err)
	require.False(t, approved)

	require.NoError(t, store.UpdateTaskPlanApproved(ctx, s.DB(), "m", store.FormatTime(store.Now())))

	approved, err = depgraph.ParentApproved(ctx, s.DB(), child)
	require.NoError(t, err)
	require.True(t, approved)
}

// Property: for a random DAG built by only accepting edges that WouldCycle
// rejects as safe, the graph never becomes cyclic (WouldCycle(v, v) through
// any inserted edge stays false).
func TestWouldCycle_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := testutil.NewTestStore(t)
		builder := testutil.NewBuilder(t, s).
			WithProject("p1", "Property project").
			WithStep("plan", "Plan", "plan prompt").
			WithStep("done", "Done", "")

		const n = 6
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("t%d", i)
			builder.WithTask(ids[i], "plan")
		}
		builder.Build()

		ctx := context.Background()
		edges := rapid.SliceOfN(rapid.SliceOfN(rapid.IntRange(0, n-1), 2, 2), 0, 15).Draw(rt, "edges")

		for _, e := range edges {
			pred, succ := ids[e[0]], ids[e[1]]
			if pred == succ {
				continue
			}
			exists, err := store.DependencyExists(ctx, s.DB(), pred, succ)
			require.NoError(t, err)
			if exists {
				continue
			}
			cycle, err := depgraph.WouldCycle(ctx, s.DB(), pred, succ)
			require.NoError(t, err)
			if cycle {
				continue
			}
			addEdge(t, s, pred, succ)
		}

		// No task may reach itself through the accepted edges.
		for _, id := range ids {
			cycle, err := depgraph.WouldCycle(ctx, s.DB(), id, id)
			require.NoError(t, err)
			require.False(t, cycle, "task %s reaches itself", id)
		}
	})
}
