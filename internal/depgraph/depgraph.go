// Package depgraph evaluates the task dependency DAG: cycle detection for
// new edges, block evaluation, and cascade unblock after completion.
package depgraph

import (
	"context"
	"fmt"

	"github.com/viberelay/relay/internal/store"
)

// WouldCycle reports whether adding predecessor -> successor would create a
// cycle. It walks edges forward from successor; reaching predecessor means
// the new edge would close a loop.
func WouldCycle(ctx context.Context, q store.Querier, predecessorID, successorID string) (bool, error) {
	visited := map[string]bool{successorID: true}
	frontier := []string{successorID}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		successors, err := store.ListSuccessors(ctx, q, current)
		if err != nil {
			return false, fmt.Errorf("walking dependency graph: %w", err)
		}
		for _, next := range successors {
			if next == predecessorID {
				return true, nil
			}
			if !visited[next] {
				visited[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return false, nil
}

// IsBlocked reports whether any predecessor of the task is not at its
// project's terminal step.
func IsBlocked(ctx context.Context, q store.Querier, taskID string) (bool, error) {
	predecessors, err := store.ListPredecessors(ctx, q, taskID)
	if err != nil {
		return false, err
	}

	for _, predID := range predecessors {
		terminal, err := predecessorAtTerminal(ctx, q, predID)
		if err != nil {
			return false, err
		}
		if !terminal {
			return true, nil
		}
	}
	return false, nil
}

func predecessorAtTerminal(ctx context.Context, q store.Querier, taskID string) (bool, error) {
	task, err := store.GetTask(ctx, q, taskID)
	if err != nil {
		return false, err
	}
	step, err := store.GetStep(ctx, q, task.StepID)
	if err != nil {
		return false, err
	}
	terminal, err := store.TerminalPosition(ctx, q, task.ProjectID)
	if err != nil {
		return false, err
	}
	return step.Position == terminal, nil
}

// ReadySuccessors enumerates successors of a completed task that are now
// ready: not cancelled, all predecessors terminal, and parent milestone (if
// any) approved. Callers emit a task_ready event per returned task.
func ReadySuccessors(ctx context.Context, q store.Querier, doneTaskID string) ([]*store.Task, error) {
	successorIDs, err := store.ListSuccessors(ctx, q, doneTaskID)
	if err != nil {
		return nil, err
	}

	var ready []*store.Task
	for _, succID := range successorIDs {
		task, err := store.GetTask(ctx, q, succID)
		if err != nil {
			return nil, err
		}
		ok, err := IsReady(ctx, q, task)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, task)
		}
	}
	return ready, nil
}

// IsReady reports whether a task is eligible for dispatch consideration: not
// cancelled, unblocked, and its parent milestone (if any) approved.
func IsReady(ctx context.Context, q store.Querier, task *store.Task) (bool, error) {
	if task.Cancelled {
		return false, nil
	}

	blocked, err := IsBlocked(ctx, q, task.ID)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}

	approved, err := ParentApproved(ctx, q, task)
	if err != nil {
		return false, err
	}
	return approved, nil
}

// ParentApproved reports whether the task's parent milestone gate is open.
// Tasks without a parent, or whose parent is not a milestone, are ungated.
func ParentApproved(ctx context.Context, q store.Querier, task *store.Task) (bool, error) {
	if task.ParentTaskID == nil {
		return true, nil
	}
	parent, err := store.GetTask(ctx, q, *task.ParentTaskID)
	if err != nil {
		return false, err
	}
	if parent.Type != store.TaskTypeMilestone {
		return true, nil
	}
	return parent.PlanApproved, nil
}
