package tools

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viberelay/relay/internal/depgraph"
	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/store"
)

// AddDependency creates a predecessor -> successor edge and emits
// dependency_created. Self-loops, duplicates, and cycle-closing edges are
// rejected.
func (s *Surface) AddDependency(ctx context.Context, predecessorID, successorID string) (*store.TaskDependency, error) {
	ctx, span := startSpan(ctx, "add_dependency",
		attribute.String("predecessor.id", predecessorID),
		attribute.String("successor.id", successorID))
	defer span.End()

	if predecessorID == successorID {
		return nil, InvalidInputf("a task cannot depend on itself")
	}

	var dep *store.TaskDependency
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.GetTask(ctx, tx, predecessorID); err != nil {
			return err
		}
		if _, err := store.GetTask(ctx, tx, successorID); err != nil {
			return err
		}

		exists, err := store.DependencyExists(ctx, tx, predecessorID, successorID)
		if err != nil {
			return err
		}
		if exists {
			return InvalidInputf("dependency %s -> %s already exists", predecessorID, successorID)
		}

		cycle, err := depgraph.WouldCycle(ctx, tx, predecessorID, successorID)
		if err != nil {
			return err
		}
		if cycle {
			return InvalidInputf("dependency %s -> %s would create a cycle", predecessorID, successorID)
		}

		dep = &store.TaskDependency{
			ID:            uuid.NewString(),
			PredecessorID: predecessorID,
			SuccessorID:   successorID,
			CreatedAt:     store.FormatTime(store.Now()),
		}
		if err := store.InsertDependency(ctx, tx, dep); err != nil {
			return err
		}
		return emit(ctx, tx, events.DependencyCreated{
			DependencyID:  dep.ID,
			PredecessorID: predecessorID,
			SuccessorID:   successorID,
		})
	})
	if err != nil {
		return nil, tagErr(err)
	}
	return dep, nil
}

// RemoveDependency deletes an edge and emits dependency_removed.
func (s *Surface) RemoveDependency(ctx context.Context, predecessorID, successorID string) error {
	ctx, span := startSpan(ctx, "remove_dependency",
		attribute.String("predecessor.id", predecessorID),
		attribute.String("successor.id", successorID))
	defer span.End()

	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		dep, err := store.DeleteDependency(ctx, tx, predecessorID, successorID)
		if err != nil {
			return err
		}
		return emit(ctx, tx, events.DependencyRemoved{
			DependencyID:  dep.ID,
			PredecessorID: dep.PredecessorID,
			SuccessorID:   dep.SuccessorID,
		})
	})
	return tagErr(err)
}

// Dependencies holds both directions of a task's edges.
type Dependencies struct {
	Predecessors []*store.Task `json:"predecessors"`
	Successors   []*store.Task `json:"successors"`
}

// GetDependencies returns the tasks the given task depends on and the tasks
// depending on it.
func (s *Surface) GetDependencies(ctx context.Context, taskID string) (*Dependencies, error) {
	db := s.store.DB()
	if _, err := store.GetTask(ctx, db, taskID); err != nil {
		return nil, tagErr(err)
	}

	deps := &Dependencies{}
	predIDs, err := store.ListPredecessors(ctx, db, taskID)
	if err != nil {
		return nil, err
	}
	for _, id := range predIDs {
		task, err := store.GetTask(ctx, db, id)
		if err != nil {
			return nil, tagErr(err)
		}
		deps.Predecessors = append(deps.Predecessors, task)
	}

	succIDs, err := store.ListSuccessors(ctx, db, taskID)
	if err != nil {
		return nil, err
	}
	for _, id := range succIDs {
		task, err := store.GetTask(ctx, db, id)
		if err != nil {
			return nil, tagErr(err)
		}
		deps.Successors = append(deps.Successors, task)
	}
	return deps, nil
}
