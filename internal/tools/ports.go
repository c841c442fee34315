package tools

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/store"
)

// AllocatePort reserves the first free port in the configured range for a
// task. Agents use it to claim dev-server ports without colliding.
func (s *Surface) AllocatePort(ctx context.Context, taskID string) (int, error) {
	ctx, span := startSpan(ctx, "allocate_port", attribute.String("task.id", taskID))
	defer span.End()

	start, end := s.cfg.PortRange[0], s.cfg.PortRange[1]
	var port int
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.GetTask(ctx, tx, taskID); err != nil {
			return err
		}
		var err error
		port, err = store.AllocatePort(ctx, tx, taskID, start, end, store.FormatTime(store.Now()))
		if errors.Is(err, store.ErrNotFound) {
			return InvalidInputf("no free port in range [%d, %d]", start, end)
		}
		return err
	})
	if err != nil {
		return 0, tagErr(err)
	}

	log.Info(log.CatTools, "Allocated port", "task_id", taskID, "port", port)
	return port, nil
}

// ReleasePorts frees every port held by the task, returning how many were
// released.
func (s *Surface) ReleasePorts(ctx context.Context, taskID string) (int, error) {
	ctx, span := startSpan(ctx, "release_ports", attribute.String("task.id", taskID))
	defer span.End()

	var released int
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.GetTask(ctx, tx, taskID); err != nil {
			return err
		}
		var err error
		released, err = store.ReleasePorts(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return 0, tagErr(err)
	}
	return released, nil
}
