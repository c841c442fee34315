package tools

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/store"
)

// AddComment appends a comment to a task and emits comment_added. Any
// non-empty author role is accepted.
func (s *Surface) AddComment(ctx context.Context, taskID, content, authorRole string) (*store.Comment, error) {
	ctx, span := startSpan(ctx, "add_comment", attribute.String("task.id", taskID))
	defer span.End()

	if authorRole == "" {
		return nil, InvalidRolef("author role is required")
	}
	if content == "" {
		return nil, InvalidInputf("content is required")
	}

	var comment *store.Comment
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := store.GetTask(ctx, tx, taskID); err != nil {
			return err
		}

		comment = &store.Comment{
			ID:         uuid.NewString(),
			TaskID:     taskID,
			AuthorRole: authorRole,
			Content:    content,
			CreatedAt:  store.FormatTime(store.Now()),
		}
		if err := store.InsertComment(ctx, tx, comment); err != nil {
			return err
		}
		return emit(ctx, tx, events.CommentAdded{CommentID: comment.ID, TaskID: taskID})
	})
	if err != nil {
		return nil, tagErr(err)
	}
	return comment, nil
}

// GetComments returns a task's comments in chronological order.
func (s *Surface) GetComments(ctx context.Context, taskID string) ([]*store.Comment, error) {
	db := s.store.DB()
	if _, err := store.GetTask(ctx, db, taskID); err != nil {
		return nil, tagErr(err)
	}
	return store.ListTaskComments(ctx, db, taskID)
}
