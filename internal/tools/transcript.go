package tools

import (
	"context"
	"errors"

	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/transcript"
)

// GetTranscript returns a paginated slice of the task's agent transcript.
// running is derived from the presence of an open agent run, so callers see
// "running" while the subprocess is alive and "completed" after it exits.
func (s *Surface) GetTranscript(ctx context.Context, reader *transcript.Reader, taskID string, offset int) (transcript.Result, error) {
	db := s.store.DB()
	task, err := store.GetTask(ctx, db, taskID)
	if err != nil {
		return transcript.Result{}, tagErr(err)
	}

	running := true
	if _, err := store.GetActiveRun(ctx, db, taskID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return transcript.Result{}, err
		}
		running = false
	}

	return reader.Read(task, running, offset), nil
}
