// Package statemachine validates task step transitions and the cancel flag.
// It is pure: callers load the positions, the package only judges them.
package statemachine

import "fmt"

// InvalidTransitionError reports a rejected transition with both the current
// and requested values.
type InvalidTransitionError struct {
	TaskID       string
	FromPosition int
	ToPosition   int
	Reason       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s from position %d to %d: %s",
		e.TaskID, e.FromPosition, e.ToPosition, e.Reason)
}

// Move describes a requested step change for validation.
type Move struct {
	TaskID        string
	Cancelled     bool
	FromProjectID string
	ToProjectID   string
	FromPosition  int
	ToPosition    int
}

// ValidateMove checks a step change. Forward moves may only advance by one
// position; backward moves may target any earlier position. Same-step and
// cross-project moves are rejected, as is any move of a cancelled task.
func ValidateMove(m Move) error {
	reject := func(reason string) error {
		return &InvalidTransitionError{
			TaskID:       m.TaskID,
			FromPosition: m.FromPosition,
			ToPosition:   m.ToPosition,
			Reason:       reason,
		}
	}

	if m.Cancelled {
		return reject("task is cancelled")
	}
	if m.FromProjectID != m.ToProjectID {
		return reject("target step belongs to a different project")
	}
	if m.ToPosition == m.FromPosition {
		return reject("task is already at this step")
	}
	if m.ToPosition > m.FromPosition+1 {
		return reject("forward moves may not skip steps")
	}
	return nil
}

// ValidateCancel rejects cancelling an already-cancelled task.
func ValidateCancel(taskID string, cancelled bool) error {
	if cancelled {
		return &InvalidTransitionError{TaskID: taskID, Reason: "task is already cancelled"}
	}
	return nil
}

// ValidateUncancel rejects uncancelling a task that is not cancelled.
func ValidateUncancel(taskID string, cancelled bool) error {
	if !cancelled {
		return &InvalidTransitionError{TaskID: taskID, Reason: "task is not cancelled"}
	}
	return nil
}
