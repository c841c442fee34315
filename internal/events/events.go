// Package events defines the closed set of event types flowing through the
// event log, with one payload struct per type. Payloads are stored as JSON
// but handled in-process as typed variants.
package events

import (
	"encoding/json"
	"fmt"
)

// Type identifies an event kind.
type Type string

const (
	TypeProjectCreated     Type = "project_created"
	TypeProjectUpdated     Type = "project_updated"
	TypeTaskCreated        Type = "task_created"
	TypeTaskMoved          Type = "task_moved"
	TypeTaskCancelled      Type = "task_cancelled"
	TypeTaskUncancelled    Type = "task_uncancelled"
	TypeTaskUpdated        Type = "task_updated"
	TypeTaskReady          Type = "task_ready"
	TypeSubtasksCreated    Type = "subtasks_created"
	TypeCommentAdded       Type = "comment_added"
	TypeDependencyCreated  Type = "dependency_created"
	TypeDependencyRemoved  Type = "dependency_removed"
	TypePlanApproved       Type = "plan_approved"
	TypeMilestoneCompleted Type = "milestone_completed"

	// TypeOrchestratorTrigger is reserved for external nudges of the trigger
	// processor. Consumed without action.
	TypeOrchestratorTrigger Type = "orchestrator_trigger"
)

// TriggerTypes lists the event types the trigger processor consumes.
func TriggerTypes() []string {
	return []string{
		string(TypeTaskMoved),
		string(TypeTaskCreated),
		string(TypeTaskCancelled),
		string(TypeTaskReady),
		string(TypeTaskUpdated),
		string(TypePlanApproved),
		string(TypeMilestoneCompleted),
		string(TypeOrchestratorTrigger),
	}
}

// Move directions carried in task_moved payloads.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// Payload is implemented by every event payload variant.
type Payload interface {
	EventType() Type
}

type ProjectCreated struct {
	ProjectID string `json:"project_id"`
}

type ProjectUpdated struct {
	ProjectID string `json:"project_id"`
}

type TaskCreated struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

type TaskMoved struct {
	TaskID       string `json:"task_id"`
	OldStepID    string `json:"old_step_id"`
	NewStepID    string `json:"new_step_id"`
	ProjectID    string `json:"project_id"`
	FromStepName string `json:"from_step_name"`
	ToStepName   string `json:"to_step_name"`
	FromPosition int    `json:"from_position"`
	ToPosition   int    `json:"to_position"`
	Direction    string `json:"direction"`
}

type TaskCancelled struct {
	TaskID string `json:"task_id"`
}

type TaskUncancelled struct {
	TaskID string `json:"task_id"`
}

type TaskUpdated struct {
	TaskID string `json:"task_id"`
}

type TaskReady struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

type SubtasksCreated struct {
	ParentTaskID string   `json:"parent_task_id"`
	TaskIDs      []string `json:"task_ids"`
}

type CommentAdded struct {
	CommentID string `json:"comment_id"`
	TaskID    string `json:"task_id"`
}

type DependencyCreated struct {
	DependencyID  string `json:"dependency_id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
}

type DependencyRemoved struct {
	DependencyID  string `json:"dependency_id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
}

type PlanApproved struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

type MilestoneCompleted struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
}

type OrchestratorTrigger struct {
	Reason string `json:"reason,omitempty"`
}

func (ProjectCreated) EventType() Type      { return TypeProjectCreated }
func (ProjectUpdated) EventType() Type      { return TypeProjectUpdated }
func (TaskCreated) EventType() Type         { return TypeTaskCreated }
func (TaskMoved) EventType() Type           { return TypeTaskMoved }
func (TaskCancelled) EventType() Type       { return TypeTaskCancelled }
func (TaskUncancelled) EventType() Type     { return TypeTaskUncancelled }
func (TaskUpdated) EventType() Type         { return TypeTaskUpdated }
func (TaskReady) EventType() Type           { return TypeTaskReady }
func (SubtasksCreated) EventType() Type     { return TypeSubtasksCreated }
func (CommentAdded) EventType() Type        { return TypeCommentAdded }
func (DependencyCreated) EventType() Type   { return TypeDependencyCreated }
func (DependencyRemoved) EventType() Type   { return TypeDependencyRemoved }
func (PlanApproved) EventType() Type        { return TypePlanApproved }
func (MilestoneCompleted) EventType() Type  { return TypeMilestoneCompleted }
func (OrchestratorTrigger) EventType() Type { return TypeOrchestratorTrigger }

// Marshal encodes a payload for storage.
func Marshal(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", p.EventType(), err)
	}
	return string(data), nil
}

// Decode parses a stored payload into its typed variant. Unknown types return
// an error so consumers fail loudly instead of silently dropping data.
func Decode(eventType string, payload string) (Payload, error) {
	var p Payload
	switch Type(eventType) {
	case TypeProjectCreated:
		p = &ProjectCreated{}
	case TypeProjectUpdated:
		p = &ProjectUpdated{}
	case TypeTaskCreated:
		p = &TaskCreated{}
	case TypeTaskMoved:
		p = &TaskMoved{}
	case TypeTaskCancelled:
		p = &TaskCancelled{}
	case TypeTaskUncancelled:
		p = &TaskUncancelled{}
	case TypeTaskUpdated:
		p = &TaskUpdated{}
	case TypeTaskReady:
		p = &TaskReady{}
	case TypeSubtasksCreated:
		p = &SubtasksCreated{}
	case TypeCommentAdded:
		p = &CommentAdded{}
	case TypeDependencyCreated:
		p = &DependencyCreated{}
	case TypeDependencyRemoved:
		p = &DependencyRemoved{}
	case TypePlanApproved:
		p = &PlanApproved{}
	case TypeMilestoneCompleted:
		p = &MilestoneCompleted{}
	case TypeOrchestratorTrigger:
		p = &OrchestratorTrigger{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err := json.Unmarshal([]byte(payload), p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", eventType, err)
	}
	return p, nil
}
