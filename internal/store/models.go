package store

import (
	"fmt"
	"time"
)

// Timestamps are stored as ISO-8601 UTC text so the event log orders
// lexicographically the same as chronologically.
const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// Now returns the current time normalized to UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatTime renders t as a stored timestamp string.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp string.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// Project status values.
const (
	ProjectActive    = "active"
	ProjectCancelled = "cancelled"
)

// Task type values.
const (
	TaskTypeTask      = "task"
	TaskTypeResearch  = "research"
	TaskTypeMilestone = "milestone"
)

// Project represents a row in the projects table.
type Project struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	RepoPath    *string `json:"repo_path,omitempty"`
	BaseBranch  *string `json:"base_branch,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// WorkflowStep represents a row in the workflow_steps table.
type WorkflowStep struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	Name         string  `json:"name"`
	Position     int     `json:"position"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
	Model        *string `json:"model,omitempty"`
	Color        *string `json:"color,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// IsAgentStep reports whether tasks arriving at this step dispatch an agent.
func (s *WorkflowStep) IsAgentStep() bool {
	return s.SystemPrompt != nil && *s.SystemPrompt != ""
}

// Task represents a row in the tasks table.
type Task struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	ParentTaskID *string `json:"parent_task_id,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	StepID       string  `json:"step_id"`
	Cancelled    bool    `json:"cancelled"`
	Type         string  `json:"type"`
	PlanApproved bool    `json:"plan_approved"`
	Output       *string `json:"output,omitempty"`
	WorktreePath *string `json:"worktree_path,omitempty"`
	Branch       *string `json:"branch,omitempty"`
	SessionID    *string `json:"session_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Comment represents a row in the comments table.
type Comment struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	AuthorRole string `json:"author_role"`
	Content    string `json:"content"`
	CreatedAt  string `json:"created_at"`
}

// AgentRun represents a row in the agent_runs table.
// A run is active while completed_at is null.
type AgentRun struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	StepID      string  `json:"step_id"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	ExitCode    *int    `json:"exit_code,omitempty"`
	Error       *string `json:"error,omitempty"`
}

// Active reports whether the run is still open.
func (r *AgentRun) Active() bool {
	return r.CompletedAt == nil
}

// TaskDependency represents a row in the task_dependencies table.
// The edge reads predecessor -> successor.
type TaskDependency struct {
	ID            string `json:"id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
	CreatedAt     string `json:"created_at"`
}

// Event represents a row in the events table. The two consumed flags are
// independent cursors: one for the broadcaster, one for the trigger
// processor.
type Event struct {
	ID                    string `json:"id"`
	Type                  string `json:"type"`
	Payload               string `json:"payload"`
	CreatedAt             string `json:"created_at"`
	ConsumedByBroadcaster bool   `json:"consumed_by_broadcaster"`
	ConsumedByTrigger     bool   `json:"consumed_by_trigger"`
}

// Port represents a row in the ports table.
type Port struct {
	Port        int    `json:"port"`
	TaskID      string `json:"task_id"`
	AllocatedAt string `json:"allocated_at"`
}
