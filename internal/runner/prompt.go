package runner

import (
	"fmt"
	"strings"

	"github.com/viberelay/relay/internal/store"
)

// buildPrompt assembles the agent prompt from three framed sections: the
// step's system prompt, the issue fields, and (when present) the task's
// comment thread in chronological order.
func buildPrompt(task *store.Task, step *store.WorkflowStep, comments []*store.Comment) string {
	var b strings.Builder

	b.WriteString("<system_prompt>\n")
	if step.SystemPrompt != nil {
		b.WriteString(strings.TrimSpace(*step.SystemPrompt))
	}
	b.WriteString("\n</system_prompt>\n\n")

	b.WriteString("<issue>\n")
	fmt.Fprintf(&b, "task_id: %s\n", task.ID)
	fmt.Fprintf(&b, "project_id: %s\n", task.ProjectID)
	if task.ParentTaskID != nil {
		fmt.Fprintf(&b, "parent_task_id: %s\n", *task.ParentTaskID)
	}
	fmt.Fprintf(&b, "title: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "description: %s\n", task.Description)
	}
	fmt.Fprintf(&b, "step: %s\n", step.Name)
	if task.Branch != nil {
		fmt.Fprintf(&b, "branch: %s\n", *task.Branch)
	}
	if task.WorktreePath != nil {
		fmt.Fprintf(&b, "worktree: %s\n", *task.WorktreePath)
	}
	b.WriteString("</issue>\n")

	if len(comments) > 0 {
		b.WriteString("\n<comments>\n")
		for _, c := range comments {
			fmt.Fprintf(&b, "[%s] %s: %s\n", c.AuthorRole, c.CreatedAt, c.Content)
		}
		b.WriteString("</comments>\n")
	}

	return b.String()
}
