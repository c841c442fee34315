package mcp

// RelayTools returns the tool definitions exposed to an in-flight agent.
// Every tool operates in the scope of the task the agent was dispatched for.
func RelayTools() []Tool {
	return []Tool{
		ToolGetTask,
		ToolGetBoard,
		ToolAddComment,
		ToolCreateSubtasks,
		ToolAddDependency,
		ToolRemoveDependency,
		ToolSetOutput,
		ToolCompleteTask,
		ToolApprovePlan,
		ToolAllocatePort,
		ToolReleasePorts,
	}
}

// ToolGetTask returns the agent's own task with step, comments, and runs.
var ToolGetTask = Tool{
	Name:        "relay_get_task",
	Description: "Get your task: title, description, workflow step, comments, and run history. Call this first to understand your assignment.",
	InputSchema: &InputSchema{
		Type:       "object",
		Properties: map[string]*PropertySchema{},
	},
}

// ToolGetBoard returns the project board grouped by workflow step.
var ToolGetBoard = Tool{
	Name:        "relay_get_board",
	Description: "Get the project board: every workflow step with the tasks currently at it, each annotated with whether an agent is working on it.",
	InputSchema: &InputSchema{
		Type:       "object",
		Properties: map[string]*PropertySchema{},
	},
}

// ToolAddComment posts a comment on the agent's task.
var ToolAddComment = Tool{
	Name:        "relay_add_comment",
	Description: "Add a comment to your task. Use this to record findings, decisions, and progress notes for humans and later runs.",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"content": {Type: "string", Description: "Comment text"},
			"role": {
				Type:        "string",
				Description: "Author role recorded on the comment (default: 'agent')",
			},
		},
		Required: []string{"content"},
	},
}

// ToolCreateSubtasks creates a batch of child tasks under the agent's task.
var ToolCreateSubtasks = Tool{
	Name:        "relay_create_subtasks",
	Description: "Create child tasks under your task in one batch. Use 'dependencies' (pairs of list indexes, predecessor then successor) for ordering within the batch; all edges are in place before any child becomes dispatchable.",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"subtasks": {
				Type:        "array",
				Description: "Child task specs in creation order",
				Items: &PropertySchema{
					Type: "object",
					Properties: map[string]*PropertySchema{
						"title":       {Type: "string", Description: "Task title"},
						"description": {Type: "string", Description: "Task description"},
						"step_id":     {Type: "string", Description: "Workflow step (defaults to the batch default)"},
						"type": {
							Type:        "string",
							Description: "Task type (default: 'task')",
							Enum:        []string{"task", "research", "milestone"},
						},
					},
					Required: []string{"title"},
				},
			},
			"default_step_id": {
				Type:        "string",
				Description: "Step for children that omit step_id (defaults to the step after yours)",
			},
			"dependencies": {
				Type:        "array",
				Description: "Intra-batch edges as [predecessor_index, successor_index] pairs",
				Items: &PropertySchema{
					Type:  "array",
					Items: &PropertySchema{Type: "number"},
				},
			},
			"cascade_deps_from": {
				Type:        "string",
				Description: "Task id whose existing successors should additionally depend on every new child",
			},
		},
		Required: []string{"subtasks"},
	},
}

// ToolAddDependency creates a predecessor → successor edge.
var ToolAddDependency = Tool{
	Name:        "relay_add_dependency",
	Description: "Make one task depend on another. The successor will not be dispatched until the predecessor reaches the terminal step. Cycles are rejected.",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"predecessor_id": {Type: "string", Description: "Task that must finish first"},
			"successor_id":   {Type: "string", Description: "Task that waits"},
		},
		Required: []string{"predecessor_id", "successor_id"},
	},
}

// ToolRemoveDependency deletes an existing edge.
var ToolRemoveDependency = Tool{
	Name:        "relay_remove_dependency",
	Description: "Remove an existing dependency edge between two tasks.",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"predecessor_id": {Type: "string", Description: "Edge predecessor"},
			"successor_id":   {Type: "string", Description: "Edge successor"},
		},
		Required: []string{"predecessor_id", "successor_id"},
	},
}

// ToolSetOutput records the task's output text.
var ToolSetOutput = Tool{
	Name:        "relay_set_output",
	Description: "Set your task's output. Research tasks use this to surface findings to dependent tasks.",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"output": {Type: "string", Description: "Output text"},
		},
		Required: []string{"output"},
	},
}

// ToolCompleteTask moves the agent's task to the terminal step.
var ToolCompleteTask = Tool{
	Name:        "relay_complete_task",
	Description: "Mark your task complete. Moves it to the terminal step, unblocks dependent tasks, and may auto-advance your parent milestone. Call this exactly once, when your work is done and committed.",
	InputSchema: &InputSchema{
		Type:       "object",
		Properties: map[string]*PropertySchema{},
	},
}

// ToolApprovePlan approves a milestone, releasing its children.
var ToolApprovePlan = Tool{
	Name:        "relay_approve_plan",
	Description: "Approve a milestone's plan. Its non-blocked children become dispatchable. Only milestones with at least one child can be approved.",
	InputSchema: &InputSchema{
		Type: "object",
		Properties: map[string]*PropertySchema{
			"task_id": {Type: "string", Description: "Milestone task id (defaults to your own task)"},
		},
	},
}

// ToolAllocatePort reserves a port from the configured range.
var ToolAllocatePort = Tool{
	Name:        "relay_allocate_port",
	Description: "Allocate a free port from the configured range for a dev server or test fixture. The port stays reserved for your task until released or the task is cleaned up.",
	InputSchema: &InputSchema{
		Type:       "object",
		Properties: map[string]*PropertySchema{},
	},
}

// ToolReleasePorts frees every port held by the agent's task.
var ToolReleasePorts = Tool{
	Name:        "relay_release_ports",
	Description: "Release every port allocated to your task.",
	InputSchema: &InputSchema{
		Type:       "object",
		Properties: map[string]*PropertySchema{},
	},
}
