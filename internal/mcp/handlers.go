package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viberelay/relay/internal/tools"
)

// Handlers binds the tool surface to MCP tool calls for one agent. Every
// handler operates in the scope of taskID, the task the agent was
// dispatched for.
type Handlers struct {
	surface *tools.Surface
	taskID  string
}

// NewHandlers creates a Handlers instance scoped to a task.
func NewHandlers(surface *tools.Surface, taskID string) *Handlers {
	return &Handlers{surface: surface, taskID: taskID}
}

// RegisterAll registers every relay tool with the server.
func (h *Handlers) RegisterAll(server *Server) {
	server.RegisterTool(ToolGetTask, h.HandleGetTask)
	server.RegisterTool(ToolGetBoard, h.HandleGetBoard)
	server.RegisterTool(ToolAddComment, h.HandleAddComment)
	server.RegisterTool(ToolCreateSubtasks, h.HandleCreateSubtasks)
	server.RegisterTool(ToolAddDependency, h.HandleAddDependency)
	server.RegisterTool(ToolRemoveDependency, h.HandleRemoveDependency)
	server.RegisterTool(ToolSetOutput, h.HandleSetOutput)
	server.RegisterTool(ToolCompleteTask, h.HandleCompleteTask)
	server.RegisterTool(ToolApprovePlan, h.HandleApprovePlan)
	server.RegisterTool(ToolAllocatePort, h.HandleAllocatePort)
	server.RegisterTool(ToolReleasePorts, h.HandleReleasePorts)
}

// HandleGetTask handles the relay_get_task tool call.
func (h *Handlers) HandleGetTask(ctx context.Context, _ json.RawMessage) (*ToolCallResult, error) {
	detail, err := h.surface.GetTask(ctx, h.taskID)
	if err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("Task %q at step %q", detail.Task.Title, detail.Step.Name),
		detail,
	), nil
}

// HandleGetBoard handles the relay_get_board tool call.
func (h *Handlers) HandleGetBoard(ctx context.Context, _ json.RawMessage) (*ToolCallResult, error) {
	detail, err := h.surface.GetTask(ctx, h.taskID)
	if err != nil {
		return nil, err
	}
	board, err := h.surface.GetBoard(ctx, detail.Task.ProjectID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, column := range board.Columns {
		total += column.Count
	}
	return StructuredResult(
		fmt.Sprintf("Board for %q: %d tasks across %d steps", board.Project.Title, total, len(board.Columns)),
		board,
	), nil
}

// commentArgs are arguments for relay_add_comment.
type commentArgs struct {
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

// HandleAddComment handles the relay_add_comment tool call.
func (h *Handlers) HandleAddComment(ctx context.Context, rawArgs json.RawMessage) (*ToolCallResult, error) {
	var args commentArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Role == "" {
		args.Role = "agent"
	}

	comment, err := h.surface.AddComment(ctx, h.taskID, args.Content, args.Role)
	if err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("Comment added (id: %s)", comment.ID),
		comment,
	), nil
}

// subtaskSpecArgs is one child in a relay_create_subtasks batch.
type subtaskSpecArgs struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StepID      string `json:"step_id,omitempty"`
	Type        string `json:"type,omitempty"`
}

// createSubtasksArgs are arguments for relay_create_subtasks.
type createSubtasksArgs struct {
	Subtasks        []subtaskSpecArgs `json:"subtasks"`
	DefaultStepID   string            `json:"default_step_id,omitempty"`
	Dependencies    [][]int           `json:"dependencies,omitempty"`
	CascadeDepsFrom string            `json:"cascade_deps_from,omitempty"`
}

// HandleCreateSubtasks handles the relay_create_subtasks tool call.
func (h *Handlers) HandleCreateSubtasks(ctx context.Context, rawArgs json.RawMessage) (*ToolCallResult, error) {
	var args createSubtasksArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	specs := make([]tools.SubtaskSpec, 0, len(args.Subtasks))
	for _, spec := range args.Subtasks {
		specs = append(specs, tools.SubtaskSpec{
			Title:       spec.Title,
			Description: spec.Description,
			StepID:      spec.StepID,
			Type:        spec.Type,
		})
	}

	edges := make([][2]int, 0, len(args.Dependencies))
	for _, pair := range args.Dependencies {
		if len(pair) != 2 {
			return nil, fmt.Errorf("dependencies entries must be [predecessor_index, successor_index] pairs")
		}
		edges = append(edges, [2]int{pair[0], pair[1]})
	}

	created, err := h.surface.CreateSubtasks(ctx, tools.CreateSubtasksParams{
		ParentTaskID:    h.taskID,
		Specs:           specs,
		DefaultStepID:   args.DefaultStepID,
		Dependencies:    edges,
		CascadeDepsFrom: args.CascadeDepsFrom,
	})
	if err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("Created %d subtasks", len(created)),
		created,
	), nil
}

// dependencyArgs are arguments for relay_add_dependency and
// relay_remove_dependency.
type dependencyArgs struct {
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
}

// HandleAddDependency handles the relay_add_dependency tool call.
func (h *Handlers) HandleAddDependency(ctx context.Context, rawArgs json.RawMessage) (*ToolCallResult, error) {
	var args dependencyArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	dep, err := h.surface.AddDependency(ctx, args.PredecessorID, args.SuccessorID)
	if err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("%s now depends on %s", args.SuccessorID, args.PredecessorID),
		dep,
	), nil
}

// HandleRemoveDependency handles the relay_remove_dependency tool call.
func (h *Handlers) HandleRemoveDependency(ctx context.Context, rawArgs json.RawMessage) (*ToolCallResult, error) {
	var args dependencyArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if err := h.surface.RemoveDependency(ctx, args.PredecessorID, args.SuccessorID); err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("Dependency %s -> %s removed", args.PredecessorID, args.SuccessorID),
		map[string]bool{"removed": true},
	), nil
}

// setOutputArgs are arguments for relay_set_output.
type setOutputArgs struct {
	Output string `json:"output"`
}

// HandleSetOutput handles the relay_set_output tool call.
func (h *Handlers) HandleSetOutput(ctx context.Context, rawArgs json.RawMessage) (*ToolCallResult, error) {
	var args setOutputArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	task, err := h.surface.SetTaskOutput(ctx, h.taskID, args.Output)
	if err != nil {
		return nil, err
	}
	return StructuredResult("Output recorded", task), nil
}

// HandleCompleteTask handles the relay_complete_task tool call.
func (h *Handlers) HandleCompleteTask(ctx context.Context, _ json.RawMessage) (*ToolCallResult, error) {
	task, err := h.surface.CompleteTask(ctx, h.taskID)
	if err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("Task %q completed", task.Title),
		task,
	), nil
}

// approvePlanArgs are arguments for relay_approve_plan.
type approvePlanArgs struct {
	TaskID string `json:"task_id,omitempty"`
}

// HandleApprovePlan handles the relay_approve_plan tool call.
func (h *Handlers) HandleApprovePlan(ctx context.Context, rawArgs json.RawMessage) (*ToolCallResult, error) {
	var args approvePlanArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	taskID := args.TaskID
	if taskID == "" {
		taskID = h.taskID
	}

	task, err := h.surface.ApprovePlan(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("Plan approved for %q", task.Title),
		task,
	), nil
}

// HandleAllocatePort handles the relay_allocate_port tool call.
func (h *Handlers) HandleAllocatePort(ctx context.Context, _ json.RawMessage) (*ToolCallResult, error) {
	port, err := h.surface.AllocatePort(ctx, h.taskID)
	if err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("Allocated port %d", port),
		map[string]int{"port": port},
	), nil
}

// HandleReleasePorts handles the relay_release_ports tool call.
func (h *Handlers) HandleReleasePorts(ctx context.Context, _ json.RawMessage) (*ToolCallResult, error) {
	released, err := h.surface.ReleasePorts(ctx, h.taskID)
	if err != nil {
		return nil, err
	}
	return StructuredResult(
		fmt.Sprintf("Released %d ports", released),
		map[string]int{"released": released},
	), nil
}
