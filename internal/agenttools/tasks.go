package agenttools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sitegrid/foreman/internal/orchestrator"
)

// TaskAssignTool handles the task_assign MCP tool.
type TaskAssignTool struct {
	orch *orchestrator.Orchestrator
}

// NewTaskAssignTool creates a TaskAssignTool.
func NewTaskAssignTool(orch *orchestrator.Orchestrator) *TaskAssignTool {
	return &TaskAssignTool{orch: orch}
}

// Definition returns the MCP tool definition for task_assign.
func (t *TaskAssignTool) Definition() mcp.Tool {
	return mcp.NewTool("task_assign",
		mcp.WithDescription(
			"Queue a task on a specific ACTIVE agent. Tasks are consumed priority-first (10 highest), "+
				"oldest-first within the same priority.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Target agent identifier"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Task type label (e.g. 'ESTIMATE_BID', 'GENERATE_REPORT')"),
		),
		mcp.WithObject("payload",
			mcp.Description("Task input document (JSON object)"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Priority 1-10; defaults to 5"),
		),
	)
}

// Handle processes the task_assign tool call.
func (t *TaskAssignTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	taskType := req.GetString("type", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if taskType == "" {
		return mcp.NewToolResultError("'type' is required"), nil
	}

	task, err := t.orch.AssignTask(agentID, orchestrator.TaskInput{
		Type:     taskType,
		Payload:  objectArg(req, "payload"),
		Priority: req.GetInt("priority", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to assign task: %v", err)), nil
	}
	return jsonResult(task), nil
}

// ─── TaskRouteTool ──────────────────────────────────────────────────────────

// TaskRouteTool handles the task_route MCP tool.
type TaskRouteTool struct {
	orch *orchestrator.Orchestrator
}

// NewTaskRouteTool creates a TaskRouteTool.
func NewTaskRouteTool(orch *orchestrator.Orchestrator) *TaskRouteTool {
	return &TaskRouteTool{orch: orch}
}

// Definition returns the MCP tool definition for task_route.
func (t *TaskRouteTool) Definition() mcp.Tool {
	return mcp.NewTool("task_route",
		mcp.WithDescription(
			"Queue a task on whichever agent currently owns a module. Ownership is deterministic: "+
				"the earliest-registered ACTIVE agent for the module wins.",
		),
		mcp.WithString("module",
			mcp.Required(),
			mcp.Description("Module to route to"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Task type label"),
		),
		mcp.WithObject("payload",
			mcp.Description("Task input document (JSON object)"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Priority 1-10; defaults to 5"),
		),
	)
}

// Handle processes the task_route tool call.
func (t *TaskRouteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	module := req.GetString("module", "")
	taskType := req.GetString("type", "")
	if module == "" {
		return mcp.NewToolResultError("'module' is required"), nil
	}
	if taskType == "" {
		return mcp.NewToolResultError("'type' is required"), nil
	}

	task, err := t.orch.RouteTask(orchestrator.RouteInput{
		Module:   module,
		Type:     taskType,
		Payload:  objectArg(req, "payload"),
		Priority: req.GetInt("priority", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to route task: %v", err)), nil
	}
	return jsonResult(task), nil
}

// ─── TaskStartTool ──────────────────────────────────────────────────────────

// TaskStartTool handles the task_start MCP tool.
type TaskStartTool struct {
	orch *orchestrator.Orchestrator
}

// NewTaskStartTool creates a TaskStartTool.
func NewTaskStartTool(orch *orchestrator.Orchestrator) *TaskStartTool {
	return &TaskStartTool{orch: orch}
}

// Definition returns the MCP tool definition for task_start.
func (t *TaskStartTool) Definition() mcp.Tool {
	return mcp.NewTool("task_start",
		mcp.WithDescription("Claim a PENDING task, moving it to IN_PROGRESS. Fails if the task already left PENDING."),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("Task identifier"),
		),
	)
}

// Handle processes the task_start tool call.
func (t *TaskStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetInt("task_id", 0)
	if taskID == 0 {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}

	task, err := t.orch.StartTask(int64(taskID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start task: %v", err)), nil
	}
	return jsonResult(task), nil
}

// ─── TaskCompleteTool ───────────────────────────────────────────────────────

// TaskCompleteTool handles the task_complete MCP tool.
type TaskCompleteTool struct {
	orch *orchestrator.Orchestrator
}

// NewTaskCompleteTool creates a TaskCompleteTool.
func NewTaskCompleteTool(orch *orchestrator.Orchestrator) *TaskCompleteTool {
	return &TaskCompleteTool{orch: orch}
}

// Definition returns the MCP tool definition for task_complete.
func (t *TaskCompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("task_complete",
		mcp.WithDescription("Mark a task COMPLETED, storing its result document and completion time."),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("Task identifier"),
		),
		mcp.WithObject("result",
			mcp.Description("Task output document (JSON object)"),
		),
	)
}

// Handle processes the task_complete tool call.
func (t *TaskCompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetInt("task_id", 0)
	if taskID == 0 {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}

	task, err := t.orch.CompleteTask(int64(taskID), objectArg(req, "result"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to complete task: %v", err)), nil
	}
	return jsonResult(task), nil
}

// ─── TaskListTool ───────────────────────────────────────────────────────────

// TaskListTool handles the task_list MCP tool.
type TaskListTool struct {
	orch *orchestrator.Orchestrator
}

// NewTaskListTool creates a TaskListTool.
func NewTaskListTool(orch *orchestrator.Orchestrator) *TaskListTool {
	return &TaskListTool{orch: orch}
}

// Definition returns the MCP tool definition for task_list.
func (t *TaskListTool) Definition() mcp.Tool {
	return mcp.NewTool("task_list",
		mcp.WithDescription("List an agent's tasks in queue order (priority descending, then oldest first)."),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent identifier"),
		),
		mcp.WithString("status",
			mcp.Description("Filter: PENDING, IN_PROGRESS, COMPLETED or CANCELLED"),
		),
	)
}

// Handle processes the task_list tool call.
func (t *TaskListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	tasks, err := t.orch.GetAgentTasks(agentID, req.GetString("status", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks match."), nil
	}
	return jsonResult(tasks), nil
}
