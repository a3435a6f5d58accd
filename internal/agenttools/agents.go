package agenttools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sitegrid/foreman/internal/orchestrator"
)

// AgentRegisterTool handles the agent_register MCP tool.
type AgentRegisterTool struct {
	orch *orchestrator.Orchestrator
}

// NewAgentRegisterTool creates an AgentRegisterTool.
func NewAgentRegisterTool(orch *orchestrator.Orchestrator) *AgentRegisterTool {
	return &AgentRegisterTool{orch: orch}
}

// Definition returns the MCP tool definition for agent_register.
func (t *AgentRegisterTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_register",
		mcp.WithDescription(
			"Register a new agent bound to a module. The agent starts DORMANT — call agent_start to activate it.",
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Human-readable agent name (e.g. 'estimator-1')"),
		),
		mcp.WithString("module",
			mcp.Required(),
			mcp.Description("Module this agent serves (e.g. 'estimating', 'scheduling')"),
		),
	)
}

// Handle processes the agent_register tool call.
func (t *AgentRegisterTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	module := req.GetString("module", "")
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	if module == "" {
		return mcp.NewToolResultError("'module' is required"), nil
	}

	agent, err := t.orch.RegisterAgent(name, module)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register agent: %v", err)), nil
	}
	return jsonResult(agent), nil
}

// ─── AgentControlTool ───────────────────────────────────────────────────────

// AgentControlTool handles the agent_control MCP tool: start, stop, pause and
// resume share one verb-dispatched entry point because they take identical
// arguments.
type AgentControlTool struct {
	orch *orchestrator.Orchestrator
}

// NewAgentControlTool creates an AgentControlTool.
func NewAgentControlTool(orch *orchestrator.Orchestrator) *AgentControlTool {
	return &AgentControlTool{orch: orch}
}

// Definition returns the MCP tool definition for agent_control.
func (t *AgentControlTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_control",
		mcp.WithDescription(
			"Drive an agent through its lifecycle. start activates a DORMANT or PAUSED agent "+
				"(running its initialization sequence), stop cancels its open tasks and terminates it permanently, "+
				"pause suspends an ACTIVE agent, resume reactivates a PAUSED one.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent identifier returned by agent_register"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("One of: start, stop, pause, resume"),
			mcp.Enum("start", "stop", "pause", "resume"),
		),
	)
}

// Handle processes the agent_control tool call.
func (t *AgentControlTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	var (
		agent *orchestrator.Agent
		err   error
	)
	action := req.GetString("action", "")
	switch action {
	case "start":
		agent, err = t.orch.StartAgent(agentID)
	case "stop":
		agent, err = t.orch.StopAgent(agentID)
	case "pause":
		agent, err = t.orch.PauseAgent(agentID)
	case "resume":
		agent, err = t.orch.ResumeAgent(agentID)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s agent: %v", action, err)), nil
	}
	return jsonResult(agent), nil
}

// ─── AgentStatusTool ────────────────────────────────────────────────────────

// AgentStatusTool handles the agent_status MCP tool.
type AgentStatusTool struct {
	orch *orchestrator.Orchestrator
}

// NewAgentStatusTool creates an AgentStatusTool.
func NewAgentStatusTool(orch *orchestrator.Orchestrator) *AgentStatusTool {
	return &AgentStatusTool{orch: orch}
}

// Definition returns the MCP tool definition for agent_status.
func (t *AgentStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_status",
		mcp.WithDescription("Fetch a single agent's record: lifecycle status, state document, heartbeat and timestamps."),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent identifier"),
		),
	)
}

// Handle processes the agent_status tool call.
func (t *AgentStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	agent, err := t.orch.GetAgent(agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get agent: %v", err)), nil
	}
	return jsonResult(agent), nil
}

// ─── AgentListTool ──────────────────────────────────────────────────────────

// AgentListTool handles the agent_list MCP tool.
type AgentListTool struct {
	orch *orchestrator.Orchestrator
}

// NewAgentListTool creates an AgentListTool.
func NewAgentListTool(orch *orchestrator.Orchestrator) *AgentListTool {
	return &AgentListTool{orch: orch}
}

// Definition returns the MCP tool definition for agent_list.
func (t *AgentListTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_list",
		mcp.WithDescription("List registered agents, optionally narrowed by lifecycle status and/or module."),
		mcp.WithString("status",
			mcp.Description("Filter: DORMANT, INITIALIZING, ACTIVE, PAUSED, ERROR or TERMINATED"),
		),
		mcp.WithString("module",
			mcp.Description("Filter: only agents bound to this module"),
		),
	)
}

// Handle processes the agent_list tool call.
func (t *AgentListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agents, err := t.orch.ListAgents(orchestrator.ListFilters{
		Status: orchestrator.Status(req.GetString("status", "")),
		Module: req.GetString("module", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list agents: %v", err)), nil
	}
	if len(agents) == 0 {
		return mcp.NewToolResultText("No agents match."), nil
	}
	return jsonResult(agents), nil
}

// ─── AgentHeartbeatTool ─────────────────────────────────────────────────────

// AgentHeartbeatTool handles the agent_heartbeat MCP tool.
type AgentHeartbeatTool struct {
	orch *orchestrator.Orchestrator
}

// NewAgentHeartbeatTool creates an AgentHeartbeatTool.
func NewAgentHeartbeatTool(orch *orchestrator.Orchestrator) *AgentHeartbeatTool {
	return &AgentHeartbeatTool{orch: orch}
}

// Definition returns the MCP tool definition for agent_heartbeat.
func (t *AgentHeartbeatTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_heartbeat",
		mcp.WithDescription("Record a liveness heartbeat for an agent. Long-running agents should call this periodically."),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent identifier"),
		),
	)
}

// Handle processes the agent_heartbeat tool call.
func (t *AgentHeartbeatTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	if err := t.orch.RecordHeartbeat(agentID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record heartbeat: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Heartbeat recorded for %s", agentID)), nil
}
