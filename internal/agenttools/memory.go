package agenttools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sitegrid/foreman/internal/graph"
)

// MemoryStoreTool handles the memory_store MCP tool.
type MemoryStoreTool struct {
	graph *graph.Graph
}

// NewMemoryStoreTool creates a MemoryStoreTool.
func NewMemoryStoreTool(g *graph.Graph) *MemoryStoreTool {
	return &MemoryStoreTool{graph: g}
}

// Definition returns the MCP tool definition for memory_store.
func (t *MemoryStoreTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_store",
		mcp.WithDescription(
			"Store a private fact for an agent, keyed by (agent, key). Storing the same key again overwrites "+
				"the previous value. A positive TTL makes the fact expire; zero keeps it forever.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Owning agent identifier"),
		),
		mcp.WithString("memory_type",
			mcp.Required(),
			mcp.Description("Classification: short_term, long_term, episodic or semantic"),
			mcp.Enum("short_term", "long_term", "episodic", "semantic"),
		),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Lookup key, unique per agent"),
		),
		mcp.WithObject("value",
			mcp.Description("Value document (JSON object)"),
		),
		mcp.WithNumber("ttl_seconds",
			mcp.Description("Seconds until expiry; 0 or omitted means never"),
		),
	)
}

// Handle processes the memory_store tool call.
func (t *MemoryStoreTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	key := req.GetString("key", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if key == "" {
		return mcp.NewToolResultError("'key' is required"), nil
	}

	// Scalar values are allowed too, so take the argument as-is.
	value := req.GetArguments()["value"]

	entry, err := t.graph.StoreMemory(agentID, req.GetString("memory_type", ""), key, value, req.GetInt("ttl_seconds", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store memory: %v", err)), nil
	}
	return jsonResult(entry), nil
}

// ─── MemoryRetrieveTool ─────────────────────────────────────────────────────

// MemoryRetrieveTool handles the memory_retrieve MCP tool.
type MemoryRetrieveTool struct {
	graph *graph.Graph
}

// NewMemoryRetrieveTool creates a MemoryRetrieveTool.
func NewMemoryRetrieveTool(g *graph.Graph) *MemoryRetrieveTool {
	return &MemoryRetrieveTool{graph: g}
}

// Definition returns the MCP tool definition for memory_retrieve.
func (t *MemoryRetrieveTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_retrieve",
		mcp.WithDescription("Retrieve an agent's fact by key. Expired facts are invisible even before a sweep runs."),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Owning agent identifier"),
		),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Lookup key"),
		),
	)
}

// Handle processes the memory_retrieve tool call.
func (t *MemoryRetrieveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	key := req.GetString("key", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if key == "" {
		return mcp.NewToolResultError("'key' is required"), nil
	}

	entry, err := t.graph.RetrieveMemory(agentID, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to retrieve memory: %v", err)), nil
	}
	if entry == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No memory for key %q.", key)), nil
	}
	return jsonResult(entry), nil
}

// ─── MemoryListTool ─────────────────────────────────────────────────────────

// MemoryListTool handles the memory_list MCP tool.
type MemoryListTool struct {
	graph *graph.Graph
}

// NewMemoryListTool creates a MemoryListTool.
func NewMemoryListTool(g *graph.Graph) *MemoryListTool {
	return &MemoryListTool{graph: g}
}

// Definition returns the MCP tool definition for memory_list.
func (t *MemoryListTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_list",
		mcp.WithDescription("List an agent's live facts, most recently updated first."),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Owning agent identifier"),
		),
		mcp.WithString("memory_type",
			mcp.Description("Filter: short_term, long_term, episodic or semantic"),
			mcp.Enum("short_term", "long_term", "episodic", "semantic"),
		),
	)
}

// Handle processes the memory_list tool call.
func (t *MemoryListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	entries, err := t.graph.ListMemory(agentID, req.GetString("memory_type", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list memory: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No memory entries."), nil
	}
	return jsonResult(entries), nil
}

// ─── MemorySweepTool ────────────────────────────────────────────────────────

// MemorySweepTool handles the memory_sweep MCP tool.
type MemorySweepTool struct {
	graph *graph.Graph
}

// NewMemorySweepTool creates a MemorySweepTool.
func NewMemorySweepTool(g *graph.Graph) *MemorySweepTool {
	return &MemorySweepTool{graph: g}
}

// Definition returns the MCP tool definition for memory_sweep.
func (t *MemorySweepTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_sweep",
		mcp.WithDescription("Physically delete every expired memory entry across all agents and report the count."),
	)
}

// Handle processes the memory_sweep tool call.
func (t *MemorySweepTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	removed, err := t.graph.ClearExpiredMemory()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sweep failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Removed %d expired entries", removed)), nil
}
