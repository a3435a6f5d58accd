package agenttools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sitegrid/foreman/internal/graph"
)

// NodeCreateTool handles the node_create MCP tool.
type NodeCreateTool struct {
	graph *graph.Graph
}

// NewNodeCreateTool creates a NodeCreateTool.
func NewNodeCreateTool(g *graph.Graph) *NodeCreateTool {
	return &NodeCreateTool{graph: g}
}

// Definition returns the MCP tool definition for node_create.
func (t *NodeCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("node_create",
		mcp.WithDescription(
			"Create a knowledge graph node in a workspace. Nodes carry a type, a label and an arbitrary "+
				"properties document; label and properties are full-text searchable.",
		),
		mcp.WithString("workspace",
			mcp.Required(),
			mcp.Description("Workspace scope (e.g. a project or site identifier)"),
		),
		mcp.WithString("node_type",
			mcp.Required(),
			mcp.Description("Node category (e.g. 'material', 'vendor', 'decision')"),
		),
		mcp.WithString("label",
			mcp.Required(),
			mcp.Description("Human-readable node label"),
		),
		mcp.WithObject("properties",
			mcp.Description("Node properties (JSON object)"),
		),
	)
}

// Handle processes the node_create tool call.
func (t *NodeCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace := req.GetString("workspace", "")
	nodeType := req.GetString("node_type", "")
	label := req.GetString("label", "")
	if workspace == "" || nodeType == "" || label == "" {
		return mcp.NewToolResultError("'workspace', 'node_type' and 'label' are required"), nil
	}

	node, err := t.graph.CreateNode(workspace, nodeType, label, objectArg(req, "properties"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create node: %v", err)), nil
	}
	return jsonResult(node), nil
}

// ─── NodeGetTool ────────────────────────────────────────────────────────────

// NodeGetTool handles the node_get MCP tool.
type NodeGetTool struct {
	graph *graph.Graph
}

// NewNodeGetTool creates a NodeGetTool.
func NewNodeGetTool(g *graph.Graph) *NodeGetTool {
	return &NodeGetTool{graph: g}
}

// Definition returns the MCP tool definition for node_get.
func (t *NodeGetTool) Definition() mcp.Tool {
	return mcp.NewTool("node_get",
		mcp.WithDescription("Fetch a single live node by id."),
		mcp.WithNumber("node_id",
			mcp.Required(),
			mcp.Description("Node identifier"),
		),
	)
}

// Handle processes the node_get tool call.
func (t *NodeGetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID := req.GetInt("node_id", 0)
	if nodeID == 0 {
		return mcp.NewToolResultError("'node_id' is required"), nil
	}

	node, err := t.graph.GetNode(int64(nodeID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get node: %v", err)), nil
	}
	return jsonResult(node), nil
}

// ─── NodeUpdateTool ─────────────────────────────────────────────────────────

// NodeUpdateTool handles the node_update MCP tool.
type NodeUpdateTool struct {
	graph *graph.Graph
}

// NewNodeUpdateTool creates a NodeUpdateTool.
func NewNodeUpdateTool(g *graph.Graph) *NodeUpdateTool {
	return &NodeUpdateTool{graph: g}
}

// Definition returns the MCP tool definition for node_update.
func (t *NodeUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("node_update",
		mcp.WithDescription(
			"Update a node. Properties are merged key-by-key into the existing document; the label is "+
				"replaced only when provided.",
		),
		mcp.WithNumber("node_id",
			mcp.Required(),
			mcp.Description("Node identifier"),
		),
		mcp.WithString("label",
			mcp.Description("New label"),
		),
		mcp.WithObject("properties",
			mcp.Description("Properties to merge (JSON object)"),
		),
	)
}

// Handle processes the node_update tool call.
func (t *NodeUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID := req.GetInt("node_id", 0)
	if nodeID == 0 {
		return mcp.NewToolResultError("'node_id' is required"), nil
	}

	in := graph.UpdateNodeInput{Properties: objectArg(req, "properties")}
	if label := req.GetString("label", ""); label != "" {
		in.Label = &label
	}

	node, err := t.graph.UpdateNode(int64(nodeID), in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update node: %v", err)), nil
	}
	return jsonResult(node), nil
}

// ─── NodeDeleteTool ─────────────────────────────────────────────────────────

// NodeDeleteTool handles the node_delete MCP tool.
type NodeDeleteTool struct {
	graph *graph.Graph
}

// NewNodeDeleteTool creates a NodeDeleteTool.
func NewNodeDeleteTool(g *graph.Graph) *NodeDeleteTool {
	return &NodeDeleteTool{graph: g}
}

// Definition returns the MCP tool definition for node_delete.
func (t *NodeDeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("node_delete",
		mcp.WithDescription(
			"Soft-delete a node. The row is retained for audit but disappears from reads, search and traversal.",
		),
		mcp.WithNumber("node_id",
			mcp.Required(),
			mcp.Description("Node identifier"),
		),
	)
}

// Handle processes the node_delete tool call.
func (t *NodeDeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID := req.GetInt("node_id", 0)
	if nodeID == 0 {
		return mcp.NewToolResultError("'node_id' is required"), nil
	}

	if err := t.graph.DeleteNode(int64(nodeID)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete node: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Node %d deleted", nodeID)), nil
}

// ─── NodeListTool ───────────────────────────────────────────────────────────

// NodeListTool handles the node_list MCP tool.
type NodeListTool struct {
	graph *graph.Graph
}

// NewNodeListTool creates a NodeListTool.
func NewNodeListTool(g *graph.Graph) *NodeListTool {
	return &NodeListTool{graph: g}
}

// Definition returns the MCP tool definition for node_list.
func (t *NodeListTool) Definition() mcp.Tool {
	return mcp.NewTool("node_list",
		mcp.WithDescription("List a workspace's live nodes of one type, newest first."),
		mcp.WithString("workspace",
			mcp.Required(),
			mcp.Description("Workspace scope"),
		),
		mcp.WithString("node_type",
			mcp.Required(),
			mcp.Description("Node category"),
		),
	)
}

// Handle processes the node_list tool call.
func (t *NodeListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace := req.GetString("workspace", "")
	nodeType := req.GetString("node_type", "")
	if workspace == "" || nodeType == "" {
		return mcp.NewToolResultError("'workspace' and 'node_type' are required"), nil
	}

	nodes, err := t.graph.GetNodesByType(workspace, nodeType)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list nodes: %v", err)), nil
	}
	if len(nodes) == 0 {
		return mcp.NewToolResultText("No nodes match."), nil
	}
	return jsonResult(nodes), nil
}

// ─── NodeSearchTool ─────────────────────────────────────────────────────────

// NodeSearchTool handles the node_search MCP tool.
type NodeSearchTool struct {
	graph *graph.Graph
}

// NewNodeSearchTool creates a NodeSearchTool.
func NewNodeSearchTool(g *graph.Graph) *NodeSearchTool {
	return &NodeSearchTool{graph: g}
}

// Definition returns the MCP tool definition for node_search.
func (t *NodeSearchTool) Definition() mcp.Tool {
	return mcp.NewTool("node_search",
		mcp.WithDescription(
			"Full-text search over a workspace's nodes (labels and properties), ranked matches first with a "+
				"substring fallback. An empty query returns the most recent nodes.",
		),
		mcp.WithString("workspace",
			mcp.Required(),
			mcp.Description("Workspace scope"),
		),
		mcp.WithString("query",
			mcp.Description("Search terms"),
		),
	)
}

// Handle processes the node_search tool call.
func (t *NodeSearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspace := req.GetString("workspace", "")
	if workspace == "" {
		return mcp.NewToolResultError("'workspace' is required"), nil
	}

	results, err := t.graph.SearchNodes(workspace, req.GetString("query", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No nodes match."), nil
	}
	return jsonResult(results), nil
}

// ─── EdgeCreateTool ─────────────────────────────────────────────────────────

// EdgeCreateTool handles the edge_create MCP tool.
type EdgeCreateTool struct {
	graph *graph.Graph
}

// NewEdgeCreateTool creates an EdgeCreateTool.
func NewEdgeCreateTool(g *graph.Graph) *EdgeCreateTool {
	return &EdgeCreateTool{graph: g}
}

// Definition returns the MCP tool definition for edge_create.
func (t *EdgeCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("edge_create",
		mcp.WithDescription("Create a directed, typed edge between two live nodes."),
		mcp.WithNumber("from_node_id",
			mcp.Required(),
			mcp.Description("Source node identifier"),
		),
		mcp.WithNumber("to_node_id",
			mcp.Required(),
			mcp.Description("Target node identifier"),
		),
		mcp.WithString("relation_type",
			mcp.Required(),
			mcp.Description("Relationship label (e.g. 'supplied_by', 'depends_on')"),
		),
		mcp.WithObject("properties",
			mcp.Description("Edge properties (JSON object)"),
		),
		mcp.WithNumber("weight",
			mcp.Description("Edge weight; defaults to 1.0"),
		),
	)
}

// Handle processes the edge_create tool call.
func (t *EdgeCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetInt("from_node_id", 0)
	to := req.GetInt("to_node_id", 0)
	relType := req.GetString("relation_type", "")
	if from == 0 || to == 0 {
		return mcp.NewToolResultError("'from_node_id' and 'to_node_id' are required"), nil
	}
	if relType == "" {
		return mcp.NewToolResultError("'relation_type' is required"), nil
	}

	edge, err := t.graph.CreateEdge(int64(from), int64(to), relType, objectArg(req, "properties"), req.GetFloat("weight", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create edge: %v", err)), nil
	}
	return jsonResult(edge), nil
}

// ─── EdgeDeleteTool ─────────────────────────────────────────────────────────

// EdgeDeleteTool handles the edge_delete MCP tool.
type EdgeDeleteTool struct {
	graph *graph.Graph
}

// NewEdgeDeleteTool creates an EdgeDeleteTool.
func NewEdgeDeleteTool(g *graph.Graph) *EdgeDeleteTool {
	return &EdgeDeleteTool{graph: g}
}

// Definition returns the MCP tool definition for edge_delete.
func (t *EdgeDeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("edge_delete",
		mcp.WithDescription("Permanently delete an edge. Unlike nodes, edges are removed physically."),
		mcp.WithNumber("edge_id",
			mcp.Required(),
			mcp.Description("Edge identifier"),
		),
	)
}

// Handle processes the edge_delete tool call.
func (t *EdgeDeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	edgeID := req.GetInt("edge_id", 0)
	if edgeID == 0 {
		return mcp.NewToolResultError("'edge_id' is required"), nil
	}

	if err := t.graph.DeleteEdge(int64(edgeID)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete edge: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Edge %d deleted", edgeID)), nil
}

// ─── EdgeListTool ───────────────────────────────────────────────────────────

// EdgeListTool handles the edge_list MCP tool.
type EdgeListTool struct {
	graph *graph.Graph
}

// NewEdgeListTool creates an EdgeListTool.
func NewEdgeListTool(g *graph.Graph) *EdgeListTool {
	return &EdgeListTool{graph: g}
}

// Definition returns the MCP tool definition for edge_list.
func (t *EdgeListTool) Definition() mcp.Tool {
	return mcp.NewTool("edge_list",
		mcp.WithDescription("List a node's edges, optionally restricted to one direction."),
		mcp.WithNumber("node_id",
			mcp.Required(),
			mcp.Description("Node identifier"),
		),
		mcp.WithString("direction",
			mcp.Description("'out' (edges leaving the node), 'in' (edges arriving), or omit for both"),
			mcp.Enum("out", "in"),
		),
	)
}

// Handle processes the edge_list tool call.
func (t *EdgeListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID := req.GetInt("node_id", 0)
	if nodeID == 0 {
		return mcp.NewToolResultError("'node_id' is required"), nil
	}

	edges, err := t.graph.GetEdges(int64(nodeID), req.GetString("direction", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list edges: %v", err)), nil
	}
	if len(edges) == 0 {
		return mcp.NewToolResultText("No edges match."), nil
	}
	return jsonResult(edges), nil
}

// ─── GraphPathTool ──────────────────────────────────────────────────────────

// GraphPathTool handles the graph_path MCP tool.
type GraphPathTool struct {
	graph *graph.Graph
}

// NewGraphPathTool creates a GraphPathTool.
func NewGraphPathTool(g *graph.Graph) *GraphPathTool {
	return &GraphPathTool{graph: g}
}

// Definition returns the MCP tool definition for graph_path.
func (t *GraphPathTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_path",
		mcp.WithDescription(
			"Find the shortest directed path between two nodes, bounded by a maximum depth. "+
				"Returns the node sequence from source to target, or reports that none exists within the bound.",
		),
		mcp.WithNumber("from_node_id",
			mcp.Required(),
			mcp.Description("Source node identifier"),
		),
		mcp.WithNumber("to_node_id",
			mcp.Required(),
			mcp.Description("Target node identifier"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Maximum hops to explore (default 5, capped at 10)"),
		),
	)
}

// Handle processes the graph_path tool call.
func (t *GraphPathTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetInt("from_node_id", 0)
	to := req.GetInt("to_node_id", 0)
	if from == 0 || to == 0 {
		return mcp.NewToolResultError("'from_node_id' and 'to_node_id' are required"), nil
	}

	path, err := t.graph.FindPath(int64(from), int64(to), req.GetInt("max_depth", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("path search failed: %v", err)), nil
	}
	if path == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No path from %d to %d within the depth bound.", from, to)), nil
	}
	return jsonResult(path), nil
}

// ─── GraphNeighborsTool ─────────────────────────────────────────────────────

// GraphNeighborsTool handles the graph_neighbors MCP tool.
type GraphNeighborsTool struct {
	graph *graph.Graph
}

// NewGraphNeighborsTool creates a GraphNeighborsTool.
func NewGraphNeighborsTool(g *graph.Graph) *GraphNeighborsTool {
	return &GraphNeighborsTool{graph: g}
}

// Definition returns the MCP tool definition for graph_neighbors.
func (t *GraphNeighborsTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_neighbors",
		mcp.WithDescription(
			"Explore a node's neighborhood, ignoring edge direction. Each result carries the hop count "+
				"at which it was first reached; nearest first.",
		),
		mcp.WithNumber("node_id",
			mcp.Required(),
			mcp.Description("Origin node identifier"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Maximum hops from the origin (default 1)"),
		),
	)
}

// Handle processes the graph_neighbors tool call.
func (t *GraphNeighborsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID := req.GetInt("node_id", 0)
	if nodeID == 0 {
		return mcp.NewToolResultError("'node_id' is required"), nil
	}

	neighbors, err := t.graph.GetNeighbors(int64(nodeID), req.GetInt("depth", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("neighbor search failed: %v", err)), nil
	}
	if len(neighbors) == 0 {
		return mcp.NewToolResultText("No reachable neighbors."), nil
	}
	return jsonResult(neighbors), nil
}
