// Package agenttools exposes the coordination substrate over MCP: agent
// lifecycle, task queueing, the event bus and the knowledge graph each get a
// family of tools. Handlers are thin — validation and formatting only, all
// semantics live in the domain packages.
package agenttools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// jsonResult renders a domain object as an indented JSON tool result.
func jsonResult(v any) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(raw))
}

// objectArg reads a JSON-object argument. A missing or non-object value
// yields nil.
func objectArg(req mcp.CallToolRequest, name string) map[string]any {
	args := req.GetArguments()
	obj, _ := args[name].(map[string]any)
	return obj
}
