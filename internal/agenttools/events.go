package agenttools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sitegrid/foreman/internal/bus"
	"github.com/sitegrid/foreman/internal/store"
)

// EventPublishTool handles the event_publish MCP tool.
type EventPublishTool struct {
	bus *bus.Bus
}

// NewEventPublishTool creates an EventPublishTool.
func NewEventPublishTool(b *bus.Bus) *EventPublishTool {
	return &EventPublishTool{bus: b}
}

// Definition returns the MCP tool definition for event_publish.
func (t *EventPublishTool) Definition() mcp.Tool {
	return mcp.NewTool("event_publish",
		mcp.WithDescription(
			"Publish an event to the bus. The event is stored durably, then fanned out: every matching "+
				"active subscription receives an EVENT_NOTIFICATION task on its agent's queue.",
		),
		mcp.WithString("event_type",
			mcp.Required(),
			mcp.Description("Dot-separated event type (e.g. 'bid.submitted', 'agent.started')"),
		),
		mcp.WithString("source",
			mcp.Description("Logical origin of the event (module or agent name)"),
		),
		mcp.WithObject("payload",
			mcp.Description("Event payload (JSON object)"),
		),
	)
}

// Handle processes the event_publish tool call.
func (t *EventPublishTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eventType := req.GetString("event_type", "")
	if eventType == "" {
		return mcp.NewToolResultError("'event_type' is required"), nil
	}

	event, err := t.bus.Publish(eventType, req.GetString("source", ""), objectArg(req, "payload"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to publish event: %v", err)), nil
	}
	return jsonResult(event), nil
}

// ─── EventSubscribeTool ─────────────────────────────────────────────────────

// EventSubscribeTool handles the event_subscribe MCP tool.
type EventSubscribeTool struct {
	bus *bus.Bus
}

// NewEventSubscribeTool creates an EventSubscribeTool.
func NewEventSubscribeTool(b *bus.Bus) *EventSubscribeTool {
	return &EventSubscribeTool{bus: b}
}

// Definition returns the MCP tool definition for event_subscribe.
func (t *EventSubscribeTool) Definition() mcp.Tool {
	return mcp.NewTool("event_subscribe",
		mcp.WithDescription(
			"Subscribe an agent to an event pattern. Patterns: an exact type ('bid.submitted'), a namespace "+
				"wildcard ('bid.*'), or '*' for everything. Re-subscribing to the same pattern updates the "+
				"existing subscription. An optional filter narrows delivery to events whose payload matches "+
				"every filter key exactly.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Subscribing agent identifier"),
		),
		mcp.WithString("event_type",
			mcp.Required(),
			mcp.Description("Event type or pattern"),
		),
		mcp.WithObject("filter",
			mcp.Description("Flat payload equality filter (JSON object)"),
		),
	)
}

// Handle processes the event_subscribe tool call.
func (t *EventSubscribeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	eventType := req.GetString("event_type", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if eventType == "" {
		return mcp.NewToolResultError("'event_type' is required"), nil
	}

	sub, err := t.bus.Subscribe(agentID, eventType, objectArg(req, "filter"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to subscribe: %v", err)), nil
	}
	return jsonResult(sub), nil
}

// ─── EventUnsubscribeTool ───────────────────────────────────────────────────

// EventUnsubscribeTool handles the event_unsubscribe MCP tool.
type EventUnsubscribeTool struct {
	bus *bus.Bus
}

// NewEventUnsubscribeTool creates an EventUnsubscribeTool.
func NewEventUnsubscribeTool(b *bus.Bus) *EventUnsubscribeTool {
	return &EventUnsubscribeTool{bus: b}
}

// Definition returns the MCP tool definition for event_unsubscribe.
func (t *EventUnsubscribeTool) Definition() mcp.Tool {
	return mcp.NewTool("event_unsubscribe",
		mcp.WithDescription("Deactivate a subscription. The row is kept; re-subscribing reactivates it."),
		mcp.WithNumber("subscription_id",
			mcp.Required(),
			mcp.Description("Subscription identifier"),
		),
	)
}

// Handle processes the event_unsubscribe tool call.
func (t *EventUnsubscribeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subID := req.GetInt("subscription_id", 0)
	if subID == 0 {
		return mcp.NewToolResultError("'subscription_id' is required"), nil
	}

	if err := t.bus.Unsubscribe(int64(subID)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to unsubscribe: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Subscription %d deactivated", subID)), nil
}

// ─── SubscriptionListTool ───────────────────────────────────────────────────

// SubscriptionListTool handles the subscription_list MCP tool.
type SubscriptionListTool struct {
	bus *bus.Bus
}

// NewSubscriptionListTool creates a SubscriptionListTool.
func NewSubscriptionListTool(b *bus.Bus) *SubscriptionListTool {
	return &SubscriptionListTool{bus: b}
}

// Definition returns the MCP tool definition for subscription_list.
func (t *SubscriptionListTool) Definition() mcp.Tool {
	return mcp.NewTool("subscription_list",
		mcp.WithDescription("List an agent's active subscriptions, newest first."),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent identifier"),
		),
	)
}

// Handle processes the subscription_list tool call.
func (t *SubscriptionListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	subs, err := t.bus.GetSubscriptions(agentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list subscriptions: %v", err)), nil
	}
	if len(subs) == 0 {
		return mcp.NewToolResultText("No active subscriptions."), nil
	}
	return jsonResult(subs), nil
}

// ─── EventRecentTool ────────────────────────────────────────────────────────

// EventRecentTool handles the event_recent MCP tool.
type EventRecentTool struct {
	bus *bus.Bus
}

// NewEventRecentTool creates an EventRecentTool.
func NewEventRecentTool(b *bus.Bus) *EventRecentTool {
	return &EventRecentTool{bus: b}
}

// Definition returns the MCP tool definition for event_recent.
func (t *EventRecentTool) Definition() mcp.Tool {
	return mcp.NewTool("event_recent",
		mcp.WithDescription("Read recent events from the durable log, newest first."),
		mcp.WithString("event_type",
			mcp.Description("Filter: exact event type"),
		),
		mcp.WithString("since",
			mcp.Description("Filter: only events after this UTC timestamp ('2006-01-02 15:04:05')"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum events to return (default 100)"),
		),
	)
}

// Handle processes the event_recent tool call.
func (t *EventRecentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var since time.Time
	if raw := req.GetString("since", ""); raw != "" {
		parsed, err := time.Parse(store.TimeLayout, raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid 'since' timestamp: %v", err)), nil
		}
		since = parsed
	}

	events, err := t.bus.GetRecentEvents(req.GetString("event_type", ""), since, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read events: %v", err)), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No events match."), nil
	}
	return jsonResult(events), nil
}
