package agenttools

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sitegrid/foreman/internal/bus"
	"github.com/sitegrid/foreman/internal/graph"
	"github.com/sitegrid/foreman/internal/orchestrator"
	"github.com/sitegrid/foreman/internal/store"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

type deps struct {
	orch  *orchestrator.Orchestrator
	bus   *bus.Bus
	graph *graph.Graph
}

func newTestDeps(t *testing.T) *deps {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.DataDir = t.TempDir()
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &deps{
		orch:  orchestrator.New(st, nil),
		bus:   bus.New(st, nil),
		graph: graph.New(st, nil),
	}
}

// activeAgent registers and starts an agent, returning its id.
func (d *deps) activeAgent(t *testing.T, name, module string) string {
	t.Helper()
	agent, err := d.orch.RegisterAgent(name, module)
	if err != nil {
		t.Fatalf("register agent: %v", err)
	}
	if _, err := d.orch.StartAgent(agent.ID); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	return agent.ID
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func mustNotError(t *testing.T, result *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result == nil {
		t.Fatal("handler returned nil result")
	}
	if result.IsError {
		t.Fatalf("handler returned tool error: %s", resultText(result))
	}
}

func mustToolError(t *testing.T, result *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("handler returned transport error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatalf("expected tool error, got: %s", resultText(result))
	}
}

// ─── Agent tools ─────────────────────────────────────────────────────────────

func TestAgentRegisterTool(t *testing.T) {
	d := newTestDeps(t)
	tool := NewAgentRegisterTool(d.orch)

	def := tool.Definition()
	if def.Name != "agent_register" {
		t.Errorf("tool name = %q, want agent_register", def.Name)
	}

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"name":   "estimator-1",
		"module": "estimating",
	}))
	mustNotError(t, result, err)

	text := resultText(result)
	if !strings.Contains(text, `"DORMANT"`) {
		t.Errorf("new agent should be DORMANT, got: %s", text)
	}

	result, err = tool.Handle(context.Background(), makeReq(map[string]interface{}{"name": "x"}))
	mustToolError(t, result, err)
}

func TestAgentControlTool_StartAndPause(t *testing.T) {
	d := newTestDeps(t)
	agent, err := d.orch.RegisterAgent("estimator-1", "estimating")
	if err != nil {
		t.Fatal(err)
	}
	tool := NewAgentControlTool(d.orch)

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_id": agent.ID,
		"action":   "start",
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), `"ACTIVE"`) {
		t.Errorf("started agent should be ACTIVE, got: %s", resultText(result))
	}

	result, err = tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_id": agent.ID,
		"action":   "pause",
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), `"PAUSED"`) {
		t.Errorf("paused agent should be PAUSED, got: %s", resultText(result))
	}

	// Pausing again is an illegal transition and must surface as a tool error.
	result, err = tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_id": agent.ID,
		"action":   "pause",
	}))
	mustToolError(t, result, err)
}

// ─── Task tools ──────────────────────────────────────────────────────────────

func TestTaskTools_AssignStartComplete(t *testing.T) {
	d := newTestDeps(t)
	agentID := d.activeAgent(t, "estimator-1", "estimating")

	assign := NewTaskAssignTool(d.orch)
	result, err := assign.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_id": agentID,
		"type":     "ESTIMATE_BID",
		"payload":  map[string]interface{}{"project": "warehouse"},
		"priority": 8,
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), `"PENDING"`) {
		t.Errorf("new task should be PENDING, got: %s", resultText(result))
	}

	tasks, err := d.orch.GetAgentTasks(agentID, "")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected one queued task, got %v (%v)", tasks, err)
	}

	start := NewTaskStartTool(d.orch)
	result, err = start.Handle(context.Background(), makeReq(map[string]interface{}{
		"task_id": float64(tasks[0].ID),
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), `"IN_PROGRESS"`) {
		t.Errorf("claimed task should be IN_PROGRESS, got: %s", resultText(result))
	}

	complete := NewTaskCompleteTool(d.orch)
	result, err = complete.Handle(context.Background(), makeReq(map[string]interface{}{
		"task_id": float64(tasks[0].ID),
		"result":  map[string]interface{}{"total": 125000},
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), `"COMPLETED"`) {
		t.Errorf("finished task should be COMPLETED, got: %s", resultText(result))
	}
}

func TestTaskRouteTool_NoOwner(t *testing.T) {
	d := newTestDeps(t)
	tool := NewTaskRouteTool(d.orch)

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"module": "scheduling",
		"type":   "PLAN_WEEK",
	}))
	mustToolError(t, result, err)
}

// ─── Event tools ─────────────────────────────────────────────────────────────

func TestEventTools_PublishAndSubscribe(t *testing.T) {
	d := newTestDeps(t)
	agentID := d.activeAgent(t, "watcher", "reporting")

	subscribe := NewEventSubscribeTool(d.bus)
	result, err := subscribe.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_id":   agentID,
		"event_type": "bid.*",
	}))
	mustNotError(t, result, err)

	publish := NewEventPublishTool(d.bus)
	result, err = publish.Handle(context.Background(), makeReq(map[string]interface{}{
		"event_type": "bid.submitted",
		"source":     "estimating",
		"payload":    map[string]interface{}{"amount": 99},
	}))
	mustNotError(t, result, err)

	d.bus.Drain()
	tasks, err := d.orch.GetAgentTasks(agentID, "")
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, task := range tasks {
		if task.Type == bus.NotificationTaskType {
			found = true
		}
	}
	if !found {
		t.Error("expected an EVENT_NOTIFICATION task after publish")
	}

	result, err = publish.Handle(context.Background(), makeReq(map[string]interface{}{}))
	mustToolError(t, result, err)
}

// ─── Knowledge tools ─────────────────────────────────────────────────────────

func TestKnowledgeTools_CreateSearchTraverse(t *testing.T) {
	d := newTestDeps(t)

	create := NewNodeCreateTool(d.graph)
	result, err := create.Handle(context.Background(), makeReq(map[string]interface{}{
		"workspace": "site-7",
		"node_type": "material",
		"label":     "Steel Beam",
	}))
	mustNotError(t, result, err)

	result, err = create.Handle(context.Background(), makeReq(map[string]interface{}{
		"workspace": "site-7",
		"node_type": "vendor",
		"label":     "Acme Steel",
	}))
	mustNotError(t, result, err)

	edge := NewEdgeCreateTool(d.graph)
	result, err = edge.Handle(context.Background(), makeReq(map[string]interface{}{
		"from_node_id":  float64(1),
		"to_node_id":    float64(2),
		"relation_type": "supplied_by",
	}))
	mustNotError(t, result, err)

	search := NewNodeSearchTool(d.graph)
	result, err = search.Handle(context.Background(), makeReq(map[string]interface{}{
		"workspace": "site-7",
		"query":     "steel",
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), "Steel Beam") {
		t.Errorf("search should find the beam, got: %s", resultText(result))
	}

	path := NewGraphPathTool(d.graph)
	result, err = path.Handle(context.Background(), makeReq(map[string]interface{}{
		"from_node_id": float64(1),
		"to_node_id":   float64(2),
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), "Acme Steel") {
		t.Errorf("path should end at the vendor, got: %s", resultText(result))
	}
}

// ─── Memory tools ────────────────────────────────────────────────────────────

func TestMemoryTools_StoreAndRetrieve(t *testing.T) {
	d := newTestDeps(t)
	agentID := d.activeAgent(t, "estimator-1", "estimating")

	storeTool := NewMemoryStoreTool(d.graph)
	result, err := storeTool.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_id":    agentID,
		"memory_type": "short_term",
		"key":         "current_bid",
		"value":       map[string]interface{}{"amount": 125000},
		"ttl_seconds": float64(3600),
	}))
	mustNotError(t, result, err)

	retrieve := NewMemoryRetrieveTool(d.graph)
	result, err = retrieve.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_id": agentID,
		"key":      "current_bid",
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), "125000") {
		t.Errorf("retrieve should return the stored value, got: %s", resultText(result))
	}

	result, err = retrieve.Handle(context.Background(), makeReq(map[string]interface{}{
		"agent_id": agentID,
		"key":      "never-stored",
	}))
	mustNotError(t, result, err)
	if !strings.Contains(resultText(result), "No memory") {
		t.Errorf("missing key should report no memory, got: %s", resultText(result))
	}
}
