// Package server wires the coordination substrate and creates the MCP server
// instance.
//
// This is the composition root: it opens the shared store, builds the domain
// services on top of it and registers every tool. No business logic lives
// here — only wiring.
package server

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sitegrid/foreman/internal/agenttools"
	"github.com/sitegrid/foreman/internal/bus"
	"github.com/sitegrid/foreman/internal/graph"
	"github.com/sitegrid/foreman/internal/logging"
	"github.com/sitegrid/foreman/internal/orchestrator"
	"github.com/sitegrid/foreman/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// sweepInterval is how often expired agent memory is physically removed.
const sweepInterval = time.Hour

// New creates and configures the MCP server with all tools registered. This
// is the single place where all dependencies are resolved.
//
// The returned cleanup function stops the memory sweeper, drains in-flight
// event fan-out and closes the database. It must be called on shutdown
// (typically via defer) and is always non-nil.
func New() (*server.MCPServer, func(), error) {
	cfg := store.DefaultConfig()
	if dir := os.Getenv("FOREMAN_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, noop, fmt.Errorf("opening store: %w", err)
	}

	// Logs go to stderr so they never interfere with MCP's stdio transport.
	level := slog.LevelInfo
	if os.Getenv("FOREMAN_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := logging.NewJSONLogger(os.Stderr, level)

	orch := orchestrator.New(st, logger)
	eventBus := bus.New(st, logger)
	knowledge := graph.New(st, logger)

	s := server.NewMCPServer(
		"foreman",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerAgentTools(s, orch)
	registerEventTools(s, eventBus)
	registerKnowledgeTools(s, knowledge)

	observeLifecycle(eventBus, logger)

	// Expired memory is swept in the background; reads already hide expired
	// entries, the sweep just reclaims the rows.
	stopSweeper := startMemorySweeper(knowledge)

	cleanup := func() {
		stopSweeper()
		eventBus.Drain()
		if err := st.Close(); err != nil {
			log.Printf("WARNING: store close: %v", err)
		}
	}
	return s, cleanup, nil
}

// noop is the default cleanup when initialization fails early.
func noop() {}

// observeLifecycle attaches an in-process observer for agent.* traffic so the
// host log mirrors lifecycle events without a subscription row.
func observeLifecycle(b *bus.Bus, logger logging.Logger) {
	b.AddHandler("agent.*", func(e bus.Event) {
		logger.Debug("server: lifecycle event", "event_type", e.EventType, "source", e.Source)
	})
}

// startMemorySweeper runs ClearExpiredMemory on a fixed interval until the
// returned stop function is called.
func startMemorySweeper(g *graph.Graph) func() {
	ticker := time.NewTicker(sweepInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := g.ClearExpiredMemory(); err != nil {
					log.Printf("WARNING: memory sweep: %v", err)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

// registerAgentTools registers the agent lifecycle and task queue tools.
func registerAgentTools(s *server.MCPServer, orch *orchestrator.Orchestrator) {
	// --- Lifecycle ---
	register := agenttools.NewAgentRegisterTool(orch)
	s.AddTool(register.Definition(), register.Handle)

	control := agenttools.NewAgentControlTool(orch)
	s.AddTool(control.Definition(), control.Handle)

	status := agenttools.NewAgentStatusTool(orch)
	s.AddTool(status.Definition(), status.Handle)

	list := agenttools.NewAgentListTool(orch)
	s.AddTool(list.Definition(), list.Handle)

	heartbeat := agenttools.NewAgentHeartbeatTool(orch)
	s.AddTool(heartbeat.Definition(), heartbeat.Handle)

	// --- Task queue ---
	assign := agenttools.NewTaskAssignTool(orch)
	s.AddTool(assign.Definition(), assign.Handle)

	route := agenttools.NewTaskRouteTool(orch)
	s.AddTool(route.Definition(), route.Handle)

	start := agenttools.NewTaskStartTool(orch)
	s.AddTool(start.Definition(), start.Handle)

	complete := agenttools.NewTaskCompleteTool(orch)
	s.AddTool(complete.Definition(), complete.Handle)

	tasks := agenttools.NewTaskListTool(orch)
	s.AddTool(tasks.Definition(), tasks.Handle)
}

// registerEventTools registers the event bus tools.
func registerEventTools(s *server.MCPServer, b *bus.Bus) {
	publish := agenttools.NewEventPublishTool(b)
	s.AddTool(publish.Definition(), publish.Handle)

	subscribe := agenttools.NewEventSubscribeTool(b)
	s.AddTool(subscribe.Definition(), subscribe.Handle)

	unsubscribe := agenttools.NewEventUnsubscribeTool(b)
	s.AddTool(unsubscribe.Definition(), unsubscribe.Handle)

	subs := agenttools.NewSubscriptionListTool(b)
	s.AddTool(subs.Definition(), subs.Handle)

	recent := agenttools.NewEventRecentTool(b)
	s.AddTool(recent.Definition(), recent.Handle)
}

// registerKnowledgeTools registers the knowledge graph and agent memory tools.
func registerKnowledgeTools(s *server.MCPServer, g *graph.Graph) {
	// --- Nodes ---
	nodeCreate := agenttools.NewNodeCreateTool(g)
	s.AddTool(nodeCreate.Definition(), nodeCreate.Handle)

	nodeGet := agenttools.NewNodeGetTool(g)
	s.AddTool(nodeGet.Definition(), nodeGet.Handle)

	nodeUpdate := agenttools.NewNodeUpdateTool(g)
	s.AddTool(nodeUpdate.Definition(), nodeUpdate.Handle)

	nodeDelete := agenttools.NewNodeDeleteTool(g)
	s.AddTool(nodeDelete.Definition(), nodeDelete.Handle)

	nodeList := agenttools.NewNodeListTool(g)
	s.AddTool(nodeList.Definition(), nodeList.Handle)

	nodeSearch := agenttools.NewNodeSearchTool(g)
	s.AddTool(nodeSearch.Definition(), nodeSearch.Handle)

	// --- Edges & traversal ---
	edgeCreate := agenttools.NewEdgeCreateTool(g)
	s.AddTool(edgeCreate.Definition(), edgeCreate.Handle)

	edgeDelete := agenttools.NewEdgeDeleteTool(g)
	s.AddTool(edgeDelete.Definition(), edgeDelete.Handle)

	edgeList := agenttools.NewEdgeListTool(g)
	s.AddTool(edgeList.Definition(), edgeList.Handle)

	path := agenttools.NewGraphPathTool(g)
	s.AddTool(path.Definition(), path.Handle)

	neighbors := agenttools.NewGraphNeighborsTool(g)
	s.AddTool(neighbors.Definition(), neighbors.Handle)

	// --- Agent memory ---
	memStore := agenttools.NewMemoryStoreTool(g)
	s.AddTool(memStore.Definition(), memStore.Handle)

	memRetrieve := agenttools.NewMemoryRetrieveTool(g)
	s.AddTool(memRetrieve.Definition(), memRetrieve.Handle)

	memList := agenttools.NewMemoryListTool(g)
	s.AddTool(memList.Definition(), memList.Handle)

	memSweep := agenttools.NewMemorySweepTool(g)
	s.AddTool(memSweep.Definition(), memSweep.Handle)
}

// serverInstructions returns the system instructions that tell a connected AI
// how to use the substrate effectively.
func serverInstructions() string {
	return `You have access to Foreman, an agent coordination substrate.

Foreman gives a team of AI agents three shared facilities backed by one
durable store:

1. AGENT LIFECYCLE & TASKS — register agents bound to modules, drive them
   through DORMANT → ACTIVE (⇄ PAUSED) → TERMINATED, and queue prioritized
   tasks on them.
2. EVENT BUS — publish durable events; subscriptions (exact, 'ns.*' or '*')
   fan matching events out as EVENT_NOTIFICATION tasks on subscriber queues.
3. KNOWLEDGE GRAPH & MEMORY — a shared, searchable property graph per
   workspace, plus private per-agent TTL memory.

## Typical flow

1. agent_register(name, module) → agent_control(action=start)
2. event_subscribe the agent to the namespaces it cares about
3. task_assign or task_route work onto agents; workers claim with task_start
   and finish with task_complete
4. Record shared facts as graph nodes/edges; keep scratch state in
   memory_store with a TTL

## Rules

- Only ACTIVE agents accept tasks. Start or resume an agent before assigning.
- TERMINATED is permanent. Stopping an agent cancels its open tasks.
- task_route picks the module owner deterministically (earliest-registered
  ACTIVE agent). Pause the owner to hand ownership to the next agent.
- Event notifications land as tasks: subscribers see them via task_list and
  acknowledge by completing them like any other task.
- Graph nodes are soft-deleted (provenance survives); edges delete for real.
- memory_retrieve never returns expired facts; run memory_sweep to reclaim
  storage.`
}
