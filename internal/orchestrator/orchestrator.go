// Package orchestrator owns agent lifecycle, the per-agent task queue and
// module routing.
//
// Agents move through a fixed state machine (DORMANT → INITIALIZING → ACTIVE ⇄
// PAUSED, any state → ERROR, any state → TERMINATED) and every transition is a
// single read-modify-write transaction against the shared store. Tasks are
// scheduled priority-descending, oldest-first within a priority band — queue
// consumers rely on that ordering.
package orchestrator

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sitegrid/foreman/internal/logging"
	"github.com/sitegrid/foreman/internal/store"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Status is an agent lifecycle state.
type Status string

const (
	StatusDormant      Status = "DORMANT"
	StatusInitializing Status = "INITIALIZING"
	StatusActive       Status = "ACTIVE"
	StatusPaused       Status = "PAUSED"
	StatusError        Status = "ERROR"
	StatusTerminated   Status = "TERMINATED"
)

// ValidStatus reports whether s is one of the enumerated lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDormant, StatusInitializing, StatusActive, StatusPaused, StatusError, StatusTerminated:
		return true
	}
	return false
}

// Task status values.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
	TaskCancelled  = "CANCELLED"
)

// Priority bounds for tasks. DefaultPriority applies when a caller leaves
// priority unset (zero).
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Agent is an addressable unit of autonomous work bound to one module.
type Agent struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Module        string         `json:"module"`
	Status        Status         `json:"status"`
	State         map[string]any `json:"state"`
	LastHeartbeat *string        `json:"last_heartbeat,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// Task is a unit of queued work belonging to exactly one agent.
type Task struct {
	ID          int64          `json:"id"`
	AgentID     string         `json:"agent_id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Priority    int            `json:"priority"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	CompletedAt *string        `json:"completed_at,omitempty"`
}

// TaskInput holds the caller-supplied fields for a new task.
type TaskInput struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload,omitempty"`
	Priority int            `json:"priority,omitempty"`
}

// RouteInput holds a task addressed to a module instead of a specific agent.
type RouteInput struct {
	Module   string         `json:"module"`
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload,omitempty"`
	Priority int            `json:"priority,omitempty"`
}

// ListFilters narrows ListAgents results. Zero values mean "any".
type ListFilters struct {
	Status Status
	Module string
}

// InitFunc runs during StartAgent's INITIALIZING phase. It is the extension
// point for per-agent resource setup; a returned error forces the agent to
// ERROR and aborts activation.
type InitFunc func(*Agent) error

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrAgentNotFound is returned when an agent id does not resolve.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrTaskNotFound is returned when a task id does not resolve.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a lifecycle operation is attempted
	// from a state that forbids it.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidStatus is returned when a status value is outside the
	// enumerated lifecycle set.
	ErrInvalidStatus = errors.New("invalid agent status")

	// ErrAgentNotActive is returned when a task is assigned to an agent that
	// is not ACTIVE.
	ErrAgentNotActive = errors.New("agent is not active")

	// ErrInvalidPriority is returned when a task priority falls outside [1,10].
	ErrInvalidPriority = errors.New("task priority out of range")

	// ErrModuleRequired is returned when RouteTask is called without a module.
	ErrModuleRequired = errors.New("task module is required")

	// ErrNoModuleOwner is returned when no ACTIVE agent owns the module.
	ErrNoModuleOwner = errors.New("no active agent for module")
)

// ─── Orchestrator ────────────────────────────────────────────────────────────

// Orchestrator coordinates agent lifecycle and task scheduling on the shared
// store. All persistence is local to one unit of work; nothing is retried
// automatically. The compensating ERROR transition in StartAgent is the only
// automatic corrective action.
type Orchestrator struct {
	db     *sql.DB
	log    logging.Logger
	initFn InitFunc
}

// New creates an Orchestrator on the shared store.
func New(st *store.Store, logger logging.Logger) *Orchestrator {
	return &Orchestrator{db: st.DB(), log: logging.OrNoOp(logger)}
}

// SetInitFunc installs the resource-setup hook run during StartAgent.
func (o *Orchestrator) SetInitFunc(fn InitFunc) { o.initFn = fn }

// fail logs an operation failure with its context and returns the error
// unchanged, so every public method propagates the same way.
func (o *Orchestrator) fail(op string, err error, args ...any) error {
	o.log.Error("orchestrator: "+op, append([]any{"error", err}, args...)...)
	return err
}

// ─── Agent CRUD ──────────────────────────────────────────────────────────────

const agentColumns = `id, name, module, status, state, last_heartbeat, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var state string
	if err := row.Scan(&a.ID, &a.Name, &a.Module, &a.Status, &state, &a.LastHeartbeat, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	doc, err := store.DecodeJSON(state)
	if err != nil {
		return nil, err
	}
	a.State = doc
	return &a, nil
}

// RegisterAgent creates a new DORMANT agent bound to a module. The rest of
// the orchestrator only mutates agents; this is the single creation path.
func (o *Orchestrator) RegisterAgent(name, module string) (*Agent, error) {
	if name == "" || module == "" {
		return nil, o.fail("register agent", fmt.Errorf("register agent: name and module are required"))
	}

	id := uuid.NewString()
	if _, err := o.db.Exec(
		`INSERT INTO agents (id, name, module, status) VALUES (?, ?, ?, ?)`,
		id, name, module, StatusDormant,
	); err != nil {
		return nil, o.fail("register agent", fmt.Errorf("register agent %q: %w", name, err), "module", module)
	}

	o.log.Info("orchestrator: agent registered", "agent_id", id, "name", name, "module", module)
	return o.GetAgent(id)
}

// GetAgent retrieves an agent by id.
func (o *Orchestrator) GetAgent(agentID string) (*Agent, error) {
	row := o.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, agentID)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, o.fail("get agent", fmt.Errorf("get agent %s: %w", agentID, ErrAgentNotFound))
	}
	if err != nil {
		return nil, o.fail("get agent", fmt.Errorf("get agent %s: %w", agentID, err))
	}
	return a, nil
}

// ListAgents returns agents matching the filters, oldest first.
func (o *Orchestrator) ListAgents(f ListFilters) ([]Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	args := []any{}

	if f.Status != "" {
		if !ValidStatus(f.Status) {
			return nil, o.fail("list agents", fmt.Errorf("list agents: status %q: %w", f.Status, ErrInvalidStatus))
		}
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Module != "" {
		query += " AND module = ?"
		args = append(args, f.Module)
	}
	query += " ORDER BY created_at ASC, rowid ASC"

	rows, err := o.db.Query(query, args...)
	if err != nil {
		return nil, o.fail("list agents", fmt.Errorf("list agents: %w", err))
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, o.fail("list agents", fmt.Errorf("list agents: scan: %w", err))
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// UpdateAgentStatus persists a new lifecycle status plus a last_status_change
// timestamp inside the agent's state document, in a single transaction.
func (o *Orchestrator) UpdateAgentStatus(agentID string, status Status) (*Agent, error) {
	if !ValidStatus(status) {
		return nil, o.fail("update status", fmt.Errorf("update agent %s: status %q: %w", agentID, status, ErrInvalidStatus))
	}

	tx, err := o.db.Begin()
	if err != nil {
		return nil, o.fail("update status", fmt.Errorf("update agent %s: begin tx: %w", agentID, err))
	}
	defer func() { _ = tx.Rollback() }()

	var rawState string
	err = tx.QueryRow(`SELECT state FROM agents WHERE id = ?`, agentID).Scan(&rawState)
	if err == sql.ErrNoRows {
		return nil, o.fail("update status", fmt.Errorf("update agent %s: %w", agentID, ErrAgentNotFound))
	}
	if err != nil {
		return nil, o.fail("update status", fmt.Errorf("update agent %s: %w", agentID, err))
	}

	state, err := store.DecodeJSON(rawState)
	if err != nil {
		return nil, o.fail("update status", fmt.Errorf("update agent %s: state: %w", agentID, err))
	}
	state["last_status_change"] = store.Now()

	encoded, err := store.EncodeJSON(state)
	if err != nil {
		return nil, o.fail("update status", fmt.Errorf("update agent %s: state: %w", agentID, err))
	}

	if _, err := tx.Exec(
		`UPDATE agents SET status = ?, state = ?, updated_at = datetime('now') WHERE id = ?`,
		status, encoded, agentID,
	); err != nil {
		return nil, o.fail("update status", fmt.Errorf("update agent %s: %w", agentID, err))
	}

	if err := tx.Commit(); err != nil {
		return nil, o.fail("update status", fmt.Errorf("update agent %s: commit: %w", agentID, err))
	}

	o.log.Debug("orchestrator: status updated", "agent_id", agentID, "status", status)
	return o.GetAgent(agentID)
}

// StartAgent activates a DORMANT or PAUSED agent.
//
// Sequence: INITIALIZING → init hook → ACTIVE → heartbeat. Calling it on an
// already-ACTIVE agent is a no-op returning the current record. On any failure
// mid-sequence the agent is forced to ERROR and the original error is
// returned.
func (o *Orchestrator) StartAgent(agentID string) (*Agent, error) {
	agent, err := o.GetAgent(agentID)
	if err != nil {
		return nil, err
	}

	switch agent.Status {
	case StatusActive:
		o.log.Debug("orchestrator: start is a no-op, agent already active", "agent_id", agentID)
		return agent, nil
	case StatusDormant, StatusPaused:
		// legal
	default:
		return nil, o.fail("start agent",
			fmt.Errorf("start agent %s: cannot start from %s: %w", agentID, agent.Status, ErrInvalidTransition))
	}

	started, err := o.runStartSequence(agentID)
	if err != nil {
		// Compensating transition: force ERROR, then surface the original
		// failure to the caller.
		if _, ferr := o.UpdateAgentStatus(agentID, StatusError); ferr != nil {
			o.log.Error("orchestrator: failed to mark agent errored", "agent_id", agentID, "error", ferr)
		}
		return nil, o.fail("start agent", fmt.Errorf("start agent %s: %w", agentID, err))
	}

	o.log.Info("orchestrator: agent started", "agent_id", agentID, "module", started.Module)
	return started, nil
}

func (o *Orchestrator) runStartSequence(agentID string) (*Agent, error) {
	agent, err := o.UpdateAgentStatus(agentID, StatusInitializing)
	if err != nil {
		return nil, err
	}

	if o.initFn != nil {
		if err := o.initFn(agent); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
	}

	if _, err := o.UpdateAgentStatus(agentID, StatusActive); err != nil {
		return nil, err
	}
	if err := o.RecordHeartbeat(agentID); err != nil {
		return nil, err
	}
	// Re-fetch so the returned record carries the heartbeat just stamped.
	return o.GetAgent(agentID)
}

// StopAgent cancels all of the agent's PENDING and IN_PROGRESS tasks and
// transitions it to TERMINATED, atomically. TERMINATED is terminal: stopping
// an already-terminated agent returns its record unchanged.
func (o *Orchestrator) StopAgent(agentID string) (*Agent, error) {
	agent, err := o.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status == StatusTerminated {
		return agent, nil
	}

	tx, err := o.db.Begin()
	if err != nil {
		return nil, o.fail("stop agent", fmt.Errorf("stop agent %s: begin tx: %w", agentID, err))
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`UPDATE agent_tasks SET status = ?, updated_at = datetime('now')
		 WHERE agent_id = ? AND status IN (?, ?)`,
		TaskCancelled, agentID, TaskPending, TaskInProgress,
	)
	if err != nil {
		return nil, o.fail("stop agent", fmt.Errorf("stop agent %s: cancel tasks: %w", agentID, err))
	}
	cancelled, _ := res.RowsAffected()

	state := agent.State
	state["last_status_change"] = store.Now()
	encoded, err := store.EncodeJSON(state)
	if err != nil {
		return nil, o.fail("stop agent", fmt.Errorf("stop agent %s: state: %w", agentID, err))
	}

	if _, err := tx.Exec(
		`UPDATE agents SET status = ?, state = ?, updated_at = datetime('now') WHERE id = ?`,
		StatusTerminated, encoded, agentID,
	); err != nil {
		return nil, o.fail("stop agent", fmt.Errorf("stop agent %s: %w", agentID, err))
	}

	if err := tx.Commit(); err != nil {
		return nil, o.fail("stop agent", fmt.Errorf("stop agent %s: commit: %w", agentID, err))
	}

	o.log.Info("orchestrator: agent stopped", "agent_id", agentID, "cancelled_tasks", cancelled)
	return o.GetAgent(agentID)
}

// PauseAgent suspends an ACTIVE agent.
func (o *Orchestrator) PauseAgent(agentID string) (*Agent, error) {
	agent, err := o.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != StatusActive {
		return nil, o.fail("pause agent",
			fmt.Errorf("pause agent %s: cannot pause from %s: %w", agentID, agent.Status, ErrInvalidTransition))
	}
	return o.UpdateAgentStatus(agentID, StatusPaused)
}

// ResumeAgent reactivates a PAUSED agent and records a heartbeat.
func (o *Orchestrator) ResumeAgent(agentID string) (*Agent, error) {
	agent, err := o.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != StatusPaused {
		return nil, o.fail("resume agent",
			fmt.Errorf("resume agent %s: cannot resume from %s: %w", agentID, agent.Status, ErrInvalidTransition))
	}

	if _, err := o.UpdateAgentStatus(agentID, StatusActive); err != nil {
		return nil, err
	}
	if err := o.RecordHeartbeat(agentID); err != nil {
		return nil, err
	}
	// Re-fetch so the returned record carries the heartbeat just stamped.
	return o.GetAgent(agentID)
}

// RecordHeartbeat stamps the agent's last_heartbeat, signalling liveness.
func (o *Orchestrator) RecordHeartbeat(agentID string) error {
	res, err := o.db.Exec(
		`UPDATE agents SET last_heartbeat = datetime('now'), updated_at = datetime('now') WHERE id = ?`,
		agentID,
	)
	if err != nil {
		return o.fail("heartbeat", fmt.Errorf("heartbeat %s: %w", agentID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return o.fail("heartbeat", fmt.Errorf("heartbeat %s: %w", agentID, ErrAgentNotFound))
	}
	return nil
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

const taskColumns = `id, agent_id, type, payload, priority, status, result, created_at, updated_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var payload string
	var result *string
	if err := row.Scan(&t.ID, &t.AgentID, &t.Type, &payload, &t.Priority, &t.Status, &result,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	doc, err := store.DecodeJSON(payload)
	if err != nil {
		return nil, err
	}
	t.Payload = doc
	if result != nil {
		res, err := store.DecodeJSON(*result)
		if err != nil {
			return nil, err
		}
		t.Result = res
	}
	return &t, nil
}

// AssignTask queues a PENDING task on an ACTIVE agent. Priority defaults to 5
// and must stay within [1,10].
func (o *Orchestrator) AssignTask(agentID string, in TaskInput) (*Task, error) {
	agent, err := o.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != StatusActive {
		return nil, o.fail("assign task",
			fmt.Errorf("assign task to %s: status %s: %w", agentID, agent.Status, ErrAgentNotActive))
	}

	priority := in.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, o.fail("assign task",
			fmt.Errorf("assign task to %s: priority %d: %w", agentID, priority, ErrInvalidPriority))
	}

	payload, err := store.EncodeJSON(in.Payload)
	if err != nil {
		return nil, o.fail("assign task", fmt.Errorf("assign task to %s: payload: %w", agentID, err))
	}

	res, err := o.db.Exec(
		`INSERT INTO agent_tasks (agent_id, type, payload, priority) VALUES (?, ?, ?, ?)`,
		agentID, in.Type, payload, priority,
	)
	if err != nil {
		return nil, o.fail("assign task", fmt.Errorf("assign task to %s: %w", agentID, err))
	}
	id, _ := res.LastInsertId()

	o.log.Debug("orchestrator: task assigned", "agent_id", agentID, "task_id", id, "type", in.Type, "priority", priority)
	return o.GetTask(id)
}

// GetTask retrieves a task by id.
func (o *Orchestrator) GetTask(taskID int64) (*Task, error) {
	row := o.db.QueryRow(`SELECT `+taskColumns+` FROM agent_tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, o.fail("get task", fmt.Errorf("get task %d: %w", taskID, ErrTaskNotFound))
	}
	if err != nil {
		return nil, o.fail("get task", fmt.Errorf("get task %d: %w", taskID, err))
	}
	return t, nil
}

// GetAgentTasks returns the agent's tasks ordered by descending priority,
// then ascending creation order. Status narrows the result when non-empty.
func (o *Orchestrator) GetAgentTasks(agentID, status string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE agent_id = ?`
	args := []any{agentID}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY priority DESC, id ASC"

	rows, err := o.db.Query(query, args...)
	if err != nil {
		return nil, o.fail("get tasks", fmt.Errorf("get tasks for %s: %w", agentID, err))
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, o.fail("get tasks", fmt.Errorf("get tasks for %s: scan: %w", agentID, err))
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// StartTask moves a PENDING task to IN_PROGRESS.
func (o *Orchestrator) StartTask(taskID int64) (*Task, error) {
	res, err := o.db.Exec(
		`UPDATE agent_tasks SET status = ?, updated_at = datetime('now') WHERE id = ? AND status = ?`,
		TaskInProgress, taskID, TaskPending,
	)
	if err != nil {
		return nil, o.fail("start task", fmt.Errorf("start task %d: %w", taskID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		task, err := o.GetTask(taskID)
		if err != nil {
			return nil, err
		}
		return nil, o.fail("start task",
			fmt.Errorf("start task %d: status %s: %w", taskID, task.Status, ErrInvalidTransition))
	}
	return o.GetTask(taskID)
}

// CompleteTask atomically marks a task COMPLETED, storing its result and
// completion timestamp.
func (o *Orchestrator) CompleteTask(taskID int64, result map[string]any) (*Task, error) {
	encoded, err := store.EncodeJSON(result)
	if err != nil {
		return nil, o.fail("complete task", fmt.Errorf("complete task %d: result: %w", taskID, err))
	}

	res, err := o.db.Exec(
		`UPDATE agent_tasks
		 SET status = ?, result = ?, completed_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ?`,
		TaskCompleted, encoded, taskID,
	)
	if err != nil {
		return nil, o.fail("complete task", fmt.Errorf("complete task %d: %w", taskID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, o.fail("complete task", fmt.Errorf("complete task %d: %w", taskID, ErrTaskNotFound))
	}

	o.log.Debug("orchestrator: task completed", "task_id", taskID)
	return o.GetTask(taskID)
}

// ─── Routing ─────────────────────────────────────────────────────────────────

// GetModuleOwner returns the earliest-created ACTIVE agent bound to the
// module, or nil when none is active. Oldest-wins is the deterministic
// ownership rule: exactly one owner is addressable at any instant.
func (o *Orchestrator) GetModuleOwner(module string) (*Agent, error) {
	row := o.db.QueryRow(
		`SELECT `+agentColumns+` FROM agents
		 WHERE module = ? AND status = ?
		 ORDER BY created_at ASC, rowid ASC
		 LIMIT 1`,
		module, StatusActive,
	)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, o.fail("module owner", fmt.Errorf("module owner %q: %w", module, err))
	}
	return a, nil
}

// RouteTask resolves the module owner and delegates to AssignTask.
func (o *Orchestrator) RouteTask(in RouteInput) (*Task, error) {
	if in.Module == "" {
		return nil, o.fail("route task", fmt.Errorf("route task: %w", ErrModuleRequired))
	}

	owner, err := o.GetModuleOwner(in.Module)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, o.fail("route task", fmt.Errorf("route task to %q: %w", in.Module, ErrNoModuleOwner))
	}

	return o.AssignTask(owner.ID, TaskInput{Type: in.Type, Payload: in.Payload, Priority: in.Priority})
}
