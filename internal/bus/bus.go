// Package bus implements the durable event log and subscription fan-out.
//
// Publish stores the event in its own transaction and returns it immediately;
// matching and notification-task insertion run in a detached unit of work the
// publisher never waits on. A second, process-local handler registry delivers
// the same event synchronously to in-memory callbacks (see handlers.go).
package bus

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/sitegrid/foreman/internal/logging"
	"github.com/sitegrid/foreman/internal/store"
)

// Notification tasks inserted by event fan-out.
const (
	NotificationTaskType = "EVENT_NOTIFICATION"
	NotificationPriority = 3
)

// DefaultRecentLimit caps GetRecentEvents when the caller passes no limit.
const DefaultRecentLimit = 100

// ─── Types ───────────────────────────────────────────────────────────────────

// Event is an immutable, timestamped fact in the append-only log.
type Event struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

// Subscription registers an agent's standing interest in an event-type
// pattern: an exact type, a first-segment wildcard ("agent.*"), or "*".
type Subscription struct {
	ID        int64          `json:"id"`
	AgentID   string         `json:"agent_id"`
	EventType string         `json:"event_type"`
	Filter    map[string]any `json:"filter,omitempty"`
	Active    bool           `json:"active"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrEventTypeRequired is returned when Publish or Subscribe is called
	// with an empty event type.
	ErrEventTypeRequired = errors.New("event type is required")

	// ErrSubscriptionNotFound is returned when a subscription id does not
	// resolve.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// ─── Bus ─────────────────────────────────────────────────────────────────────

// Bus is the process-wide event bus. Construct one instance at startup and
// inject it everywhere; the in-memory handler registry is lost on restart.
type Bus struct {
	db          *sql.DB
	log         logging.Logger
	recentLimit int

	mu       sync.RWMutex
	handlers map[string][]handlerEntry

	dispatch sync.WaitGroup
}

// New creates a Bus on the shared store.
func New(st *store.Store, logger logging.Logger) *Bus {
	limit := st.Config().MaxRecentEvents
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Bus{
		db:          st.DB(),
		log:         logging.OrNoOp(logger),
		recentLimit: limit,
		handlers:    make(map[string][]handlerEntry),
	}
}

func (b *Bus) fail(op string, err error, args ...any) error {
	b.log.Error("bus: "+op, append([]any{"error", err}, args...)...)
	return err
}

// ─── Publish ─────────────────────────────────────────────────────────────────

// Publish durably appends an event and returns the stored record. Fan-out to
// subscribers runs in a detached goroutine after commit; its failures are
// logged per-subscription and never reach the publisher. In-process handlers
// are invoked synchronously afterwards.
func (b *Bus) Publish(eventType, source string, payload map[string]any) (*Event, error) {
	if eventType == "" {
		return nil, b.fail("publish", fmt.Errorf("publish: %w", ErrEventTypeRequired))
	}

	encoded, err := store.EncodeJSON(payload)
	if err != nil {
		return nil, b.fail("publish", fmt.Errorf("publish %q: payload: %w", eventType, err))
	}

	tx, err := b.db.Begin()
	if err != nil {
		return nil, b.fail("publish", fmt.Errorf("publish %q: begin tx: %w", eventType, err))
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`INSERT INTO events (event_type, source, payload) VALUES (?, ?, ?)`,
		eventType, source, encoded,
	)
	if err != nil {
		return nil, b.fail("publish", fmt.Errorf("publish %q: %w", eventType, err))
	}
	id, _ := res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, b.fail("publish", fmt.Errorf("publish %q: commit: %w", eventType, err))
	}

	event, err := b.GetEvent(id)
	if err != nil {
		return nil, err
	}

	b.dispatch.Add(1)
	go func() {
		defer b.dispatch.Done()
		b.processEvent(event)
	}()

	b.Emit(*event)

	b.log.Debug("bus: event published", "event_id", event.ID, "event_type", eventType, "source", source)
	return event, nil
}

// Drain blocks until all in-flight fan-out work has finished. Hosts call it
// on shutdown; tests call it to observe notification tasks deterministically.
func (b *Bus) Drain() {
	b.dispatch.Wait()
}

// GetEvent retrieves one event by id.
func (b *Bus) GetEvent(eventID int64) (*Event, error) {
	row := b.db.QueryRow(
		`SELECT id, event_type, source, payload, created_at FROM events WHERE id = ?`, eventID,
	)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, b.fail("get event", fmt.Errorf("get event %d: not found", eventID))
	}
	if err != nil {
		return nil, b.fail("get event", fmt.Errorf("get event %d: %w", eventID, err))
	}
	return ev, nil
}

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var ev Event
	var payload string
	if err := row.Scan(&ev.ID, &ev.EventType, &ev.Source, &payload, &ev.CreatedAt); err != nil {
		return nil, err
	}
	doc, err := store.DecodeJSON(payload)
	if err != nil {
		return nil, err
	}
	ev.Payload = doc
	return &ev, nil
}

// ─── Fan-out ─────────────────────────────────────────────────────────────────

// processEvent matches the event against every active subscription and
// inserts one EVENT_NOTIFICATION task per match. A failed insert for one
// subscription is logged and skipped; it never blocks delivery to the rest.
// Dispatch is at-least-once: a retried event may produce duplicate tasks.
func (b *Bus) processEvent(event *Event) {
	rows, err := b.db.Query(
		`SELECT id, agent_id, event_type, filter FROM subscriptions WHERE active = 1`,
	)
	if err != nil {
		b.log.Error("bus: load subscriptions", "event_id", event.ID, "error", err)
		return
	}
	defer rows.Close()

	type target struct {
		subID   int64
		agentID string
	}
	var targets []target

	for rows.Next() {
		var (
			subID     int64
			agentID   string
			pattern   string
			rawFilter *string
		)
		if err := rows.Scan(&subID, &agentID, &pattern, &rawFilter); err != nil {
			b.log.Error("bus: scan subscription", "event_id", event.ID, "error", err)
			continue
		}

		if !Matches(pattern, event.EventType) {
			continue
		}
		if rawFilter != nil {
			filter, err := store.DecodeJSON(*rawFilter)
			if err != nil {
				b.log.Error("bus: decode subscription filter", "subscription_id", subID, "error", err)
				continue
			}
			if !filterMatches(filter, event.Payload) {
				continue
			}
		}
		targets = append(targets, target{subID: subID, agentID: agentID})
	}
	if err := rows.Err(); err != nil {
		b.log.Error("bus: iterate subscriptions", "event_id", event.ID, "error", err)
	}

	for _, t := range targets {
		payload, err := store.EncodeJSON(map[string]any{
			"event_id":        event.ID,
			"event_type":      event.EventType,
			"source":          event.Source,
			"payload":         event.Payload,
			"subscription_id": t.subID,
		})
		if err != nil {
			b.log.Error("bus: encode notification", "subscription_id", t.subID, "error", err)
			continue
		}
		if _, err := b.db.Exec(
			`INSERT INTO agent_tasks (agent_id, type, payload, priority) VALUES (?, ?, ?, ?)`,
			t.agentID, NotificationTaskType, payload, NotificationPriority,
		); err != nil {
			b.log.Error("bus: insert notification task",
				"event_id", event.ID, "subscription_id", t.subID, "agent_id", t.agentID, "error", err)
			continue
		}
	}
}

// Matches reports whether a subscription pattern covers an event type.
// Three forms match: the exact type, the global wildcard "*", and the
// first-segment wildcard "<segment>.*" (only the first dot-delimited segment
// of the event type is considered).
func Matches(pattern, eventType string) bool {
	if pattern == eventType || pattern == "*" {
		return true
	}
	segment, _, found := strings.Cut(eventType, ".")
	return found && pattern == segment+".*"
}

// filterMatches applies a flat key=value equality filter against the event
// payload. Every filter key must exist with an exactly-equal value.
func filterMatches(filter, payload map[string]any) bool {
	for key, want := range filter {
		got, ok := payload[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// ─── Subscriptions ───────────────────────────────────────────────────────────

// Subscribe upserts a subscription on (agentID, eventType): re-subscribing
// replaces the filter and reactivates rather than duplicating.
func (b *Bus) Subscribe(agentID, eventType string, filter map[string]any) (*Subscription, error) {
	if eventType == "" {
		return nil, b.fail("subscribe", fmt.Errorf("subscribe %s: %w", agentID, ErrEventTypeRequired))
	}

	var encoded *string
	if filter != nil {
		raw, err := store.EncodeJSON(filter)
		if err != nil {
			return nil, b.fail("subscribe", fmt.Errorf("subscribe %s to %q: filter: %w", agentID, eventType, err))
		}
		encoded = &raw
	}

	if _, err := b.db.Exec(
		`INSERT INTO subscriptions (agent_id, event_type, filter, active)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(agent_id, event_type)
		 DO UPDATE SET filter = excluded.filter, active = 1, updated_at = datetime('now')`,
		agentID, eventType, encoded,
	); err != nil {
		return nil, b.fail("subscribe", fmt.Errorf("subscribe %s to %q: %w", agentID, eventType, err))
	}

	row := b.db.QueryRow(
		`SELECT id, agent_id, event_type, filter, active, created_at, updated_at
		 FROM subscriptions WHERE agent_id = ? AND event_type = ?`,
		agentID, eventType,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, b.fail("subscribe", fmt.Errorf("subscribe %s to %q: %w", agentID, eventType, err))
	}

	b.log.Debug("bus: subscribed", "agent_id", agentID, "event_type", eventType, "subscription_id", sub.ID)
	return sub, nil
}

// Unsubscribe soft-deactivates a subscription; history is retained.
func (b *Bus) Unsubscribe(subscriptionID int64) error {
	res, err := b.db.Exec(
		`UPDATE subscriptions SET active = 0, updated_at = datetime('now') WHERE id = ?`,
		subscriptionID,
	)
	if err != nil {
		return b.fail("unsubscribe", fmt.Errorf("unsubscribe %d: %w", subscriptionID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return b.fail("unsubscribe", fmt.Errorf("unsubscribe %d: %w", subscriptionID, ErrSubscriptionNotFound))
	}
	return nil
}

// GetSubscriptions returns the agent's active subscriptions, newest first.
func (b *Bus) GetSubscriptions(agentID string) ([]Subscription, error) {
	rows, err := b.db.Query(
		`SELECT id, agent_id, event_type, filter, active, created_at, updated_at
		 FROM subscriptions
		 WHERE agent_id = ? AND active = 1
		 ORDER BY created_at DESC, id DESC`,
		agentID,
	)
	if err != nil {
		return nil, b.fail("get subscriptions", fmt.Errorf("subscriptions for %s: %w", agentID, err))
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, b.fail("get subscriptions", fmt.Errorf("subscriptions for %s: scan: %w", agentID, err))
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row interface{ Scan(...any) error }) (*Subscription, error) {
	var sub Subscription
	var rawFilter *string
	if err := row.Scan(&sub.ID, &sub.AgentID, &sub.EventType, &rawFilter, &sub.Active,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if rawFilter != nil {
		filter, err := store.DecodeJSON(*rawFilter)
		if err != nil {
			return nil, err
		}
		sub.Filter = filter
	}
	return &sub, nil
}

// ─── Read path ───────────────────────────────────────────────────────────────

// GetRecentEvents returns events newest first, optionally narrowed by type
// and a lower time bound. Limit defaults to the configured recent-events cap;
// there is no pagination cursor beyond the hard limit.
func (b *Bus) GetRecentEvents(eventType string, since time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = b.recentLimit
	}

	query := `SELECT id, event_type, source, payload, created_at FROM events WHERE 1=1`
	args := []any{}

	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, store.FormatTime(since))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, b.fail("recent events", fmt.Errorf("recent events: %w", err))
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, b.fail("recent events", fmt.Errorf("recent events: scan: %w", err))
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}
