package bus

import (
	"strings"

	"github.com/google/uuid"
)

// Handler is an in-process callback invoked synchronously on Publish.
type Handler func(Event)

type handlerEntry struct {
	id string
	fn Handler
}

// AddHandler registers an in-process handler for an event-type pattern
// (exact, "<segment>.*", or "*") and returns its registration id. The
// registry is process-local and non-persistent: it is lost on restart.
func (b *Bus) AddHandler(eventType string, fn Handler) string {
	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{id: id, fn: fn})
	return id
}

// RemoveHandler unregisters a handler by its registration id. It reports
// whether a handler was removed.
func (b *Bus) RemoveHandler(eventType, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[eventType]
	for i, entry := range entries {
		if entry.id == id {
			b.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
			if len(b.handlers[eventType]) == 0 {
				delete(b.handlers, eventType)
			}
			return true
		}
	}
	return false
}

// Emit invokes the in-process handlers matching the event, synchronously and
// in registration order: exact handlers first, then the event's first-segment
// wildcard tier, then global. A panicking handler is logged and skipped; it
// never prevents the remaining handlers from running.
func (b *Bus) Emit(event Event) {
	tiers := []string{event.EventType}
	if segment, _, found := strings.Cut(event.EventType, "."); found {
		// An event type that already is its own wildcard tier (e.g. "agent.*")
		// must not collect that tier twice.
		if wildcard := segment + ".*"; wildcard != event.EventType {
			tiers = append(tiers, wildcard)
		}
	}
	if event.EventType != "*" {
		tiers = append(tiers, "*")
	}

	b.mu.RLock()
	var entries []handlerEntry
	for _, tier := range tiers {
		entries = append(entries, b.handlers[tier]...)
	}
	b.mu.RUnlock()

	for _, entry := range entries {
		b.safeInvoke(entry, event)
	}
}

func (b *Bus) safeInvoke(entry handlerEntry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus: handler panicked",
				"handler_id", entry.id, "event_type", event.EventType, "panic", r)
		}
	}()
	entry.fn(event)
}
