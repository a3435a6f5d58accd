package graph_test

import (
	"errors"
	"testing"

	"github.com/sitegrid/foreman/internal/graph"
	"github.com/sitegrid/foreman/internal/store"
)

func insertAgent(t *testing.T, st *store.Store, id string) {
	t.Helper()
	if _, err := st.DB().Exec(
		`INSERT INTO agents (id, name, module) VALUES (?, ?, 'estimating')`, id, id,
	); err != nil {
		t.Fatalf("insert agent %q: %v", id, err)
	}
}

// expire backdates an entry so expiry behavior can be tested without sleeping.
func expire(t *testing.T, st *store.Store, agentID, key string) {
	t.Helper()
	if _, err := st.DB().Exec(
		`UPDATE agent_memory SET expires_at = datetime('now', '-10 seconds')
		 WHERE agent_id = ? AND key = ?`, agentID, key,
	); err != nil {
		t.Fatalf("backdate expiry for %s/%s: %v", agentID, key, err)
	}
}

func TestStoreMemory_UpsertOnAgentAndKey(t *testing.T) {
	g, st := newTestGraph(t)
	insertAgent(t, st, "a-1")

	first, err := g.StoreMemory("a-1", graph.MemoryShortTerm, "current_bid", map[string]any{"amount": 125000}, 0)
	if err != nil {
		t.Fatalf("StoreMemory error: %v", err)
	}

	second, err := g.StoreMemory("a-1", graph.MemoryLongTerm, "current_bid", map[string]any{"amount": 130000}, 0)
	if err != nil {
		t.Fatalf("StoreMemory (overwrite) error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("overwrite created a new row: id %d != %d", second.ID, first.ID)
	}
	if second.MemoryType != graph.MemoryLongTerm {
		t.Errorf("memory_type = %q, want %q", second.MemoryType, graph.MemoryLongTerm)
	}
	value, ok := second.Value.(map[string]any)
	if !ok || value["amount"] != float64(130000) {
		t.Errorf("value = %v, want overwritten amount", second.Value)
	}
}

func TestStoreMemory_Validation(t *testing.T) {
	g, st := newTestGraph(t)
	insertAgent(t, st, "a-1")

	if _, err := g.StoreMemory("a-1", "working", "k", "v", 0); !errors.Is(err, graph.ErrInvalidMemoryType) {
		t.Errorf("expected ErrInvalidMemoryType, got %v", err)
	}
	if _, err := g.StoreMemory("", graph.MemoryShortTerm, "k", "v", 0); err == nil {
		t.Error("expected error for missing agent id")
	}
	if _, err := g.StoreMemory("a-1", graph.MemoryShortTerm, "", "v", 0); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestStoreMemory_TTLSetsExpiry(t *testing.T) {
	g, st := newTestGraph(t)
	insertAgent(t, st, "a-1")

	entry, err := g.StoreMemory("a-1", graph.MemoryShortTerm, "scratch", "v", 3600)
	if err != nil {
		t.Fatalf("StoreMemory error: %v", err)
	}
	if entry.ExpiresAt == nil {
		t.Error("expected expires_at to be set for positive ttl")
	}

	forever, err := g.StoreMemory("a-1", graph.MemoryLongTerm, "lesson", "v", 0)
	if err != nil {
		t.Fatalf("StoreMemory error: %v", err)
	}
	if forever.ExpiresAt != nil {
		t.Errorf("expected nil expires_at for ttl 0, got %v", *forever.ExpiresAt)
	}
}

func TestRetrieveMemory_ExpiryEnforcedAtRead(t *testing.T) {
	g, st := newTestGraph(t)
	insertAgent(t, st, "a-1")

	if _, err := g.StoreMemory("a-1", graph.MemoryShortTerm, "scratch", "v", 3600); err != nil {
		t.Fatal(err)
	}
	expire(t, st, "a-1", "scratch")

	// The row still exists physically but must be invisible to reads.
	entry, err := g.RetrieveMemory("a-1", "scratch")
	if err != nil {
		t.Fatalf("RetrieveMemory error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil for expired entry, got %v", entry)
	}

	missing, err := g.RetrieveMemory("a-1", "never-stored")
	if err != nil {
		t.Fatalf("RetrieveMemory error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for absent key, got %v", missing)
	}
}

func TestListMemory_FiltersTypeAndExpired(t *testing.T) {
	g, st := newTestGraph(t)
	insertAgent(t, st, "a-1")
	insertAgent(t, st, "a-2")

	if _, err := g.StoreMemory("a-1", graph.MemoryShortTerm, "scratch", "v", 3600); err != nil {
		t.Fatal(err)
	}
	if _, err := g.StoreMemory("a-1", graph.MemoryLongTerm, "lesson", "v", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := g.StoreMemory("a-2", graph.MemoryShortTerm, "other", "v", 0); err != nil {
		t.Fatal(err)
	}

	all, err := g.ListMemory("a-1", "")
	if err != nil {
		t.Fatalf("ListMemory error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2 scoped to agent", len(all))
	}

	long, err := g.ListMemory("a-1", graph.MemoryLongTerm)
	if err != nil {
		t.Fatal(err)
	}
	if len(long) != 1 || long[0].Key != "lesson" {
		t.Errorf("long-term entries = %v, want just lesson", long)
	}

	expire(t, st, "a-1", "scratch")
	live, err := g.ListMemory("a-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 {
		t.Errorf("got %d live entries after expiry, want 1", len(live))
	}

	if _, err := g.ListMemory("a-1", "working"); !errors.Is(err, graph.ErrInvalidMemoryType) {
		t.Errorf("expected ErrInvalidMemoryType, got %v", err)
	}
}

func TestClearExpiredMemory(t *testing.T) {
	g, st := newTestGraph(t)
	insertAgent(t, st, "a-1")

	if _, err := g.StoreMemory("a-1", graph.MemoryShortTerm, "scratch", "v", 3600); err != nil {
		t.Fatal(err)
	}
	if _, err := g.StoreMemory("a-1", graph.MemoryLongTerm, "lesson", "v", 0); err != nil {
		t.Fatal(err)
	}
	expire(t, st, "a-1", "scratch")

	removed, err := g.ClearExpiredMemory()
	if err != nil {
		t.Fatalf("ClearExpiredMemory error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// Entries without a deadline are never swept.
	again, err := g.ClearExpiredMemory()
	if err != nil {
		t.Fatal(err)
	}
	if again != 0 {
		t.Errorf("second sweep removed %d, want 0", again)
	}
	entry, err := g.RetrieveMemory("a-1", "lesson")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Error("permanent entry must survive the sweep")
	}
}
