package graph

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitegrid/foreman/internal/store"
)

// Memory type classifications for agent memory entries.
const (
	MemoryShortTerm = "short_term"
	MemoryLongTerm  = "long_term"
	MemoryEpisodic  = "episodic"
	MemorySemantic  = "semantic"
)

// ErrInvalidMemoryType is returned when a memory type is outside the
// enumerated set.
var ErrInvalidMemoryType = errors.New("invalid memory type")

// MemoryEntry is a per-agent, TTL-bounded key-value fact, distinct from the
// shared knowledge graph.
type MemoryEntry struct {
	ID         int64   `json:"id"`
	AgentID    string  `json:"agent_id"`
	MemoryType string  `json:"memory_type"`
	Key        string  `json:"key"`
	Value      any     `json:"value"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

func validMemoryType(t string) bool {
	switch t {
	case MemoryShortTerm, MemoryLongTerm, MemoryEpisodic, MemorySemantic:
		return true
	}
	return false
}

// StoreMemory upserts a memory entry on (agentID, key). A positive ttlSeconds
// sets expires_at = now + ttl; zero means the entry never expires.
func (g *Graph) StoreMemory(agentID, memoryType, key string, value any, ttlSeconds int) (*MemoryEntry, error) {
	if agentID == "" || key == "" {
		return nil, g.fail("store memory", fmt.Errorf("store memory: agent_id and key are required"))
	}
	if !validMemoryType(memoryType) {
		return nil, g.fail("store memory",
			fmt.Errorf("store memory %s/%s: type %q: %w", agentID, key, memoryType, ErrInvalidMemoryType))
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, g.fail("store memory", fmt.Errorf("store memory %s/%s: value: %w", agentID, key, err))
	}

	var expiresAt *string
	if ttlSeconds > 0 {
		exp := store.FormatTime(time.Now().UTC().Add(time.Duration(ttlSeconds) * time.Second))
		expiresAt = &exp
	}

	if _, err := g.db.Exec(
		`INSERT INTO agent_memory (agent_id, memory_type, key, value, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id, key)
		 DO UPDATE SET memory_type = excluded.memory_type,
		               value = excluded.value,
		               expires_at = excluded.expires_at,
		               updated_at = datetime('now')`,
		agentID, memoryType, key, string(raw), expiresAt,
	); err != nil {
		return nil, g.fail("store memory", fmt.Errorf("store memory %s/%s: %w", agentID, key, err))
	}

	g.log.Debug("graph: memory stored", "agent_id", agentID, "key", key, "memory_type", memoryType, "ttl_seconds", ttlSeconds)
	return g.RetrieveMemory(agentID, key)
}

// RetrieveMemory returns the entry for (agentID, key), or nil when no row
// exists or the entry is past its expiration. Expiry is enforced at read
// time, whether or not a sweep has run.
func (g *Graph) RetrieveMemory(agentID, key string) (*MemoryEntry, error) {
	row := g.db.QueryRow(
		`SELECT id, agent_id, memory_type, key, value, expires_at, created_at, updated_at
		 FROM agent_memory
		 WHERE agent_id = ? AND key = ?
		   AND (expires_at IS NULL OR datetime(expires_at) > datetime('now'))`,
		agentID, key,
	)
	entry, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, g.fail("retrieve memory", fmt.Errorf("retrieve memory %s/%s: %w", agentID, key, err))
	}
	return entry, nil
}

// ListMemory returns the agent's live (unexpired) entries, optionally
// narrowed by memory type, most recently updated first.
func (g *Graph) ListMemory(agentID, memoryType string) ([]MemoryEntry, error) {
	query := `SELECT id, agent_id, memory_type, key, value, expires_at, created_at, updated_at
		 FROM agent_memory
		 WHERE agent_id = ?
		   AND (expires_at IS NULL OR datetime(expires_at) > datetime('now'))`
	args := []any{agentID}

	if memoryType != "" {
		if !validMemoryType(memoryType) {
			return nil, g.fail("list memory",
				fmt.Errorf("list memory %s: type %q: %w", agentID, memoryType, ErrInvalidMemoryType))
		}
		query += " AND memory_type = ?"
		args = append(args, memoryType)
	}
	query += " ORDER BY updated_at DESC, id DESC"

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, g.fail("list memory", fmt.Errorf("list memory %s: %w", agentID, err))
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		entry, err := scanMemory(rows)
		if err != nil {
			return nil, g.fail("list memory", fmt.Errorf("list memory %s: scan: %w", agentID, err))
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// ClearExpiredMemory bulk-deletes every entry past its expiration and returns
// the count removed. This is the only physical-deletion path for memory; a
// host scheduler is expected to run it periodically.
func (g *Graph) ClearExpiredMemory() (int64, error) {
	res, err := g.db.Exec(
		`DELETE FROM agent_memory
		 WHERE expires_at IS NOT NULL AND datetime(expires_at) <= datetime('now')`,
	)
	if err != nil {
		return 0, g.fail("clear expired memory", fmt.Errorf("clear expired memory: %w", err))
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		g.log.Info("graph: expired memory cleared", "removed", removed)
	}
	return removed, nil
}

func scanMemory(row interface{ Scan(...any) error }) (*MemoryEntry, error) {
	var e MemoryEntry
	var raw string
	if err := row.Scan(&e.ID, &e.AgentID, &e.MemoryType, &e.Key, &raw,
		&e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &e.Value); err != nil {
		return nil, fmt.Errorf("decode memory value: %w", err)
	}
	return &e, nil
}
