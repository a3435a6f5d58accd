// Package store owns the SQLite database underneath the coordination core.
//
// It opens the database with WAL mode, applies idempotent in-code migrations
// for every table the orchestrator, event bus and knowledge graph share, and
// exposes small helpers (timestamps, JSON columns) the other packages lean on.
// No business logic lives here.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Config holds store configuration.
type Config struct {
	DataDir          string
	MaxSearchResults int
	MaxRecentEvents  int
}

// DefaultConfig returns the default configuration for the store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".foreman"),
		MaxSearchResults: 50,
		MaxRecentEvents:  100,
	}
}

// Store wraps the shared *sql.DB handle. The orchestrator, event bus and
// knowledge graph all operate on this single database so that cross-component
// writes (event fan-out inserting tasks) stay in one transactional domain.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Open creates the data directory if needed, opens SQLite with WAL mode,
// and runs migrations.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "foreman.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// DB exposes the shared database handle to the component packages.
func (s *Store) DB() *sql.DB { return s.db }

// Config returns the configuration the store was opened with.
func (s *Store) Config() Config { return s.cfg }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			module         TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'DORMANT',
			state          TEXT NOT NULL DEFAULT '{}',
			last_heartbeat TEXT,
			created_at     TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_module ON agents(module, status);
		CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);

		CREATE TABLE IF NOT EXISTS agent_tasks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id     TEXT    NOT NULL,
			type         TEXT    NOT NULL,
			payload      TEXT    NOT NULL DEFAULT '{}',
			priority     INTEGER NOT NULL DEFAULT 5,
			status       TEXT    NOT NULL DEFAULT 'PENDING',
			result       TEXT,
			created_at   TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at   TEXT    NOT NULL DEFAULT (datetime('now')),
			completed_at TEXT,
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_agent  ON agent_tasks(agent_id, status);
		CREATE INDEX IF NOT EXISTS idx_tasks_queue  ON agent_tasks(agent_id, priority DESC, id ASC);

		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			source     TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_type    ON events(event_type);
		CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id   TEXT    NOT NULL,
			event_type TEXT    NOT NULL,
			filter     TEXT,
			active     INTEGER NOT NULL DEFAULT 1,
			created_at TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT    NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_subs_agent_type ON subscriptions(agent_id, event_type);
		CREATE INDEX IF NOT EXISTS idx_subs_active ON subscriptions(active);

		CREATE TABLE IF NOT EXISTS knowledge_nodes (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id TEXT NOT NULL,
			node_type    TEXT NOT NULL,
			label        TEXT NOT NULL,
			properties   TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at   TEXT NOT NULL DEFAULT (datetime('now')),
			deleted_at   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_workspace ON knowledge_nodes(workspace_id, deleted_at);
		CREATE INDEX IF NOT EXISTS idx_nodes_type      ON knowledge_nodes(workspace_id, node_type);

		CREATE VIRTUAL TABLE IF NOT EXISTS node_search USING fts5(
			label,
			properties,
			node_type,
			content='knowledge_nodes',
			content_rowid='id'
		);

		CREATE TABLE IF NOT EXISTS knowledge_edges (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			source_node_id    INTEGER NOT NULL,
			target_node_id    INTEGER NOT NULL,
			relationship_type TEXT    NOT NULL,
			properties        TEXT    NOT NULL DEFAULT '{}',
			weight            REAL    NOT NULL DEFAULT 1.0,
			created_at        TEXT    NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (source_node_id) REFERENCES knowledge_nodes(id),
			FOREIGN KEY (target_node_id) REFERENCES knowledge_nodes(id)
		);

		CREATE INDEX IF NOT EXISTS idx_edges_source ON knowledge_edges(source_node_id);
		CREATE INDEX IF NOT EXISTS idx_edges_target ON knowledge_edges(target_node_id);

		CREATE TABLE IF NOT EXISTS agent_memory (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id    TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       TEXT NOT NULL,
			expires_at  TEXT,
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_agent_key ON agent_memory(agent_id, key);
		CREATE INDEX IF NOT EXISTS idx_memory_expiry ON agent_memory(expires_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS triggers for knowledge nodes (idempotent).
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='node_search_insert'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		triggers := `
			CREATE TRIGGER node_search_insert AFTER INSERT ON knowledge_nodes BEGIN
				INSERT INTO node_search(rowid, label, properties, node_type)
				VALUES (new.id, new.label, new.properties, new.node_type);
			END;

			CREATE TRIGGER node_search_delete AFTER DELETE ON knowledge_nodes BEGIN
				INSERT INTO node_search(node_search, rowid, label, properties, node_type)
				VALUES ('delete', old.id, old.label, old.properties, old.node_type);
			END;

			CREATE TRIGGER node_search_update AFTER UPDATE ON knowledge_nodes BEGIN
				INSERT INTO node_search(node_search, rowid, label, properties, node_type)
				VALUES ('delete', old.id, old.label, old.properties, old.node_type);
				INSERT INTO node_search(rowid, label, properties, node_type)
				VALUES (new.id, new.label, new.properties, new.node_type);
			END;
		`
		if _, err := s.db.Exec(triggers); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Now returns the current UTC time formatted for SQLite, matching the
// datetime('now') column defaults so Go-side and SQL-side timestamps compare.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// TimeLayout is the timestamp format used in every table.
const TimeLayout = "2006-01-02 15:04:05"

// FormatTime renders t in the store's timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// NullableString converts "" to a NULL-able pointer for optional columns.
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EncodeJSON marshals a document column value, defaulting to "{}" for nil.
func EncodeJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: encode json: %w", err)
	}
	return string(raw), nil
}

// DecodeJSON unmarshals a document column into a generic map. Empty and NULL
// columns decode to an empty map rather than an error.
func DecodeJSON(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("store: decode json: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// SanitizeFTS wraps each word in quotes for safe FTS5 queries.
// "steel delivery" → `"steel" "delivery"`
func SanitizeFTS(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}

// IsUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
