package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sitegrid/foreman/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.DataDir = t.TempDir()
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesDBFile(t *testing.T) {
	dir := t.TempDir()
	cfg := store.DefaultConfig()
	cfg.DataDir = dir

	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, "foreman.db")); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
}

func TestOpen_IdempotentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := store.DefaultConfig()
	cfg.DataDir = dir

	s1, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := s1.DB().Exec(
		`INSERT INTO agents (id, name, module) VALUES ('a-1', 'estimator', 'estimating')`,
	); err != nil {
		t.Fatalf("insert agent: %v", err)
	}
	s1.Close()

	// Reopen — schema migration must not clobber data.
	s2, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	var name string
	if err := s2.DB().QueryRow(`SELECT name FROM agents WHERE id = 'a-1'`).Scan(&name); err != nil {
		t.Fatalf("agent not found after reopen: %v", err)
	}
	if name != "estimator" {
		t.Errorf("name = %q, want %q", name, "estimator")
	}
}

func TestOpen_EnforcesForeignKeys(t *testing.T) {
	s := newTestStore(t)

	_, err := s.DB().Exec(
		`INSERT INTO agent_tasks (agent_id, type) VALUES ('missing-agent', 'ANALYZE')`,
	)
	if err == nil {
		t.Fatal("expected foreign key violation for task on missing agent")
	}
}

func TestEncodeDecodeJSON(t *testing.T) {
	encoded, err := store.EncodeJSON(map[string]any{"region": "west", "amount": 10})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	doc, err := store.DecodeJSON(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["region"] != "west" {
		t.Errorf("region = %v, want west", doc["region"])
	}

	if enc, _ := store.EncodeJSON(nil); enc != "{}" {
		t.Errorf("EncodeJSON(nil) = %q, want {}", enc)
	}
	if doc, err := store.DecodeJSON(""); err != nil || len(doc) != 0 {
		t.Errorf("DecodeJSON(\"\") = %v, %v, want empty map", doc, err)
	}
}

func TestSanitizeFTS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"steel delivery", `"steel" "delivery"`},
		{`"quoted"`, `"quoted"`},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := store.SanitizeFTS(tt.in); got != tt.want {
			t.Errorf("SanitizeFTS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
