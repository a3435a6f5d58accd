package graph_test

import (
	"errors"
	"testing"

	"github.com/sitegrid/foreman/internal/graph"
	"github.com/sitegrid/foreman/internal/store"
)

func newTestGraph(t *testing.T) (*graph.Graph, *store.Store) {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.DataDir = t.TempDir()
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return graph.New(st, nil), st
}

func mustCreateNode(t *testing.T, g *graph.Graph, workspace, nodeType, label string) *graph.Node {
	t.Helper()
	n, err := g.CreateNode(workspace, nodeType, label, nil)
	if err != nil {
		t.Fatalf("create node %q: %v", label, err)
	}
	return n
}

func mustCreateEdge(t *testing.T, g *graph.Graph, from, to int64, relType string) *graph.Edge {
	t.Helper()
	e, err := g.CreateEdge(from, to, relType, nil, 0)
	if err != nil {
		t.Fatalf("create edge %d→%d: %v", from, to, err)
	}
	return e
}

// ─── Nodes ──────────────────────────────────────────────────────────────────

func TestCreateNode_Basic(t *testing.T) {
	g, _ := newTestGraph(t)

	n, err := g.CreateNode("ws-1", "material", "Steel Beam", map[string]any{"grade": "A36"})
	if err != nil {
		t.Fatalf("CreateNode error: %v", err)
	}
	if n.ID == 0 {
		t.Error("expected non-zero node id")
	}
	if n.Properties["grade"] != "A36" {
		t.Errorf("grade = %v, want A36", n.Properties["grade"])
	}

	if _, err := g.CreateNode("", "material", "Steel Beam", nil); err == nil {
		t.Error("expected error for missing workspace")
	}
}

func TestUpdateNode_MergesProperties(t *testing.T) {
	g, _ := newTestGraph(t)
	n := mustCreateNode(t, g, "ws-1", "material", "Steel Beam")

	label := "Steel Beam W12x26"
	updated, err := g.UpdateNode(n.ID, graph.UpdateNodeInput{
		Label:      &label,
		Properties: map[string]any{"grade": "A36"},
	})
	if err != nil {
		t.Fatalf("UpdateNode error: %v", err)
	}
	if updated.Label != label {
		t.Errorf("label = %q, want %q", updated.Label, label)
	}

	// A second update with a different key keeps the first key.
	updated, err = g.UpdateNode(n.ID, graph.UpdateNodeInput{Properties: map[string]any{"length_ft": 20}})
	if err != nil {
		t.Fatalf("UpdateNode error: %v", err)
	}
	if updated.Properties["grade"] != "A36" {
		t.Errorf("grade lost on merge: %v", updated.Properties)
	}
}

func TestDeleteNode_SoftDelete(t *testing.T) {
	g, _ := newTestGraph(t)
	n := mustCreateNode(t, g, "ws-1", "material", "Steel Beam")

	if err := g.DeleteNode(n.ID); err != nil {
		t.Fatalf("DeleteNode error: %v", err)
	}
	if _, err := g.GetNode(n.ID); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound after soft delete, got %v", err)
	}
	// Double delete resolves as not found.
	if err := g.DeleteNode(n.ID); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound on second delete, got %v", err)
	}
}

func TestGetNodesByType(t *testing.T) {
	g, _ := newTestGraph(t)
	mustCreateNode(t, g, "ws-1", "material", "Steel Beam")
	mustCreateNode(t, g, "ws-1", "material", "Rebar")
	mustCreateNode(t, g, "ws-1", "vendor", "Acme Steel")
	mustCreateNode(t, g, "ws-2", "material", "Concrete")

	nodes, err := g.GetNodesByType("ws-1", "material")
	if err != nil {
		t.Fatalf("GetNodesByType error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
}

// ─── Edges ──────────────────────────────────────────────────────────────────

func TestCreateEdge_RequiresLiveEndpoints(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustCreateNode(t, g, "ws-1", "material", "Steel Beam")
	b := mustCreateNode(t, g, "ws-1", "vendor", "Acme Steel")

	e, err := g.CreateEdge(a.ID, b.ID, "supplied_by", nil, 0)
	if err != nil {
		t.Fatalf("CreateEdge error: %v", err)
	}
	if e.Weight != 1.0 {
		t.Errorf("weight = %v, want default 1.0", e.Weight)
	}

	if _, err := g.CreateEdge(a.ID, 9999, "supplied_by", nil, 0); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for missing target, got %v", err)
	}

	if err := g.DeleteNode(b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := g.CreateEdge(a.ID, b.ID, "supplied_by", nil, 0); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for soft-deleted target, got %v", err)
	}
}

func TestGetEdges_Directions(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustCreateNode(t, g, "ws-1", "n", "A")
	b := mustCreateNode(t, g, "ws-1", "n", "B")
	mustCreateEdge(t, g, a.ID, b.ID, "links")
	mustCreateEdge(t, g, b.ID, a.ID, "links")

	out, err := g.GetEdges(a.ID, "out")
	if err != nil {
		t.Fatal(err)
	}
	in, err := g.GetEdges(a.ID, "in")
	if err != nil {
		t.Fatal(err)
	}
	both, err := g.GetEdges(a.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || len(in) != 1 || len(both) != 2 {
		t.Errorf("out/in/both = %d/%d/%d, want 1/1/2", len(out), len(in), len(both))
	}

	if _, err := g.GetEdges(a.ID, "sideways"); err == nil {
		t.Error("expected error for bad direction")
	}
}

func TestDeleteEdge_HardDelete(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustCreateNode(t, g, "ws-1", "n", "A")
	b := mustCreateNode(t, g, "ws-1", "n", "B")
	e := mustCreateEdge(t, g, a.ID, b.ID, "links")

	if err := g.DeleteEdge(e.ID); err != nil {
		t.Fatalf("DeleteEdge error: %v", err)
	}
	if err := g.DeleteEdge(e.ID); !errors.Is(err, graph.ErrEdgeNotFound) {
		t.Errorf("expected ErrEdgeNotFound, got %v", err)
	}
}

// ─── Path finding ───────────────────────────────────────────────────────────

func TestFindPath_ShortestWithCycle(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustCreateNode(t, g, "ws-1", "n", "A")
	b := mustCreateNode(t, g, "ws-1", "n", "B")
	c := mustCreateNode(t, g, "ws-1", "n", "C")
	d := mustCreateNode(t, g, "ws-1", "n", "D")
	mustCreateEdge(t, g, a.ID, b.ID, "next")
	mustCreateEdge(t, g, b.ID, c.ID, "next")
	mustCreateEdge(t, g, c.ID, d.ID, "next")
	mustCreateEdge(t, g, d.ID, a.ID, "next") // cycle back to A

	path, err := g.FindPath(a.ID, d.ID, 3)
	if err != nil {
		t.Fatalf("FindPath error: %v", err)
	}
	want := []int64{a.ID, b.ID, c.ID, d.ID}
	if len(path) != len(want) {
		t.Fatalf("path length = %d, want %d", len(path), len(want))
	}
	for i, n := range path {
		if n.ID != want[i] {
			t.Errorf("path[%d] = %d, want %d", i, n.ID, want[i])
		}
	}
}

func TestFindPath_UnreachableWithinBound(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustCreateNode(t, g, "ws-1", "n", "A")
	b := mustCreateNode(t, g, "ws-1", "n", "B")
	c := mustCreateNode(t, g, "ws-1", "n", "C")
	d := mustCreateNode(t, g, "ws-1", "n", "D")
	mustCreateEdge(t, g, a.ID, b.ID, "next")
	mustCreateEdge(t, g, b.ID, c.ID, "next")
	mustCreateEdge(t, g, c.ID, d.ID, "next")

	path, err := g.FindPath(a.ID, d.ID, 2)
	if err != nil {
		t.Fatalf("FindPath error: %v", err)
	}
	if path != nil {
		t.Errorf("expected no path within 2 hops, got %v", path)
	}
}

func TestFindPath_DirectionalityAndSelf(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustCreateNode(t, g, "ws-1", "n", "A")
	b := mustCreateNode(t, g, "ws-1", "n", "B")
	mustCreateEdge(t, g, a.ID, b.ID, "next")

	// Edges are followed strictly source → target.
	path, err := g.FindPath(b.ID, a.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if path != nil {
		t.Errorf("expected no reverse path, got %v", path)
	}

	self, err := g.FindPath(a.ID, a.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(self) != 1 || self[0].ID != a.ID {
		t.Errorf("self path = %v, want single node", self)
	}

	if _, err := g.FindPath(a.ID, 9999, 5); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

// ─── Neighbors ──────────────────────────────────────────────────────────────

func TestGetNeighbors_UndirectedHops(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustCreateNode(t, g, "ws-1", "n", "A")
	b := mustCreateNode(t, g, "ws-1", "n", "B")
	c := mustCreateNode(t, g, "ws-1", "n", "C")
	mustCreateEdge(t, g, a.ID, b.ID, "next")
	mustCreateEdge(t, g, b.ID, c.ID, "next")

	neighbors, err := g.GetNeighbors(a.ID, 2)
	if err != nil {
		t.Fatalf("GetNeighbors error: %v", err)
	}
	hops := map[int64]int{}
	for _, n := range neighbors {
		if n.ID == a.ID {
			t.Error("origin must be excluded from its own neighborhood")
		}
		hops[n.ID] = n.Hops
	}
	if hops[b.ID] != 1 || hops[c.ID] != 2 {
		t.Errorf("hops = %v, want B:1 C:2", hops)
	}

	// Depth 1 only reaches B, even against edge direction.
	fromC, err := g.GetNeighbors(c.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(fromC) != 1 || fromC[0].ID != b.ID {
		t.Errorf("neighbors of C at depth 1 = %v, want just B", fromC)
	}
}

func TestGetNeighbors_ExcludesDeleted(t *testing.T) {
	g, _ := newTestGraph(t)
	a := mustCreateNode(t, g, "ws-1", "n", "A")
	b := mustCreateNode(t, g, "ws-1", "n", "B")
	c := mustCreateNode(t, g, "ws-1", "n", "C")
	mustCreateEdge(t, g, a.ID, b.ID, "next")
	mustCreateEdge(t, g, b.ID, c.ID, "next")

	// Deleting B severs traversal to C: dangling edges stay but are not
	// walkable.
	if err := g.DeleteNode(b.ID); err != nil {
		t.Fatal(err)
	}
	neighbors, err := g.GetNeighbors(a.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 0 {
		t.Errorf("expected no reachable neighbors, got %v", neighbors)
	}
}

// ─── Search ─────────────────────────────────────────────────────────────────

func TestSearchNodes_SubstringCaseInsensitive(t *testing.T) {
	g, _ := newTestGraph(t)
	mustCreateNode(t, g, "ws-1", "material", "Steel Beam W12x26")
	mustCreateNode(t, g, "ws-1", "material", "Rebar #5")

	results, err := g.SearchNodes("ws-1", "steel")
	if err != nil {
		t.Fatalf("SearchNodes error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Label != "Steel Beam W12x26" {
		t.Errorf("label = %q", results[0].Label)
	}
}

func TestSearchNodes_MatchesProperties(t *testing.T) {
	g, _ := newTestGraph(t)
	if _, err := g.CreateNode("ws-1", "vendor", "Acme", map[string]any{"specialty": "structural concrete"}); err != nil {
		t.Fatal(err)
	}
	mustCreateNode(t, g, "ws-1", "vendor", "Bolt Co")

	results, err := g.SearchNodes("ws-1", "concrete")
	if err != nil {
		t.Fatalf("SearchNodes error: %v", err)
	}
	if len(results) != 1 || results[0].Label != "Acme" {
		t.Errorf("results = %v, want Acme via properties match", results)
	}
}

func TestSearchNodes_ScopedAndExcludesDeleted(t *testing.T) {
	g, _ := newTestGraph(t)
	keep := mustCreateNode(t, g, "ws-1", "material", "Steel Beam")
	mustCreateNode(t, g, "ws-2", "material", "Steel Plate")
	gone := mustCreateNode(t, g, "ws-1", "material", "Steel Rod")
	if err := g.DeleteNode(gone.ID); err != nil {
		t.Fatal(err)
	}

	results, err := g.SearchNodes("ws-1", "steel")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != keep.ID {
		t.Errorf("results = %v, want only the live ws-1 node", results)
	}
}

func TestSearchNodes_EmptyQueryReturnsRecent(t *testing.T) {
	g, _ := newTestGraph(t)
	mustCreateNode(t, g, "ws-1", "material", "Steel Beam")
	mustCreateNode(t, g, "ws-1", "material", "Rebar")

	results, err := g.SearchNodes("ws-1", "   ")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2 recent nodes", len(results))
	}
}
