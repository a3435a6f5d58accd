// Package graph implements the workspace-scoped knowledge graph and the
// per-agent memory store.
//
// Nodes are soft-deleted so knowledge provenance survives; edges are
// hard-deleted and expired memory is only removed by the sweep. That
// asymmetry is deliberate and must be preserved.
package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/sitegrid/foreman/internal/logging"
	"github.com/sitegrid/foreman/internal/store"
)

// Traversal bounds.
const (
	DefaultPathDepth     = 5
	MaxPathDepth         = 10
	DefaultNeighborDepth = 1
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Node is a labeled entity in a workspace's property graph.
type Node struct {
	ID          int64          `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	NodeType    string         `json:"node_type"`
	Label       string         `json:"label"`
	Properties  map[string]any `json:"properties"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	DeletedAt   *string        `json:"deleted_at,omitempty"`
}

// Edge is a directed, weighted, typed relation between two nodes.
type Edge struct {
	ID               int64          `json:"id"`
	SourceNodeID     int64          `json:"source_node_id"`
	TargetNodeID     int64          `json:"target_node_id"`
	RelationshipType string         `json:"relationship_type"`
	Properties       map[string]any `json:"properties"`
	Weight           float64        `json:"weight"`
	CreatedAt        string         `json:"created_at"`
}

// Neighbor is a node annotated with the minimum hop distance at which it was
// first reached from the origin.
type Neighbor struct {
	Node
	Hops int `json:"hops"`
}

// SearchResult embeds a Node with its FTS relevance score. Substring-only
// matches carry a zero rank.
type SearchResult struct {
	Node
	Rank float64 `json:"rank"`
}

// UpdateNodeInput holds partial update fields for a node. Nil fields are left
// unchanged; Properties keys are merged into the existing document.
type UpdateNodeInput struct {
	NodeType   *string        `json:"node_type,omitempty"`
	Label      *string        `json:"label,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrNodeNotFound is returned when a node id does not resolve or the node
	// is soft-deleted.
	ErrNodeNotFound = errors.New("knowledge node not found")

	// ErrEdgeNotFound is returned when an edge id does not resolve.
	ErrEdgeNotFound = errors.New("knowledge edge not found")
)

// ─── Graph ───────────────────────────────────────────────────────────────────

// Graph is the knowledge graph store on the shared database.
type Graph struct {
	db          *sql.DB
	log         logging.Logger
	searchLimit int
}

// New creates a Graph on the shared store.
func New(st *store.Store, logger logging.Logger) *Graph {
	limit := st.Config().MaxSearchResults
	if limit <= 0 {
		limit = 50
	}
	return &Graph{db: st.DB(), log: logging.OrNoOp(logger), searchLimit: limit}
}

func (g *Graph) fail(op string, err error, args ...any) error {
	g.log.Error("graph: "+op, append([]any{"error", err}, args...)...)
	return err
}

// ─── Nodes ───────────────────────────────────────────────────────────────────

const nodeColumns = `id, workspace_id, node_type, label, properties, created_at, updated_at, deleted_at`

func scanNode(row interface{ Scan(...any) error }) (*Node, error) {
	var n Node
	var props string
	if err := row.Scan(&n.ID, &n.WorkspaceID, &n.NodeType, &n.Label, &props,
		&n.CreatedAt, &n.UpdatedAt, &n.DeletedAt); err != nil {
		return nil, err
	}
	doc, err := store.DecodeJSON(props)
	if err != nil {
		return nil, err
	}
	n.Properties = doc
	return &n, nil
}

// CreateNode adds a node to a workspace.
func (g *Graph) CreateNode(workspaceID, nodeType, label string, properties map[string]any) (*Node, error) {
	if workspaceID == "" || nodeType == "" || label == "" {
		return nil, g.fail("create node",
			fmt.Errorf("create node: workspace_id, node_type and label are required"))
	}

	props, err := store.EncodeJSON(properties)
	if err != nil {
		return nil, g.fail("create node", fmt.Errorf("create node %q: properties: %w", label, err))
	}

	res, err := g.db.Exec(
		`INSERT INTO knowledge_nodes (workspace_id, node_type, label, properties) VALUES (?, ?, ?, ?)`,
		workspaceID, nodeType, label, props,
	)
	if err != nil {
		return nil, g.fail("create node", fmt.Errorf("create node %q: %w", label, err))
	}
	id, _ := res.LastInsertId()

	g.log.Debug("graph: node created", "node_id", id, "workspace_id", workspaceID, "node_type", nodeType)
	return g.GetNode(id)
}

// GetNode retrieves a live node by id; soft-deleted nodes resolve as not
// found.
func (g *Graph) GetNode(nodeID int64) (*Node, error) {
	row := g.db.QueryRow(
		`SELECT `+nodeColumns+` FROM knowledge_nodes WHERE id = ? AND deleted_at IS NULL`, nodeID,
	)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, g.fail("get node", fmt.Errorf("get node %d: %w", nodeID, ErrNodeNotFound))
	}
	if err != nil {
		return nil, g.fail("get node", fmt.Errorf("get node %d: %w", nodeID, err))
	}
	return n, nil
}

// UpdateNode applies a partial update; property keys merge into the existing
// document.
func (g *Graph) UpdateNode(nodeID int64, in UpdateNodeInput) (*Node, error) {
	node, err := g.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	nodeType := node.NodeType
	label := node.Label
	if in.NodeType != nil {
		nodeType = *in.NodeType
	}
	if in.Label != nil {
		label = *in.Label
	}
	for k, v := range in.Properties {
		node.Properties[k] = v
	}

	props, err := store.EncodeJSON(node.Properties)
	if err != nil {
		return nil, g.fail("update node", fmt.Errorf("update node %d: properties: %w", nodeID, err))
	}

	if _, err := g.db.Exec(
		`UPDATE knowledge_nodes
		 SET node_type = ?, label = ?, properties = ?, updated_at = datetime('now')
		 WHERE id = ? AND deleted_at IS NULL`,
		nodeType, label, props, nodeID,
	); err != nil {
		return nil, g.fail("update node", fmt.Errorf("update node %d: %w", nodeID, err))
	}

	return g.GetNode(nodeID)
}

// DeleteNode soft-deletes a node. Edges referencing it remain but stop being
// traversable; there is no cascade.
func (g *Graph) DeleteNode(nodeID int64) error {
	res, err := g.db.Exec(
		`UPDATE knowledge_nodes SET deleted_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ? AND deleted_at IS NULL`,
		nodeID,
	)
	if err != nil {
		return g.fail("delete node", fmt.Errorf("delete node %d: %w", nodeID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return g.fail("delete node", fmt.Errorf("delete node %d: %w", nodeID, ErrNodeNotFound))
	}

	g.log.Debug("graph: node deleted", "node_id", nodeID)
	return nil
}

// GetNodesByType lists a workspace's live nodes of one type, newest first.
func (g *Graph) GetNodesByType(workspaceID, nodeType string) ([]Node, error) {
	rows, err := g.db.Query(
		`SELECT `+nodeColumns+` FROM knowledge_nodes
		 WHERE workspace_id = ? AND node_type = ? AND deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC`,
		workspaceID, nodeType,
	)
	if err != nil {
		return nil, g.fail("nodes by type", fmt.Errorf("nodes by type %q: %w", nodeType, err))
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, g.fail("nodes by type", fmt.Errorf("nodes by type %q: scan: %w", nodeType, err))
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// ─── Edges ───────────────────────────────────────────────────────────────────

const edgeColumns = `id, source_node_id, target_node_id, relationship_type, properties, weight, created_at`

func scanEdge(row interface{ Scan(...any) error }) (*Edge, error) {
	var e Edge
	var props string
	if err := row.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &e.RelationshipType, &props,
		&e.Weight, &e.CreatedAt); err != nil {
		return nil, err
	}
	doc, err := store.DecodeJSON(props)
	if err != nil {
		return nil, err
	}
	e.Properties = doc
	return &e, nil
}

// CreateEdge relates two live nodes. Both endpoints are re-fetched first so
// an edge can never be created against a missing or deleted node; a node may
// be soft-deleted later, leaving the edge dangling by design.
func (g *Graph) CreateEdge(sourceID, targetID int64, relationshipType string, properties map[string]any, weight float64) (*Edge, error) {
	if relationshipType == "" {
		return nil, g.fail("create edge", fmt.Errorf("create edge: relationship_type is required"))
	}
	if _, err := g.GetNode(sourceID); err != nil {
		return nil, err
	}
	if _, err := g.GetNode(targetID); err != nil {
		return nil, err
	}
	if weight == 0 {
		weight = 1.0
	}

	props, err := store.EncodeJSON(properties)
	if err != nil {
		return nil, g.fail("create edge", fmt.Errorf("create edge %d→%d: properties: %w", sourceID, targetID, err))
	}

	res, err := g.db.Exec(
		`INSERT INTO knowledge_edges (source_node_id, target_node_id, relationship_type, properties, weight)
		 VALUES (?, ?, ?, ?, ?)`,
		sourceID, targetID, relationshipType, props, weight,
	)
	if err != nil {
		return nil, g.fail("create edge", fmt.Errorf("create edge %d→%d: %w", sourceID, targetID, err))
	}
	id, _ := res.LastInsertId()

	g.log.Debug("graph: edge created", "edge_id", id, "source", sourceID, "target", targetID, "type", relationshipType)
	return g.GetEdge(id)
}

// GetEdge retrieves an edge by id.
func (g *Graph) GetEdge(edgeID int64) (*Edge, error) {
	row := g.db.QueryRow(`SELECT `+edgeColumns+` FROM knowledge_edges WHERE id = ?`, edgeID)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, g.fail("get edge", fmt.Errorf("get edge %d: %w", edgeID, ErrEdgeNotFound))
	}
	if err != nil {
		return nil, g.fail("get edge", fmt.Errorf("get edge %d: %w", edgeID, err))
	}
	return e, nil
}

// GetEdges returns edges touching a node. Direction narrows to "out"
// (node as source) or "in" (node as target); empty means both.
func (g *Graph) GetEdges(nodeID int64, direction string) ([]Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM knowledge_edges WHERE `
	args := []any{}

	switch direction {
	case "out":
		query += `source_node_id = ?`
		args = append(args, nodeID)
	case "in":
		query += `target_node_id = ?`
		args = append(args, nodeID)
	case "":
		query += `(source_node_id = ? OR target_node_id = ?)`
		args = append(args, nodeID, nodeID)
	default:
		return nil, g.fail("get edges", fmt.Errorf("get edges for %d: direction %q must be \"in\", \"out\" or empty", nodeID, direction))
	}
	query += ` ORDER BY id ASC`

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, g.fail("get edges", fmt.Errorf("get edges for %d: %w", nodeID, err))
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, g.fail("get edges", fmt.Errorf("get edges for %d: scan: %w", nodeID, err))
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

// DeleteEdge hard-deletes an edge.
func (g *Graph) DeleteEdge(edgeID int64) error {
	res, err := g.db.Exec(`DELETE FROM knowledge_edges WHERE id = ?`, edgeID)
	if err != nil {
		return g.fail("delete edge", fmt.Errorf("delete edge %d: %w", edgeID, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return g.fail("delete edge", fmt.Errorf("delete edge %d: %w", edgeID, ErrEdgeNotFound))
	}
	return nil
}

// ─── Traversal ───────────────────────────────────────────────────────────────

// FindPath searches for the shortest directed path between two live nodes,
// bounded by maxDepth hops (default 5, clamped to 10). It returns the full
// node records from source to target inclusive, or nil when the target is
// unreachable within the bound. Ties between equal-length paths resolve in
// edge-insertion order, so results are stable for a fixed graph.
func (g *Graph) FindPath(fromID, toID int64, maxDepth int) ([]Node, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultPathDepth
	}
	if maxDepth > MaxPathDepth {
		maxDepth = MaxPathDepth
	}

	from, err := g.GetNode(fromID)
	if err != nil {
		return nil, err
	}
	if _, err := g.GetNode(toID); err != nil {
		return nil, err
	}
	if fromID == toID {
		return []Node{*from}, nil
	}

	// BFS with parent pointers. First arrival at a node is along a shortest
	// path, and a visited set prevents any walk from re-entering its own
	// prefix.
	parent := map[int64]int64{fromID: fromID}
	frontier := []int64{fromID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, current := range frontier {
			targets, err := g.liveTargets(current)
			if err != nil {
				return nil, g.fail("find path", fmt.Errorf("find path %d→%d: %w", fromID, toID, err))
			}
			for _, t := range targets {
				if _, seen := parent[t]; seen {
					continue
				}
				parent[t] = current
				if t == toID {
					return g.materializePath(parent, fromID, toID)
				}
				next = append(next, t)
			}
		}
		frontier = next
	}

	return nil, nil
}

// liveTargets returns the ids of live nodes reachable over one outgoing edge,
// in edge-insertion order.
func (g *Graph) liveTargets(nodeID int64) ([]int64, error) {
	rows, err := g.db.Query(
		`SELECT e.target_node_id
		 FROM knowledge_edges e
		 JOIN knowledge_nodes n ON n.id = e.target_node_id
		 WHERE e.source_node_id = ? AND n.deleted_at IS NULL
		 ORDER BY e.id ASC`,
		nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		targets = append(targets, id)
	}
	return targets, rows.Err()
}

func (g *Graph) materializePath(parent map[int64]int64, fromID, toID int64) ([]Node, error) {
	var ids []int64
	for id := toID; ; id = parent[id] {
		ids = append(ids, id)
		if id == fromID {
			break
		}
	}
	// Reverse into source→target order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	path := make([]Node, 0, len(ids))
	for _, id := range ids {
		node, err := g.GetNode(id)
		if err != nil {
			return nil, err
		}
		path = append(path, *node)
	}
	return path, nil
}

// GetNeighbors expands the graph around a node treating edges as undirected,
// up to depth hops (default 1). Results are deduplicated by node id, exclude
// the origin and deleted nodes, carry the minimum hop distance at which each
// neighbor was first reached, and are ordered by hop distance then recency.
func (g *Graph) GetNeighbors(nodeID int64, depth int) ([]Neighbor, error) {
	if depth <= 0 {
		depth = DefaultNeighborDepth
	}

	if _, err := g.GetNode(nodeID); err != nil {
		return nil, err
	}

	visited := map[int64]bool{nodeID: true}
	frontier := []int64{nodeID}
	var neighbors []Neighbor

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []int64
		for _, current := range frontier {
			adjacent, err := g.liveAdjacent(current)
			if err != nil {
				return nil, g.fail("neighbors", fmt.Errorf("neighbors of %d: %w", nodeID, err))
			}
			for _, id := range adjacent {
				if visited[id] {
					continue
				}
				visited[id] = true

				node, err := g.GetNode(id)
				if err != nil {
					return nil, err
				}
				neighbors = append(neighbors, Neighbor{Node: *node, Hops: hop})
				next = append(next, id)
			}
		}
		frontier = next
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Hops != neighbors[j].Hops {
			return neighbors[i].Hops < neighbors[j].Hops
		}
		if neighbors[i].CreatedAt != neighbors[j].CreatedAt {
			return neighbors[i].CreatedAt > neighbors[j].CreatedAt
		}
		return neighbors[i].ID > neighbors[j].ID
	})
	return neighbors, nil
}

// liveAdjacent returns live node ids adjacent over any edge, either
// direction, in edge-insertion order.
func (g *Graph) liveAdjacent(nodeID int64) ([]int64, error) {
	rows, err := g.db.Query(
		`SELECT e.source_node_id, e.target_node_id
		 FROM knowledge_edges e
		 WHERE e.source_node_id = ? OR e.target_node_id = ?
		 ORDER BY e.id ASC`,
		nodeID, nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []int64
	for rows.Next() {
		var src, dst int64
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, err
		}
		other := dst
		if dst == nodeID {
			other = src
		}
		candidates = append(candidates, other)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Filter deleted endpoints so traversal never crosses a removed node.
	var adjacent []int64
	for _, id := range candidates {
		var live int
		err := g.db.QueryRow(
			`SELECT 1 FROM knowledge_nodes WHERE id = ? AND deleted_at IS NULL`, id,
		).Scan(&live)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		adjacent = append(adjacent, id)
	}
	return adjacent, nil
}

// ─── Search ──────────────────────────────────────────────────────────────────

// SearchNodes finds a workspace's live nodes whose label contains the query
// substring (case-insensitive) or whose label/properties match under FTS
// relevance ranking. FTS matches rank first, substring-only matches follow,
// both newest first within their band; results cap at the configured limit.
// An empty query falls back to the workspace's most recent nodes.
func (g *Graph) SearchNodes(workspaceID, query string) ([]SearchResult, error) {
	ftsQuery := store.SanitizeFTS(query)
	if ftsQuery == "" {
		return g.searchRecent(workspaceID)
	}

	seen := make(map[int64]bool)
	var results []SearchResult

	rows, err := g.db.Query(
		`SELECT `+prefixedNodeColumns("n")+`, fts.rank
		 FROM node_search fts
		 JOIN knowledge_nodes n ON n.id = fts.rowid
		 WHERE node_search MATCH ? AND n.workspace_id = ? AND n.deleted_at IS NULL
		 ORDER BY fts.rank, n.created_at DESC
		 LIMIT ?`,
		ftsQuery, workspaceID, g.searchLimit,
	)
	if err != nil {
		return nil, g.fail("search nodes", fmt.Errorf("search nodes %q: %w", query, err))
	}
	defer rows.Close()

	for rows.Next() {
		var sr SearchResult
		var props string
		if err := rows.Scan(&sr.ID, &sr.WorkspaceID, &sr.NodeType, &sr.Label, &props,
			&sr.CreatedAt, &sr.UpdatedAt, &sr.DeletedAt, &sr.Rank); err != nil {
			return nil, g.fail("search nodes", fmt.Errorf("search nodes %q: scan: %w", query, err))
		}
		doc, err := store.DecodeJSON(props)
		if err != nil {
			return nil, g.fail("search nodes", fmt.Errorf("search nodes %q: %w", query, err))
		}
		sr.Properties = doc
		seen[sr.ID] = true
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, g.fail("search nodes", fmt.Errorf("search nodes %q: %w", query, err))
	}

	if len(results) >= g.searchLimit {
		return results[:g.searchLimit], nil
	}

	// Substring pass catches partial-word matches FTS tokenization misses.
	subRows, err := g.db.Query(
		`SELECT `+nodeColumns+` FROM knowledge_nodes
		 WHERE workspace_id = ? AND deleted_at IS NULL AND LOWER(label) LIKE LOWER(?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		workspaceID, "%"+query+"%", g.searchLimit,
	)
	if err != nil {
		return nil, g.fail("search nodes", fmt.Errorf("search nodes %q: substring: %w", query, err))
	}
	defer subRows.Close()

	for subRows.Next() {
		n, err := scanNode(subRows)
		if err != nil {
			return nil, g.fail("search nodes", fmt.Errorf("search nodes %q: scan: %w", query, err))
		}
		if seen[n.ID] {
			continue
		}
		results = append(results, SearchResult{Node: *n})
		if len(results) >= g.searchLimit {
			break
		}
	}
	return results, subRows.Err()
}

// searchRecent returns the workspace's most recent live nodes, used as the
// fallback for empty or whitespace-only queries.
func (g *Graph) searchRecent(workspaceID string) ([]SearchResult, error) {
	rows, err := g.db.Query(
		`SELECT `+nodeColumns+` FROM knowledge_nodes
		 WHERE workspace_id = ? AND deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		workspaceID, g.searchLimit,
	)
	if err != nil {
		return nil, g.fail("search nodes", fmt.Errorf("search recent: %w", err))
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, g.fail("search nodes", fmt.Errorf("search recent: scan: %w", err))
		}
		results = append(results, SearchResult{Node: *n})
	}
	return results, rows.Err()
}

func prefixedNodeColumns(alias string) string {
	return alias + ".id, " + alias + ".workspace_id, " + alias + ".node_type, " + alias + ".label, " +
		alias + ".properties, " + alias + ".created_at, " + alias + ".updated_at, " + alias + ".deleted_at"
}
