// Package planner computes routes over the warehouse connectivity graph and
// turns them into movement-command programs for a device.
package planner

import (
	"math"

	"github.com/harrison/fleetd/internal/models"
)

// Node is a zone with a map position, used by the A* heuristic.
type Node struct {
	ID string
	X  float64 // Meters from map origin
	Y  float64
}

// Edge is a directed traversable connection between two zones.
type Edge struct {
	ConnectionID int64
	From         string
	To           string
	DistanceM    float64
	Direction    string // north, south, east, west
}

// Graph is the read-only warehouse connectivity model for one map.
// Edges respect directionality; a two-way aisle needs two edges.
type Graph struct {
	nodes map[string]Node
	adj   map[string][]Edge
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		adj:   make(map[string][]Edge),
	}
}

// AddNode registers a zone position. Edges may reference zones without a
// registered position; those fall back to a zero heuristic.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n
}

// AddEdge registers a directed edge.
func (g *Graph) AddEdge(e Edge) {
	g.adj[e.From] = append(g.adj[e.From], e)
}

// Neighbors returns the outgoing edges of a zone in insertion order.
func (g *Graph) Neighbors(zone string) []Edge {
	return g.adj[zone]
}

// EdgeBetween returns the direct edge from one zone to another, if any.
func (g *Graph) EdgeBetween(from, to string) (Edge, bool) {
	for _, e := range g.adj[from] {
		if e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// HasZone reports whether the zone appears as a node or an edge endpoint.
func (g *Graph) HasZone(zone string) bool {
	if _, ok := g.nodes[zone]; ok {
		return true
	}
	if _, ok := g.adj[zone]; ok {
		return true
	}
	for _, edges := range g.adj {
		for _, e := range edges {
			if e.To == zone {
				return true
			}
		}
	}
	return false
}

// heuristic is the straight-line distance between two zones. It is admissible
// and consistent as long as edge costs are at least the euclidean distance
// between their endpoints. Zones without known positions contribute zero,
// degrading gracefully to Dijkstra.
func (g *Graph) heuristic(a, b string) float64 {
	na, okA := g.nodes[a]
	nb, okB := g.nodes[b]
	if !okA || !okB {
		return 0
	}
	dx := na.X - nb.X
	dy := na.Y - nb.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// BuildGraph assembles a Graph from record-store rows for one map.
func BuildGraph(edges []models.ZoneEdge, nodes []models.ZoneNode) *Graph {
	g := NewGraph()
	for _, n := range nodes {
		g.AddNode(Node{ID: n.Zone, X: n.X, Y: n.Y})
	}
	for _, e := range edges {
		g.AddEdge(Edge{
			ConnectionID: e.ID,
			From:         e.FromZone,
			To:           e.ToZone,
			DistanceM:    e.DistanceM,
			Direction:    e.Direction,
		})
	}
	return g
}
