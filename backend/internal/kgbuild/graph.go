// Package kgbuild projects the processed course tree, mastery tables and
// auxiliary CSV inputs into typed nodes, labeled edges and flat triples.
package kgbuild

import (
	"sort"

	"edukg/backend/internal/graph"
)

// Graph is the working set of one build. Nodes and edges are merged by
// natural identity; insertion order is kept so exports are reproducible.
type Graph struct {
	nodes     map[graph.NodeKey]*graph.Node
	nodeOrder []graph.NodeKey

	edges    map[graph.EdgeKey]int
	edgeList []graph.Edge
	extra    []graph.Triple
	dropped  map[graph.Relation]int
}

// NewGraph creates an empty working set
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[graph.NodeKey]*graph.Node),
		edges:   make(map[graph.EdgeKey]int),
		dropped: make(map[graph.Relation]int),
	}
}

// AddNode merges a node. The first writer keeps the name unless it only
// holds the id placeholder; attributes are additive.
func (g *Graph) AddNode(id string, label graph.Label, name string, attrs map[string]any) {
	if id == "" {
		return
	}
	key := graph.NodeKey{Label: label, ID: id}
	n, ok := g.nodes[key]
	if !ok {
		if name == "" {
			name = id
		}
		n = &graph.Node{ID: id, Label: label, Name: name, Attrs: map[string]any{}}
		g.nodes[key] = n
		g.nodeOrder = append(g.nodeOrder, key)
	} else if n.Name == n.ID && name != "" && name != id {
		n.Name = name
	}
	for k, v := range attrs {
		n.Attrs[k] = v
	}
}

// HasNode reports whether a node exists in the working set
func (g *Graph) HasNode(label graph.Label, id string) bool {
	_, ok := g.nodes[graph.NodeKey{Label: label, ID: id}]
	return ok
}

// AddEdge merges an edge. An edge whose endpoints are not in the working set
// is dropped and counted against its relation; a repeated edge overwrites
// the properties of the first.
func (g *Graph) AddEdge(e graph.Edge) bool {
	if !g.HasNode(e.SourceLabel, e.Source) || !g.HasNode(e.TargetLabel, e.Target) {
		g.dropped[e.Relation]++
		return false
	}
	key := e.Key()
	if i, ok := g.edges[key]; ok {
		existing := &g.edgeList[i]
		existing.Score = e.Score
		if existing.Props == nil && len(e.Props) > 0 {
			existing.Props = map[string]any{}
		}
		for k, v := range e.Props {
			existing.Props[k] = v
		}
		return true
	}
	if e.Props != nil {
		props := make(map[string]any, len(e.Props))
		for k, v := range e.Props {
			props[k] = v
		}
		e.Props = props
	}
	g.edges[key] = len(g.edgeList)
	g.edgeList = append(g.edgeList, e)
	return true
}

// Link is AddEdge for edges without properties
func (g *Graph) Link(src string, srcLabel graph.Label, rel graph.Relation, tgt string, tgtLabel graph.Label) bool {
	return g.AddEdge(graph.Edge{Source: src, SourceLabel: srcLabel, Relation: rel, Target: tgt, TargetLabel: tgtLabel})
}

// AddTriples appends external triples that have no typed edge
func (g *Graph) AddTriples(triples ...graph.Triple) {
	g.extra = append(g.extra, triples...)
}

// Nodes returns the nodes in insertion order
func (g *Graph) Nodes() []graph.Node {
	out := make([]graph.Node, 0, len(g.nodeOrder))
	for _, key := range g.nodeOrder {
		out = append(out, *g.nodes[key])
	}
	return out
}

// Edges returns the edges in insertion order
func (g *Graph) Edges() []graph.Edge {
	out := make([]graph.Edge, len(g.edgeList))
	copy(out, g.edgeList)
	return out
}

// Triples renders every edge as exactly one triple, followed by the
// external triples.
func (g *Graph) Triples() []graph.Triple {
	out := make([]graph.Triple, 0, len(g.edgeList)+len(g.extra))
	for _, e := range g.edgeList {
		out = append(out, e.Triple())
	}
	return append(out, g.extra...)
}

// Dropped returns the per-relation count of edges dropped for a missing endpoint
func (g *Graph) Dropped() map[graph.Relation]int {
	out := make(map[graph.Relation]int, len(g.dropped))
	for rel, n := range g.dropped {
		out[rel] = n
	}
	return out
}

// Summary counts the working set
type Summary struct {
	Nodes   int            `json:"nodes"`
	Edges   int            `json:"edges"`
	Triples int            `json:"triples"`
	Dropped int            `json:"dropped"`
	ByLabel map[string]int `json:"by_label"`
}

// Summary returns the working set counts
func (g *Graph) Summary() Summary {
	s := Summary{
		Nodes:   len(g.nodeOrder),
		Edges:   len(g.edgeList),
		Triples: len(g.edgeList) + len(g.extra),
		ByLabel: make(map[string]int),
	}
	for _, n := range g.dropped {
		s.Dropped += n
	}
	for _, key := range g.nodeOrder {
		s.ByLabel[string(key.Label)]++
	}
	return s
}

// Students returns the student ids in the working set, sorted
func (g *Graph) Students() []string {
	var ids []string
	for _, key := range g.nodeOrder {
		if key.Label == graph.LabelStudent {
			ids = append(ids, key.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
