// Package deps derives the relation dependency graph of a rule program and
// partitions it into evaluation strata. Stratification is a structural
// precondition: it runs once, before any fact is computed, and rejects
// programs where a negated or aggregated dependency closes a recursive
// cycle.
package deps

import (
	"sort"

	"github.com/l7mp/fixpoint/pkg/rule"
)

// Polarity tags a dependency edge with the way the body clause references
// the source relation.
type Polarity int

const (
	// Positive marks a plain or lattice match.
	Positive Polarity = iota
	// Negative marks a negation clause.
	Negative
	// Aggregated marks an aggregation sub-query.
	Aggregated
)

// String returns the polarity name.
func (p Polarity) String() string {
	switch p {
	case Positive:
		return "positive"
	case Negative:
		return "negated"
	case Aggregated:
		return "aggregated"
	default:
		return "unknown"
	}
}

// Edge is a directed dependency from a body relation to a head relation.
// Multiple edges between the same pair with different polarities are all
// retained.
type Edge struct {
	From     string
	To       string
	Polarity Polarity
	// Rule names the rule the edge was derived from.
	Rule string
}

// Graph is the relation dependency graph of a program.
type Graph struct {
	Nodes   []string
	Edges   []Edge
	byLabel map[string]int
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{byLabel: map[string]int{}}
}

// AddNode registers a relation. It reports whether the relation was new.
func (g *Graph) AddNode(label string) bool {
	if _, ok := g.byLabel[label]; ok {
		return false
	}
	g.byLabel[label] = len(g.Nodes)
	g.Nodes = append(g.Nodes, label)
	return true
}

// HasNode reports whether the relation is registered.
func (g *Graph) HasNode(label string) bool {
	_, ok := g.byLabel[label]
	return ok
}

// AddEdge records a dependency edge. Unknown endpoints are registered on the
// fly.
func (g *Graph) AddEdge(from, to string, polarity Polarity, ruleName string) {
	g.AddNode(from)
	g.AddNode(to)
	g.Edges = append(g.Edges, Edge{From: from, To: to, Polarity: polarity, Rule: ruleName})
}

// positiveAdjacency returns, per node, the distinct positive successors
// ordered by node registration index.
func (g *Graph) positiveAdjacency() map[string][]string {
	seen := make(map[string]map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		if e.Polarity != Positive {
			continue
		}
		if seen[e.From] == nil {
			seen[e.From] = map[string]bool{}
		}
		seen[e.From][e.To] = true
	}

	adj := make(map[string][]string, len(seen))
	for from, tos := range seen {
		out := make([]string, 0, len(tos))
		for to := range tos {
			out = append(out, to)
		}
		sort.Slice(out, func(i, j int) bool { return g.byLabel[out[i]] < g.byLabel[out[j]] })
		adj[from] = out
	}
	return adj
}

// Build derives the dependency graph of a program: for every body clause
// referencing relation R in a rule with head relation H, an edge R->H
// tagged with the clause polarity. Generators and filters reference no
// relation and contribute no edges. Declared but unreferenced relations
// still appear as nodes.
func Build(p *rule.Program) *Graph {
	g := NewGraph()

	for _, d := range p.Decls {
		g.AddNode(d.Name)
	}

	for i, r := range p.Rules {
		name := p.RuleName(i)
		for _, h := range r.Heads {
			g.AddNode(h.Relation)
			for _, c := range r.Body {
				switch c := c.(type) {
				case rule.Match:
					g.AddEdge(c.Relation, h.Relation, Positive, name)
				case rule.LatticeMatch:
					g.AddEdge(c.Relation, h.Relation, Positive, name)
				case rule.Negation:
					g.AddEdge(c.Relation, h.Relation, Negative, name)
				case rule.Aggregation:
					g.AddEdge(c.Relation, h.Relation, Aggregated, name)
				}
			}
		}
	}

	return g
}
