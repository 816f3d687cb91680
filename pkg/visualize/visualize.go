// Package visualize renders the relation dependency graph of a rule
// program as a diagram: relations grouped into stratum clusters, dependency
// edges styled by polarity.
package visualize

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/l7mp/fixpoint/pkg/deps"
)

// Graph is the visualization model of a stratified program.
type Graph struct {
	// Name labels the diagram.
	Name string
	// Strata lists the relation groups in evaluation order.
	Strata [][]string
	// Edges are the polarity-tagged dependency edges.
	Edges []deps.Edge
}

// BuildGraph constructs the visualization model from a dependency graph and
// its stratification.
func BuildGraph(name string, g *deps.Graph, s *deps.Stratification) *Graph {
	out := &Graph{
		Name:   name,
		Strata: make([][]string, len(s.Strata)),
		Edges:  make([]deps.Edge, len(g.Edges)),
	}
	for i, members := range s.Strata {
		stratum := make([]string, len(members))
		copy(stratum, members)
		out.Strata[i] = stratum
	}
	copy(out.Edges, g.Edges)
	return out
}

// BuildDotGraph creates a dot.Graph from the visualization model. The
// unified graph can then be rendered in different formats (DOT, Mermaid).
func BuildDotGraph(g *Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR") // Left to right layout.
	graph.Attr("newrank", "true")
	if g.Name != "" {
		graph.Attr("label", g.Name)
		graph.Attr("labelloc", "t") // Label at top.
	}

	nodes := make(map[string]dot.Node)

	for i, members := range g.Strata {
		cluster := graph.Subgraph(fmt.Sprintf("stratum %d", i), dot.ClusterOption{})
		cluster.Attr("style", "dashed")
		cluster.Attr("color", "gray")
		for _, rel := range members {
			node := cluster.Node(rel).
				Attr("shape", "box").
				Attr("style", "filled,rounded").
				Attr("fillcolor", "lightblue").
				Attr("fontname", "helvetica")
			nodes[rel] = node
		}
	}

	// Relations never placed into a stratum (empty programs) still get
	// free-standing nodes.
	for _, e := range g.Edges {
		for _, label := range []string{e.From, e.To} {
			if _, ok := nodes[label]; !ok {
				nodes[label] = graph.Node(label).Attr("shape", "box")
			}
		}
	}

	styleEdges(graph, g.Edges, nodes)

	return graph
}

// buildFlatDotGraph creates a dot.Graph with every relation as a root-level
// node. The Mermaid converter does not descend into cluster subgraphs, so the
// flowchart renderer needs a cluster-free graph to pick up the node labels.
func buildFlatDotGraph(g *Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")

	nodes := make(map[string]dot.Node)
	addNode := func(rel string) {
		if _, ok := nodes[rel]; !ok {
			nodes[rel] = graph.Node(rel).Attr("shape", "box")
		}
	}

	for _, members := range g.Strata {
		for _, rel := range members {
			addNode(rel)
		}
	}
	for _, e := range g.Edges {
		addNode(e.From)
		addNode(e.To)
	}

	styleEdges(graph, g.Edges, nodes)

	return graph
}

func styleEdges(graph *dot.Graph, edges []deps.Edge, nodes map[string]dot.Node) {
	for _, e := range edges {
		edge := graph.Edge(nodes[e.From], nodes[e.To])
		switch e.Polarity {
		case deps.Negative:
			edge.Attr("style", "dashed").
				Attr("color", "red").
				Attr("label", "not")
		case deps.Aggregated:
			edge.Attr("style", "dashed").
				Attr("color", "blue").
				Attr("label", "agg")
		}
	}
}
