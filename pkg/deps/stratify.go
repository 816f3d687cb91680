package deps

import (
	"fmt"
	"sort"
)

// StratificationError reports a negated or aggregated dependency that closes
// a recursive cycle, making the program unstratifiable.
type StratificationError struct {
	From     string
	To       string
	Polarity Polarity
	// Rule names the rule the offending edge was derived from.
	Rule string
	// SameStratum distinguishes an edge inside one recursive stratum from
	// an edge closing a cycle across strata.
	SameStratum bool
}

// Error implements the error interface.
func (e *StratificationError) Error() string {
	if e.SameStratum {
		return fmt.Sprintf("unstratifiable program: %s dependency from %q to %q (rule %s) lies inside a recursive stratum",
			e.Polarity, e.From, e.To, e.Rule)
	}
	return fmt.Sprintf("unstratifiable program: %s dependency from %q to %q (rule %s) closes a cycle across strata",
		e.Polarity, e.From, e.To, e.Rule)
}

// Stratification is the result of partitioning the dependency graph: the
// relations grouped into strata and a total order across strata consistent
// with every edge. Negated and aggregated edges always point from a
// strictly earlier stratum into a later one.
type Stratification struct {
	// Strata lists the relation groups in evaluation order.
	Strata [][]string
	// Index maps each relation to its stratum position.
	Index map[string]int
}

// Stratify computes the strongly connected components of the positive-only
// subgraph, orders the components topologically against all edges, and
// validates that no negated or aggregated edge stays inside a component or
// closes a cycle between components.
func Stratify(g *Graph) (*Stratification, error) {
	comp, comps := positiveSCC(g)

	// A negated or aggregated edge inside one component is recursion
	// through negation or aggregation.
	for _, e := range g.Edges {
		if e.Polarity == Positive {
			continue
		}
		if comp[e.From] == comp[e.To] {
			return nil, &StratificationError{
				From: e.From, To: e.To, Polarity: e.Polarity, Rule: e.Rule,
				SameStratum: true,
			}
		}
	}

	// Condense all edges onto the components and order them topologically.
	n := len(comps)
	succ := make([]map[int]bool, n)
	indeg := make([]int, n)
	for i := range succ {
		succ[i] = map[int]bool{}
	}
	for _, e := range g.Edges {
		cf, ct := comp[e.From], comp[e.To]
		if cf == ct || succ[cf][ct] {
			continue
		}
		succ[cf][ct] = true
		indeg[ct]++
	}

	order := make([]int, 0, n)
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		sort.Ints(ready)
		c := ready[0]
		ready = ready[1:]
		order = append(order, c)

		next := make([]int, 0, len(succ[c]))
		for t := range succ[c] {
			next = append(next, t)
		}
		sort.Ints(next)
		for _, t := range next {
			indeg[t]--
			if indeg[t] == 0 {
				ready = append(ready, t)
			}
		}
	}

	if len(order) < n {
		// The positive-only condensation is acyclic by construction, so a
		// leftover cycle must be closed by a negated or aggregated edge.
		left := make(map[int]bool, n-len(order))
		for i := 0; i < n; i++ {
			left[i] = true
		}
		for _, c := range order {
			delete(left, c)
		}
		for _, e := range g.Edges {
			if e.Polarity == Positive {
				continue
			}
			if left[comp[e.From]] && left[comp[e.To]] {
				return nil, &StratificationError{
					From: e.From, To: e.To, Polarity: e.Polarity, Rule: e.Rule,
				}
			}
		}
		return nil, fmt.Errorf("unstratifiable program: dependency cycle across %d strata", len(left))
	}

	s := &Stratification{
		Strata: make([][]string, n),
		Index:  make(map[string]int, len(g.Nodes)),
	}
	for pos, c := range order {
		members := make([]string, len(comps[c]))
		copy(members, comps[c])
		s.Strata[pos] = members
		for _, node := range members {
			s.Index[node] = pos
		}
	}

	return s, nil
}

// positiveSCC runs Tarjan's algorithm on the positive-only subgraph. It
// returns the component id per node and the component member lists, both
// deterministic for a given node registration order.
func positiveSCC(g *Graph) (map[string]int, [][]string) {
	adj := g.positiveAdjacency()

	index := make(map[string]int, len(g.Nodes))
	lowlink := make(map[string]int, len(g.Nodes))
	onStack := make(map[string]bool, len(g.Nodes))
	var stack []string
	next := 0

	comp := make(map[string]int, len(g.Nodes))
	var comps [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = next
		lowlink[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := index[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}

		if lowlink[v] == index[v] {
			var members []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				members = append(members, w)
				if w == v {
					break
				}
			}
			sort.Slice(members, func(i, j int) bool {
				return g.byLabel[members[i]] < g.byLabel[members[j]]
			})
			id := len(comps)
			for _, m := range members {
				comp[m] = id
			}
			comps = append(comps, members)
		}
	}

	for _, v := range g.Nodes {
		if _, visited := index[v]; !visited {
			strongconnect(v)
		}
	}

	return comp, comps
}
