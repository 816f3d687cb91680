package rule

import (
	"fmt"
	"strings"

	"github.com/l7mp/fixpoint/pkg/fact"
)

// Clause is one step of a rule body. The engine evaluates clauses in order
// over a growing set of partial variable bindings.
type Clause interface {
	fmt.Stringer
	clause()
}

// Match matches tuples of a plain relation. Unbound variables in the
// pattern are bound per matching tuple; bound variables and non-variable
// terms filter by equality.
type Match struct {
	Relation string
	Terms    []Term
}

func (c Match) clause() {}

func (c Match) String() string { return atomString(c.Relation, c.Terms) }

// LatticeMatch matches rows of a lattice relation. The key terms behave as
// in Match; Value binds or checks the current lattice value.
type LatticeMatch struct {
	Relation string
	Keys     []Term
	Value    Term
}

func (c LatticeMatch) clause() {}

func (c LatticeMatch) String() string {
	terms := make([]Term, 0, len(c.Keys)+1)
	terms = append(terms, c.Keys...)
	terms = append(terms, c.Value)
	return atomString(c.Relation, terms)
}

// Negation succeeds iff no tuple of the referenced relation matches the
// pattern. Every variable in the pattern must already be bound; use the
// wildcard for columns that do not matter. Stratification guarantees the
// referenced relation is fully computed when the clause runs.
type Negation struct {
	Relation string
	Terms    []Term
}

func (c Negation) clause() {}

func (c Negation) String() string { return "!" + atomString(c.Relation, c.Terms) }

// Aggregation groups the matching tuples of a sub-query by the variables
// bound before the clause runs, applies the aggregator to the values of the
// Over columns in each group, and binds Into to each output value in turn.
type Aggregation struct {
	// Into receives one binding per aggregator output value.
	Into Var
	// Name identifies the aggregator in diagnostics.
	Name string
	// Aggregator reduces the grouped rows.
	Aggregator Aggregator
	// Relation is the sub-query relation.
	Relation string
	// Terms is the sub-query pattern. Variables not bound outside the
	// clause are existential within the group.
	Terms []Term
	// Over lists the pattern variables whose column values are handed to
	// the aggregator, one row per matching tuple.
	Over []Var
}

func (c Aggregation) clause() {}

func (c Aggregation) String() string {
	over := make([]string, len(c.Over))
	for i, v := range c.Over {
		over[i] = v.String()
	}
	return fmt.Sprintf("agg %s = %s(%s) in %s", c.Into, c.Name,
		strings.Join(over, ", "), atomString(c.Relation, c.Terms))
}

// Generator fans one binding out into many: Source must evaluate to a
// collection ([]fact.Value, []any or a fact.Tuple) and Into is bound once
// per element. Expand, when set, replaces the default collection iteration
// with a custom pure expansion.
type Generator struct {
	Source Term
	Into   Var
	// Expand optionally maps the source value to the generated elements.
	Expand func(v fact.Value) ([]fact.Value, error)
}

func (c Generator) clause() {}

func (c Generator) String() string { return fmt.Sprintf("for %s in %s", c.Into, c.Source) }

// Filter drops any binding for which the predicate does not hold. Argument
// terms are evaluated against the current binding; the predicate must be
// pure.
type Filter struct {
	// Name identifies the predicate in diagnostics.
	Name string
	Args []Term
	Pred func(args ...fact.Value) (bool, error)
}

func (c Filter) clause() {}

func (c Filter) String() string {
	args := make([]string, len(c.Args))
	for i, t := range c.Args {
		args[i] = t.String()
	}
	return fmt.Sprintf("if %s(%s)", c.Name, strings.Join(args, ", "))
}

func atomString(relation string, terms []Term) string {
	strs := make([]string, len(terms))
	for i, t := range terms {
		strs[i] = t.String()
	}
	return fmt.Sprintf("%s(%s)", relation, strings.Join(strs, ", "))
}
