// Package rule defines the in-memory rule representation consumed by the
// evaluation engine: relation and lattice declarations, rules with head and
// body clauses, column terms, and the aggregator calling convention. The
// package is a passive intermediate representation; evaluation semantics
// live in the engine.
package rule

import (
	"fmt"
	"strings"

	"github.com/l7mp/fixpoint/pkg/fact"
)

// Decl declares a relation or a lattice relation.
type Decl struct {
	// Name identifies the relation inside the program.
	Name string
	// Arity is the number of columns. For lattices the last column holds
	// the lattice value.
	Arity int
	// Lattice marks the relation as a lattice.
	Lattice bool
	// Join merges lattice values. Required iff Lattice is set. The join
	// must be commutative, associative and idempotent; the engine does not
	// verify the contract.
	Join fact.JoinFunc
}

// Program is a complete rule program: the declarations plus the rules
// relating them.
type Program struct {
	Decls []Decl
	Rules []Rule
}

// RuleName returns the name of the i-th rule, falling back to an
// index-based default for unnamed rules.
func (p *Program) RuleName(i int) string {
	if p.Rules[i].Name != "" {
		return p.Rules[i].Name
	}
	return fmt.Sprintf("rule-%d", i)
}

// Rule relates body clauses to one or more head clauses. The body is an
// ordered pipeline; clause order is evaluation order.
type Rule struct {
	// Name is used in logs and timing reports. Empty names are replaced by
	// an index-based default when the program is loaded.
	Name  string
	Heads []Head
	Body  []Clause
}

// Head names a target relation and one term per column. For a lattice head
// the last term produces the candidate lattice value.
type Head struct {
	Relation string
	Terms    []Term
}

// Term is a column expression: a variable, a constant, or a function
// application over other terms.
type Term interface {
	fmt.Stringer
	term()
}

// Var is a named variable. The blank variable "_" matches any column value
// without binding.
type Var string

// Wildcard is the blank variable: it matches anything and binds nothing.
const Wildcard = Var("_")

func (v Var) term()          {}
func (v Var) String() string { return string(v) }

// IsWildcard reports whether the variable is the blank variable.
func (v Var) IsWildcard() bool { return v == Wildcard }

// Const is a literal column value.
type Const struct {
	Value fact.Value
}

func (c Const) term() {}

func (c Const) String() string { return fmt.Sprintf("%v", c.Value) }

// Apply applies a pure host function to argument terms. All argument
// variables must already be bound when the term is evaluated.
type Apply struct {
	// Name is used in diagnostics.
	Name string
	Fn   func(args ...fact.Value) (fact.Value, error)
	Args []Term
}

func (a Apply) term() {}

func (a Apply) String() string {
	args := make([]string, len(a.Args))
	for i, t := range a.Args {
		args[i] = t.String()
	}
	return fmt.Sprintf("%s(%s)", a.Name, strings.Join(args, ", "))
}

// V is shorthand for a variable term.
func V(name string) Var { return Var(name) }

// C is shorthand for a constant term.
func C(v fact.Value) Const { return Const{Value: v} }

// F is shorthand for a function application term.
func F(name string, fn func(args ...fact.Value) (fact.Value, error), args ...Term) Apply {
	return Apply{Name: name, Fn: fn, Args: args}
}

// Vars collects the variables (excluding wildcards) appearing in a term, in
// left-to-right order.
func Vars(t Term) []Var {
	var out []Var
	collectVars(t, &out)
	return out
}

func collectVars(t Term, out *[]Var) {
	switch v := t.(type) {
	case Var:
		if !v.IsWildcard() {
			*out = append(*out, v)
		}
	case Apply:
		for _, arg := range v.Args {
			collectVars(arg, out)
		}
	}
}

// String returns a readable head clause representation.
func (h Head) String() string {
	terms := make([]string, len(h.Terms))
	for i, t := range h.Terms {
		terms[i] = t.String()
	}
	return fmt.Sprintf("%s(%s)", h.Relation, strings.Join(terms, ", "))
}

// String returns a readable rule representation.
func (r Rule) String() string {
	heads := make([]string, len(r.Heads))
	for i, h := range r.Heads {
		heads[i] = h.String()
	}
	body := make([]string, len(r.Body))
	for i, c := range r.Body {
		body[i] = c.String()
	}
	return fmt.Sprintf("%s <-- %s", strings.Join(heads, ", "), strings.Join(body, ", "))
}
