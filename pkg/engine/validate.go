package engine

import (
	"fmt"

	"github.com/l7mp/fixpoint/pkg/rule"
)

// validate performs the structural checks on the rule list: referenced
// relations must be declared with matching arity, and every rule must be
// range-restricted (variables consumed by negations, filters, generators,
// function applications and head expressions must be bound by an earlier
// clause).
func (e *Engine) validate() error {
	for i, r := range e.prog.Rules {
		name := e.ruleNames[i]

		if len(r.Heads) == 0 {
			return NewProgramError(name, "rule has no head clause")
		}

		bound := map[rule.Var]bool{}

		for _, c := range r.Body {
			switch c := c.(type) {
			case rule.Match:
				rel := e.db.Relation(c.Relation)
				if rel == nil {
					if e.db.IsLattice(c.Relation) {
						return NewProgramError(name, fmt.Sprintf("lattice %q requires a lattice match, not a relation match", c.Relation))
					}
					return NewProgramError(name, fmt.Sprintf("undeclared relation %q", c.Relation))
				}
				if len(c.Terms) != rel.Arity() {
					return NewProgramError(name, fmt.Sprintf("relation %q expects %d columns, pattern has %d",
						c.Relation, rel.Arity(), len(c.Terms)))
				}
				if err := bindPattern(name, c.Terms, bound); err != nil {
					return err
				}

			case rule.LatticeMatch:
				lat := e.db.Lattice(c.Relation)
				if lat == nil {
					return NewProgramError(name, fmt.Sprintf("undeclared lattice %q", c.Relation))
				}
				if len(c.Keys) != lat.Arity()-1 {
					return NewProgramError(name, fmt.Sprintf("lattice %q expects %d key columns, pattern has %d",
						c.Relation, lat.Arity()-1, len(c.Keys)))
				}
				terms := append(append([]rule.Term{}, c.Keys...), c.Value)
				if err := bindPattern(name, terms, bound); err != nil {
					return err
				}

			case rule.Negation:
				arity, ok := e.relationArity(c.Relation)
				if !ok {
					return NewProgramError(name, fmt.Sprintf("undeclared relation %q", c.Relation))
				}
				if len(c.Terms) != arity {
					return NewProgramError(name, fmt.Sprintf("relation %q expects %d columns, negation pattern has %d",
						c.Relation, arity, len(c.Terms)))
				}
				for _, t := range c.Terms {
					if err := requireBound(name, t, bound, "negation"); err != nil {
						return err
					}
				}

			case rule.Aggregation:
				arity, ok := e.relationArity(c.Relation)
				if !ok {
					return NewProgramError(name, fmt.Sprintf("undeclared relation %q", c.Relation))
				}
				if len(c.Terms) != arity {
					return NewProgramError(name, fmt.Sprintf("relation %q expects %d columns, aggregation pattern has %d",
						c.Relation, arity, len(c.Terms)))
				}
				if c.Aggregator == nil {
					return NewProgramError(name, "aggregation without an aggregator")
				}
				if c.Into.IsWildcard() {
					return NewProgramError(name, "aggregation result cannot bind the wildcard")
				}
				if bound[c.Into] {
					return NewProgramError(name, fmt.Sprintf("aggregation result variable %q is already bound", c.Into))
				}
				pattern := map[rule.Var]bool{}
				for _, t := range c.Terms {
					switch v := t.(type) {
					case rule.Var:
						if !v.IsWildcard() {
							pattern[v] = true
						}
					default:
						// Constants and function applications filter the
						// sub-query; their variables must be bound.
						for _, pv := range rule.Vars(t) {
							if !bound[pv] {
								return NewProgramError(name, fmt.Sprintf("unbound variable %q in aggregation pattern", pv))
							}
						}
					}
				}
				for _, v := range c.Over {
					if !pattern[v] {
						return NewProgramError(name, fmt.Sprintf("aggregated variable %q does not appear in the pattern", v))
					}
				}
				bound[c.Into] = true

			case rule.Generator:
				for _, v := range rule.Vars(c.Source) {
					if !bound[v] {
						return NewProgramError(name, fmt.Sprintf("unbound variable %q in generator source", v))
					}
				}
				if c.Into.IsWildcard() {
					return NewProgramError(name, "generator cannot bind the wildcard")
				}
				bound[c.Into] = true

			case rule.Filter:
				if c.Pred == nil {
					return NewProgramError(name, "filter without a predicate")
				}
				for _, t := range c.Args {
					if err := requireBound(name, t, bound, "filter"); err != nil {
						return err
					}
				}

			default:
				return NewProgramError(name, fmt.Sprintf("unknown clause kind %T", c))
			}
		}

		for _, h := range r.Heads {
			arity, ok := e.relationArity(h.Relation)
			if !ok {
				return NewProgramError(name, fmt.Sprintf("undeclared head relation %q", h.Relation))
			}
			if len(h.Terms) != arity {
				return NewProgramError(name, fmt.Sprintf("head relation %q expects %d columns, got %d",
					h.Relation, arity, len(h.Terms)))
			}
			for _, t := range h.Terms {
				for _, v := range rule.Vars(t) {
					if !bound[v] {
						return NewProgramError(name, fmt.Sprintf("unbound variable %q in head clause", v))
					}
				}
			}
		}
	}

	return nil
}

func (e *Engine) relationArity(name string) (int, bool) {
	if r := e.db.Relation(name); r != nil {
		return r.Arity(), true
	}
	if l := e.db.Lattice(name); l != nil {
		return l.Arity(), true
	}
	return 0, false
}

// bindPattern registers the variables a match pattern binds, and checks
// that variables inside non-variable terms are already bound.
func bindPattern(ruleName string, terms []rule.Term, bound map[rule.Var]bool) error {
	for _, t := range terms {
		switch v := t.(type) {
		case rule.Var:
			if !v.IsWildcard() {
				bound[v] = true
			}
		default:
			for _, pv := range rule.Vars(t) {
				if !bound[pv] {
					return NewProgramError(ruleName, fmt.Sprintf("unbound variable %q in match pattern expression", pv))
				}
			}
		}
	}
	return nil
}

func requireBound(ruleName string, t rule.Term, bound map[rule.Var]bool, where string) error {
	for _, v := range rule.Vars(t) {
		if !bound[v] {
			return NewProgramError(ruleName, fmt.Sprintf("unbound variable %q in %s", v, where))
		}
	}
	return nil
}
