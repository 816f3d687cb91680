package engine

import (
	"fmt"

	"github.com/l7mp/fixpoint/pkg/fact"
	"github.com/l7mp/fixpoint/pkg/rule"
)

// binding is one partial assignment of variables to column values.
type binding map[rule.Var]fact.Value

func (b binding) clone() binding {
	nb := make(binding, len(b)+1)
	for k, v := range b {
		nb[k] = v
	}
	return nb
}

// evalClause executes one body clause over the current binding set. Match
// clauses fan out one binding per matching tuple; negation, aggregation and
// filters narrow or annotate the set; generators expand collection-valued
// bindings. When useDelta is set, a match clause reads the delta of its
// relation instead of the accumulated state.
func (e *Engine) evalClause(c rule.Clause, in []binding, useDelta bool) ([]binding, error) {
	switch c := c.(type) {
	case rule.Match:
		r := e.db.Relation(c.Relation)
		tuples := r.Tuples()
		if useDelta {
			tuples = r.Delta()
		}
		return e.evalMatch(c.Terms, tuples, in)

	case rule.LatticeMatch:
		l := e.db.Lattice(c.Relation)
		tuples := l.Tuples()
		if useDelta {
			tuples = l.Delta()
		}
		terms := append(append([]rule.Term{}, c.Keys...), c.Value)
		return e.evalMatch(terms, tuples, in)

	case rule.Negation:
		return e.evalNegation(c, in)

	case rule.Aggregation:
		return e.evalAggregation(c, in)

	case rule.Generator:
		return e.evalGenerator(c, in)

	case rule.Filter:
		return e.evalFilter(c, in)

	default:
		return nil, fmt.Errorf("unknown clause kind %T", c)
	}
}

func (e *Engine) evalMatch(terms []rule.Term, tuples []fact.Tuple, in []binding) ([]binding, error) {
	var out []binding
	for _, b := range in {
		for _, t := range tuples {
			locals, ok, err := e.matchTuple(b, terms, t)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if len(locals) == 0 {
				// Pure equality check, nothing bound: the binding passes
				// through unchanged.
				out = append(out, b)
				continue
			}
			nb := b.clone()
			for v, val := range locals {
				nb[v] = val
			}
			out = append(out, nb)
		}
	}
	return out, nil
}

// matchTuple matches a pattern against one tuple under the given binding.
// It returns the variables the tuple would newly bind. Bound variables and
// non-variable terms filter by canonical equality; repeated unbound
// variables must agree across columns. Columns are matched left to right,
// so a function term may reference a variable bound by an earlier column of
// the same pattern.
func (e *Engine) matchTuple(b binding, terms []rule.Term, t fact.Tuple) (map[rule.Var]fact.Value, bool, error) {
	var locals map[rule.Var]fact.Value

	for i, term := range terms {
		switch v := term.(type) {
		case rule.Var:
			if v.IsWildcard() {
				continue
			}
			if val, bound := b[v]; bound {
				same, err := fact.Same(val, t[i])
				if err != nil {
					return nil, false, err
				}
				if !same {
					return nil, false, nil
				}
				continue
			}
			if lv, bound := locals[v]; bound {
				same, err := fact.Same(lv, t[i])
				if err != nil {
					return nil, false, err
				}
				if !same {
					return nil, false, nil
				}
				continue
			}
			if locals == nil {
				locals = map[rule.Var]fact.Value{}
			}
			locals[v] = t[i]

		default:
			eb := b
			if len(locals) > 0 {
				eb = b.clone()
				for lv, lval := range locals {
					eb[lv] = lval
				}
			}
			val, err := e.evalTerm(term, eb)
			if err != nil {
				return nil, false, err
			}
			same, err := fact.Same(val, t[i])
			if err != nil {
				return nil, false, err
			}
			if !same {
				return nil, false, nil
			}
		}
	}

	return locals, true, nil
}

// evalNegation keeps a binding iff no tuple of the referenced relation
// matches the pattern. Stratification guarantees the relation is fully
// computed and frozen relative to this rule.
func (e *Engine) evalNegation(c rule.Negation, in []binding) ([]binding, error) {
	tuples := e.db.Tuples(c.Relation)

	var out []binding
	for _, b := range in {
		exists := false
		for _, t := range tuples {
			_, ok, err := e.matchTuple(b, c.Terms, t)
			if err != nil {
				return nil, err
			}
			if ok {
				exists = true
				break
			}
		}
		if !exists {
			out = append(out, b)
		}
	}
	return out, nil
}

// evalAggregation groups the sub-query's matching tuples per incoming
// binding (the group-by key is exactly the set of variables bound before
// the clause runs), projects the aggregated columns, and binds the result
// variable to each aggregator output in turn. The referenced relation is
// frozen by stratification.
func (e *Engine) evalAggregation(c rule.Aggregation, in []binding) ([]binding, error) {
	tuples := e.db.Tuples(c.Relation)

	var out []binding
	for _, b := range in {
		var rows []fact.Tuple
		for _, t := range tuples {
			locals, ok, err := e.matchTuple(b, c.Terms, t)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			row := make(fact.Tuple, len(c.Over))
			for i, v := range c.Over {
				if val, bound := locals[v]; bound {
					row[i] = val
				} else {
					row[i] = b[v]
				}
			}
			rows = append(rows, row)
		}

		outs, err := c.Aggregator(rows)
		if err != nil {
			return nil, fmt.Errorf("aggregator %s failed: %w", c.Name, err)
		}
		for _, v := range outs {
			nb := b.clone()
			nb[c.Into] = v
			out = append(out, nb)
		}
	}
	return out, nil
}

// evalGenerator fans one binding out into one binding per element of the
// source collection. The source collection is never mutated.
func (e *Engine) evalGenerator(c rule.Generator, in []binding) ([]binding, error) {
	var out []binding
	for _, b := range in {
		src, err := e.evalTerm(c.Source, b)
		if err != nil {
			return nil, err
		}

		var elements []fact.Value
		if c.Expand != nil {
			elements, err = c.Expand(src)
			if err != nil {
				return nil, fmt.Errorf("generator for %s failed: %w", c.Into, err)
			}
		} else {
			elements, err = expandCollection(src)
			if err != nil {
				return nil, err
			}
		}

		for _, el := range elements {
			nb := b.clone()
			nb[c.Into] = el
			out = append(out, nb)
		}
	}
	return out, nil
}

func expandCollection(v fact.Value) ([]fact.Value, error) {
	switch v := v.(type) {
	case []fact.Value:
		return v, nil
	case fact.Tuple:
		return []fact.Value(v), nil
	default:
		return nil, fmt.Errorf("generator source %v (%T) is not a collection", v, v)
	}
}

func (e *Engine) evalFilter(c rule.Filter, in []binding) ([]binding, error) {
	var out []binding
	for _, b := range in {
		args := make([]fact.Value, len(c.Args))
		for i, t := range c.Args {
			v, err := e.evalTerm(t, b)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}

		ok, err := c.Pred(args...)
		if err != nil {
			return nil, fmt.Errorf("filter %s failed: %w", c.Name, err)
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// evalTerm evaluates a column expression against a binding.
func (e *Engine) evalTerm(t rule.Term, b binding) (fact.Value, error) {
	switch v := t.(type) {
	case rule.Var:
		if v.IsWildcard() {
			return nil, fmt.Errorf("the wildcard cannot be evaluated")
		}
		val, bound := b[v]
		if !bound {
			return nil, fmt.Errorf("unbound variable %q", v)
		}
		return val, nil

	case rule.Const:
		return v.Value, nil

	case rule.Apply:
		args := make([]fact.Value, len(v.Args))
		for i, at := range v.Args {
			a, err := e.evalTerm(at, b)
			if err != nil {
				return nil, err
			}
			args[i] = a
		}
		out, err := v.Fn(args...)
		if err != nil {
			return nil, fmt.Errorf("function %s failed: %w", v.Name, err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown term kind %T", t)
	}
}
