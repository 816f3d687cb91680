// Package manifest loads declarative rule programs from YAML. A manifest
// declares relations, lattices, initial facts and a restricted rule form
// covering matches, negation, built-in aggregations, comparison filters and
// arithmetic head expressions. The manifest layer is a front-end
// collaborator of the engine: programs needing custom host functions,
// generators or custom lattice joins are assembled directly against the
// rule package instead.
package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/l7mp/fixpoint/pkg/engine"
	"github.com/l7mp/fixpoint/pkg/fact"
	"github.com/l7mp/fixpoint/pkg/rule"
	"github.com/l7mp/fixpoint/pkg/util"
)

// Manifest is the YAML form of a rule program.
type Manifest struct {
	Name      string     `yaml:"name,omitempty"`
	Relations []Relation `yaml:"relations,omitempty"`
	Lattices  []Lattice  `yaml:"lattices,omitempty"`
	// Facts maps base relation names to initial fact rows.
	Facts map[string][][]any `yaml:"facts,omitempty"`
	Rules []Rule             `yaml:"rules,omitempty"`
}

// Relation declares a plain relation.
type Relation struct {
	Name  string `yaml:"name"`
	Arity int    `yaml:"arity"`
}

// Lattice declares a lattice relation with a named built-in join
// ("min" or "max" over the last column).
type Lattice struct {
	Name  string `yaml:"name"`
	Arity int    `yaml:"arity"`
	Join  string `yaml:"join"`
}

// Rule is the YAML form of one rule.
type Rule struct {
	Name string `yaml:"name,omitempty"`
	// Head is the single head atom; Heads lists several.
	Head  string   `yaml:"head,omitempty"`
	Heads []string `yaml:"heads,omitempty"`
	Body  []Clause `yaml:"body"`
}

// Clause is the YAML form of one body clause; exactly one field may be
// set.
type Clause struct {
	Match  string       `yaml:"match,omitempty"`
	Not    string       `yaml:"not,omitempty"`
	Agg    *Aggregation `yaml:"agg,omitempty"`
	Filter *Filter      `yaml:"filter,omitempty"`
}

// Aggregation is the YAML form of an aggregation clause.
type Aggregation struct {
	Into string `yaml:"into"`
	Fn   string `yaml:"fn"`
	// Over lists the aggregated pattern variables.
	Over  []string `yaml:"over,omitempty"`
	Match string   `yaml:"match"`
	// P parameterizes the percentile aggregator.
	P float64 `yaml:"p,omitempty"`
}

// Filter is the YAML form of a comparison filter clause.
type Filter struct {
	Op   string   `yaml:"op"`
	Args []string `yaml:"args"`
}

// Load parses a YAML manifest.
func Load(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

// Program converts the manifest into the engine's rule representation.
func (m *Manifest) Program() (*rule.Program, error) {
	prog := &rule.Program{}

	lattices := map[string]bool{}
	for _, r := range m.Relations {
		prog.Decls = append(prog.Decls, rule.Decl{Name: r.Name, Arity: r.Arity})
	}
	for _, l := range m.Lattices {
		join, ok := builtinJoins[l.Join]
		if !ok {
			return nil, fmt.Errorf("lattice %q: unknown join %q", l.Name, l.Join)
		}
		prog.Decls = append(prog.Decls, rule.Decl{Name: l.Name, Arity: l.Arity, Lattice: true, Join: join})
		lattices[l.Name] = true
	}

	for i, r := range m.Rules {
		heads := r.Heads
		if r.Head != "" {
			heads = append([]string{r.Head}, heads...)
		}
		if len(heads) == 0 {
			return nil, fmt.Errorf("rule %d has no head", i)
		}

		out := rule.Rule{Name: r.Name}
		for _, h := range heads {
			name, terms, err := parseAtom(h)
			if err != nil {
				return nil, err
			}
			out.Heads = append(out.Heads, rule.Head{Relation: name, Terms: terms})
		}

		for ci, c := range r.Body {
			clause, err := convertClause(c, lattices)
			if err != nil {
				return nil, fmt.Errorf("rule %d clause %d: %w", i, ci, err)
			}
			out.Body = append(out.Body, clause)
		}

		prog.Rules = append(prog.Rules, out)
	}

	return prog, nil
}

func convertClause(c Clause, lattices map[string]bool) (rule.Clause, error) {
	set := 0
	for _, has := range []bool{c.Match != "", c.Not != "", c.Agg != nil, c.Filter != nil} {
		if has {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of match, not, agg or filter must be set")
	}

	switch {
	case c.Match != "":
		name, terms, err := parseAtom(c.Match)
		if err != nil {
			return nil, err
		}
		if lattices[name] {
			if len(terms) == 0 {
				return nil, fmt.Errorf("lattice match %q needs at least the value column", name)
			}
			return rule.LatticeMatch{Relation: name, Keys: terms[:len(terms)-1], Value: terms[len(terms)-1]}, nil
		}
		return rule.Match{Relation: name, Terms: terms}, nil

	case c.Not != "":
		name, terms, err := parseAtom(c.Not)
		if err != nil {
			return nil, err
		}
		return rule.Negation{Relation: name, Terms: terms}, nil

	case c.Agg != nil:
		agg, err := builtinAggregator(c.Agg.Fn, c.Agg.P)
		if err != nil {
			return nil, err
		}
		name, terms, err := parseAtom(c.Agg.Match)
		if err != nil {
			return nil, err
		}
		over := util.Map(rule.V, c.Agg.Over)
		return rule.Aggregation{
			Into:       rule.V(c.Agg.Into),
			Name:       c.Agg.Fn,
			Aggregator: agg,
			Relation:   name,
			Terms:      terms,
			Over:       over,
		}, nil

	default:
		pred, err := builtinPredicate(c.Filter.Op)
		if err != nil {
			return nil, err
		}
		args := make([]rule.Term, len(c.Filter.Args))
		for i, a := range c.Filter.Args {
			t, err := parseTerm(a)
			if err != nil {
				return nil, err
			}
			args[i] = t
		}
		return rule.Filter{Name: c.Filter.Op, Args: args, Pred: pred}, nil
	}
}

// NewEngine builds an engine from the manifest and injects the initial
// facts.
func (m *Manifest) NewEngine(opts ...engine.Option) (*engine.Engine, error) {
	prog, err := m.Program()
	if err != nil {
		return nil, err
	}

	e, err := engine.New(prog, opts...)
	if err != nil {
		return nil, err
	}

	lattices := map[string]bool{}
	for _, l := range m.Lattices {
		lattices[l.Name] = true
	}

	for name, rows := range m.Facts {
		for _, row := range rows {
			t := normalizeTuple(row)
			if lattices[name] {
				err = e.Merge(name, t)
			} else {
				err = e.Insert(name, t)
			}
			if err != nil {
				return nil, err
			}
		}
	}

	return e, nil
}

// normalizeTuple lifts YAML integers onto int64 so manifest facts share
// identity with values computed by the built-in functions.
func normalizeTuple(row []any) fact.Tuple {
	t := make(fact.Tuple, len(row))
	for i, v := range row {
		if n, ok := v.(int); ok {
			t[i] = int64(n)
		} else {
			t[i] = v
		}
	}
	return t
}
