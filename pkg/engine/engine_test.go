package engine

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/fixpoint/pkg/deps"
	"github.com/l7mp/fixpoint/pkg/fact"
	"github.com/l7mp/fixpoint/pkg/rule"
)

var _ = Describe("Transitive closure", func() {
	var e *Engine

	BeforeEach(func() {
		var err error
		e, err = New(transitiveClosure(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should compute every reachable pair of a chain with a back edge", func() {
		// a -> b -> c -> d -> a: every ordered pair is reachable.
		for _, t := range []fact.Tuple{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "a"}} {
			Expect(e.Insert("edge", t)).NotTo(HaveOccurred())
		}

		Expect(e.Run(context.Background())).To(Succeed())

		paths := e.Tuples("path")
		Expect(paths).To(HaveLen(16))
		for _, from := range []string{"a", "b", "c", "d"} {
			for _, to := range []string{"a", "b", "c", "d"} {
				Expect(paths).To(ContainElement(fact.Tuple{from, to}))
			}
		}
	})

	It("should terminate on an empty edge relation", func() {
		Expect(e.Run(context.Background())).To(Succeed())
		Expect(e.Tuples("path")).To(BeEmpty())
	})

	It("should derive no new facts on a second run", func() {
		for _, t := range []fact.Tuple{{"a", "b"}, {"b", "c"}} {
			Expect(e.Insert("edge", t)).NotTo(HaveOccurred())
		}

		Expect(e.Run(context.Background())).To(Succeed())
		first := sortedTuples(e, "path")
		Expect(first).To(HaveLen(3))

		Expect(e.Run(context.Background())).To(Succeed())
		Expect(sortedTuples(e, "path")).To(Equal(first))

		// The re-run still iterates, but commits nothing.
		report := e.Report()
		totalFacts := 0
		for _, s := range report.Strata {
			totalFacts += s.Facts
		}
		Expect(totalFacts).To(Equal(0))
	})

	It("should reject fact injection into unknown relations", func() {
		Expect(e.Insert("missing", fact.Tuple{"a"})).To(HaveOccurred())
	})
})

var _ = Describe("Shortest path", func() {
	var e *Engine

	BeforeEach(func() {
		var err error
		e, err = New(shortestPath(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should keep the minimal distance per pair", func() {
		for _, t := range []fact.Tuple{
			{"a", "b", 1}, {"b", "c", 1}, {"a", "c", 5},
		} {
			Expect(e.Insert("edge", t)).NotTo(HaveOccurred())
		}

		Expect(e.Run(context.Background())).To(Succeed())

		v, ok, err := e.LatticeValue("dist", "a", "c")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(v).To(BeNumerically("==", 2))

		// One value per key, not one per path.
		Expect(e.Database().Len("dist")).To(Equal(3))
	})

	It("should reach a fixpoint on cyclic graphs", func() {
		for _, t := range []fact.Tuple{
			{"a", "b", 1}, {"b", "c", 1}, {"c", "a", 1},
		} {
			Expect(e.Insert("edge", t)).NotTo(HaveOccurred())
		}

		Expect(e.Run(context.Background())).To(Succeed())

		// Going around the cycle only ever produces larger sums, which the
		// min join discards, so the relation stabilizes.
		v, ok, err := e.LatticeValue("dist", "a", "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(v).To(BeNumerically("==", 3))

		v, ok, err = e.LatticeValue("dist", "a", "c")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(v).To(BeNumerically("==", 2))
	})

	It("should merge injected lattice values through the join", func() {
		Expect(e.Merge("dist", fact.Tuple{"a", "b", 7})).NotTo(HaveOccurred())
		Expect(e.Insert("edge", fact.Tuple{"a", "b", 3})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())

		v, ok, err := e.LatticeValue("dist", "a", "b")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(v).To(BeNumerically("==", 3))
	})
})

var _ = Describe("Negation", func() {
	It("should compute the complement in a later stratum", func() {
		e, err := New(unreachable(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())

		for _, n := range []string{"a", "b", "c", "d"} {
			Expect(e.Insert("node", fact.Tuple{n})).NotTo(HaveOccurred())
		}
		Expect(e.Insert("start", fact.Tuple{"a"})).NotTo(HaveOccurred())
		Expect(e.Insert("edge", fact.Tuple{"a", "b"})).NotTo(HaveOccurred())
		Expect(e.Insert("edge", fact.Tuple{"c", "d"})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())

		Expect(sortedTuples(e, "reach")).To(Equal([]fact.Tuple{{"a"}, {"b"}}))
		Expect(sortedTuples(e, "unreach")).To(Equal([]fact.Tuple{{"c"}, {"d"}}))

		// The negated relation must be frozen before its consumers run.
		s := e.Stratification()
		Expect(s.Index["reach"]).To(BeNumerically("<", s.Index["unreach"]))
	})

	It("should reject recursion through negation before evaluating", func() {
		_, err := New(cyclicNegation(), WithLogger(logger))
		Expect(err).To(HaveOccurred())

		serr := &deps.StratificationError{}
		Expect(errors.As(err, &serr)).To(BeTrue())
		Expect(serr.Polarity).To(Equal(deps.Negative))
	})
})

var _ = Describe("Aggregation", func() {
	var e *Engine

	BeforeEach(func() {
		var err error
		e, err = New(sensorMeans(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should group readings per sensor", func() {
		Expect(e.Insert("sensor", fact.Tuple{"s1"})).NotTo(HaveOccurred())
		Expect(e.Insert("sensor", fact.Tuple{"s2"})).NotTo(HaveOccurred())
		for _, t := range []fact.Tuple{
			{"s1", 1.0}, {"s1", 2.0}, {"s1", 6.0},
			{"s2", 10.0},
		} {
			Expect(e.Insert("reading", t)).NotTo(HaveOccurred())
		}

		Expect(e.Run(context.Background())).To(Succeed())

		avgs := sortedTuples(e, "avg")
		Expect(avgs).To(HaveLen(2))
		Expect(avgs[0][0]).To(Equal("s1"))
		Expect(avgs[0][1]).To(BeNumerically("~", 3.0, 1e-9))
		Expect(avgs[1][0]).To(Equal("s2"))
		Expect(avgs[1][1]).To(BeNumerically("~", 10.0, 1e-9))
	})

	It("should produce no mean for a sensor without readings", func() {
		Expect(e.Insert("sensor", fact.Tuple{"mute"})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())
		Expect(e.Tuples("avg")).To(BeEmpty())
	})

	It("should count empty groups as zero", func() {
		p := &rule.Program{
			Decls: []rule.Decl{
				{Name: "sensor", Arity: 1},
				{Name: "reading", Arity: 2},
				{Name: "cnt", Arity: 2},
			},
			Rules: []rule.Rule{{
				Name:  "count",
				Heads: []rule.Head{{Relation: "cnt", Terms: []rule.Term{rule.V("S"), rule.V("N")}}},
				Body: []rule.Clause{
					rule.Match{Relation: "sensor", Terms: []rule.Term{rule.V("S")}},
					rule.Aggregation{
						Into: rule.V("N"), Name: "count", Aggregator: rule.Count,
						Relation: "reading",
						Terms:    []rule.Term{rule.V("S"), rule.V("V")},
						Over:     []rule.Var{rule.V("V")},
					},
				},
			}},
		}

		e, err := New(p, WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Insert("sensor", fact.Tuple{"mute"})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())
		Expect(e.Tuples("cnt")).To(Equal([]fact.Tuple{{"mute", int64(0)}}))
	})
})

var _ = Describe("Generators and filters", func() {
	It("should fan collection values out and filter bindings", func() {
		p := &rule.Program{
			Decls: []rule.Decl{
				{Name: "bag", Arity: 2},
				{Name: "big", Arity: 2},
			},
			Rules: []rule.Rule{{
				Name:  "pick",
				Heads: []rule.Head{{Relation: "big", Terms: []rule.Term{rule.V("B"), rule.V("E")}}},
				Body: []rule.Clause{
					rule.Match{Relation: "bag", Terms: []rule.Term{rule.V("B"), rule.V("L")}},
					rule.Generator{Source: rule.V("L"), Into: rule.V("E")},
					rule.Filter{Name: "gt", Pred: greaterThan,
						Args: []rule.Term{rule.V("E"), rule.C(10)}},
				},
			}},
		}

		e, err := New(p, WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Insert("bag", fact.Tuple{"b1", []fact.Value{3, 11, 25}})).NotTo(HaveOccurred())
		Expect(e.Insert("bag", fact.Tuple{"b2", []fact.Value{1, 2}})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())
		Expect(sortedTuples(e, "big")).To(Equal([]fact.Tuple{{"b1", 11}, {"b1", 25}}))
	})
})

var _ = Describe("Pattern expressions", func() {
	It("should resolve function terms against earlier columns of the same pattern", func() {
		p := &rule.Program{
			Decls: []rule.Decl{
				{Name: "succ", Arity: 2},
				{Name: "hit", Arity: 1},
			},
			Rules: []rule.Rule{{
				Name:  "consecutive",
				Heads: []rule.Head{{Relation: "hit", Terms: []rule.Term{rule.V("X")}}},
				Body: []rule.Clause{
					rule.Match{Relation: "succ", Terms: []rule.Term{
						rule.V("X"),
						rule.F("add", addFn, rule.V("X"), rule.C(1)),
					}},
				},
			}},
		}

		e, err := New(p, WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Insert("succ", fact.Tuple{1, 2})).NotTo(HaveOccurred())
		Expect(e.Insert("succ", fact.Tuple{2, 5})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())
		Expect(sortedTuples(e, "hit")).To(Equal([]fact.Tuple{{1}}))
	})
})

var _ = Describe("Multi-head rules", func() {
	It("should populate every head from one body evaluation", func() {
		p := &rule.Program{
			Decls: []rule.Decl{
				{Name: "src", Arity: 1},
				{Name: "left", Arity: 1},
				{Name: "right", Arity: 1},
			},
			Rules: []rule.Rule{{
				Name: "split",
				Heads: []rule.Head{
					{Relation: "left", Terms: []rule.Term{rule.V("X")}},
					{Relation: "right", Terms: []rule.Term{rule.V("X")}},
				},
				Body: []rule.Clause{
					rule.Match{Relation: "src", Terms: []rule.Term{rule.V("X")}},
				},
			}},
		}

		e, err := New(p, WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Insert("src", fact.Tuple{"a"})).NotTo(HaveOccurred())
		Expect(e.Insert("src", fact.Tuple{"b"})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())
		Expect(sortedTuples(e, "left")).To(Equal([]fact.Tuple{{"a"}, {"b"}}))
		Expect(sortedTuples(e, "right")).To(Equal([]fact.Tuple{{"a"}, {"b"}}))
	})
})

var _ = Describe("Program validation", func() {
	newInvalid := func(rules ...rule.Rule) error {
		p := &rule.Program{
			Decls: []rule.Decl{
				{Name: "edge", Arity: 2},
				{Name: "out", Arity: 1},
			},
			Rules: rules,
		}
		_, err := New(p, WithLogger(logger))
		return err
	}

	It("should reject rules without a head", func() {
		err := newInvalid(rule.Rule{Name: "headless", Body: []rule.Clause{
			rule.Match{Relation: "edge", Terms: []rule.Term{rule.V("X"), rule.V("Y")}},
		}})
		Expect(err).To(MatchError(ContainSubstring("no head")))
	})

	It("should reject undeclared relations", func() {
		err := newInvalid(rule.Rule{
			Name:  "ghost",
			Heads: []rule.Head{{Relation: "out", Terms: []rule.Term{rule.V("X")}}},
			Body: []rule.Clause{
				rule.Match{Relation: "missing", Terms: []rule.Term{rule.V("X")}},
			},
		})
		Expect(err).To(MatchError(ContainSubstring("undeclared relation")))
	})

	It("should reject arity mismatches", func() {
		err := newInvalid(rule.Rule{
			Name:  "narrow",
			Heads: []rule.Head{{Relation: "out", Terms: []rule.Term{rule.V("X")}}},
			Body: []rule.Clause{
				rule.Match{Relation: "edge", Terms: []rule.Term{rule.V("X")}},
			},
		})
		Expect(err).To(MatchError(ContainSubstring("columns")))
	})

	It("should reject unbound head variables", func() {
		err := newInvalid(rule.Rule{
			Name:  "loose",
			Heads: []rule.Head{{Relation: "out", Terms: []rule.Term{rule.V("Z")}}},
			Body: []rule.Clause{
				rule.Match{Relation: "edge", Terms: []rule.Term{rule.V("X"), rule.V("Y")}},
			},
		})
		Expect(err).To(MatchError(ContainSubstring("unbound variable")))
	})

	It("should reject unbound variables under negation", func() {
		err := newInvalid(rule.Rule{
			Name:  "unsafe",
			Heads: []rule.Head{{Relation: "out", Terms: []rule.Term{rule.V("X")}}},
			Body: []rule.Clause{
				rule.Match{Relation: "edge", Terms: []rule.Term{rule.V("X"), rule.Wildcard}},
				rule.Negation{Relation: "edge", Terms: []rule.Term{rule.V("X"), rule.V("Y")}},
			},
		})
		Expect(err).To(MatchError(ContainSubstring("negation")))
	})

	It("should accept wildcards under negation", func() {
		err := newInvalid(rule.Rule{
			Name:  "safe",
			Heads: []rule.Head{{Relation: "out", Terms: []rule.Term{rule.V("X")}}},
			Body: []rule.Clause{
				rule.Match{Relation: "edge", Terms: []rule.Term{rule.V("X"), rule.Wildcard}},
				rule.Negation{Relation: "edge", Terms: []rule.Term{rule.V("X"), rule.Wildcard}},
			},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject matching a lattice with a relation match", func() {
		p := &rule.Program{
			Decls: []rule.Decl{
				{Name: "dist", Arity: 2, Lattice: true, Join: minJoin},
				{Name: "out", Arity: 1},
			},
			Rules: []rule.Rule{{
				Name:  "plain",
				Heads: []rule.Head{{Relation: "out", Terms: []rule.Term{rule.V("X")}}},
				Body: []rule.Clause{
					rule.Match{Relation: "dist", Terms: []rule.Term{rule.V("X"), rule.V("V")}},
				},
			}},
		}
		_, err := New(p, WithLogger(logger))
		Expect(err).To(MatchError(ContainSubstring("lattice match")))
	})

	It("should reject lattice declarations without a join", func() {
		p := &rule.Program{
			Decls: []rule.Decl{{Name: "dist", Arity: 2, Lattice: true}},
		}
		_, err := New(p, WithLogger(logger))
		Expect(err).To(HaveOccurred())
	})
})
