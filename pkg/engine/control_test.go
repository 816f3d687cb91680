package engine

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/fixpoint/pkg/fact"
)

var _ = Describe("Cancellation", func() {
	It("should stop at an iteration boundary with a sound partial result", func() {
		e, err := New(transitiveClosure(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		chainEdges(e, 40)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pathStratum := e.Stratification().Index["path"]
		e.afterIteration = func(stratum, iteration int) {
			if stratum == pathStratum && iteration == 3 {
				cancel()
			}
		}

		err = e.Run(ctx)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, ErrAborted)).To(BeTrue())

		partial := e.Tuples("path")
		Expect(partial).NotTo(BeEmpty())

		full, err := New(transitiveClosure(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		chainEdges(full, 40)
		Expect(full.Run(context.Background())).To(Succeed())

		// Every aborted-run fact also belongs to the full fixpoint, and the
		// abort genuinely cut the derivation short.
		Expect(len(partial)).To(BeNumerically("<", full.Database().Len("path")))
		for _, t := range partial {
			Expect(full.Tuples("path")).To(ContainElement(t))
		}

		// Three committed iterations derive paths up to length three.
		Expect(partial).To(HaveLen(40 + 39 + 38))
	})

	It("should fail immediately on an already canceled context", func() {
		e, err := New(transitiveClosure(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Insert("edge", fact.Tuple{"a", "b"})).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err = e.Run(ctx)
		Expect(errors.Is(err, ErrAborted)).To(BeTrue())
		Expect(e.Tuples("path")).To(BeEmpty())
	})

	It("should complete well within a generous timeout", func() {
		e, err := New(transitiveClosure(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		chainEdges(e, 10)

		Expect(e.RunWithTimeout(time.Minute)).To(Succeed())
		Expect(e.Tuples("path")).To(HaveLen(10 * 11 / 2))
	})
})

var _ = Describe("Monotonicity", func() {
	It("should never shrink a relation across iterations", func() {
		e, err := New(unreachable(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())

		for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
			Expect(e.Insert("node", fact.Tuple{n})).NotTo(HaveOccurred())
		}
		Expect(e.Insert("start", fact.Tuple{"a"})).NotTo(HaveOccurred())
		for _, t := range []fact.Tuple{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"e", "f"}} {
			Expect(e.Insert("edge", t)).NotTo(HaveOccurred())
		}

		names := e.Database().Names()
		last := map[string]int{}
		e.afterIteration = func(stratum, iteration int) {
			for _, name := range names {
				n := e.Database().Len(name)
				Expect(n).To(BeNumerically(">=", last[name]),
					"relation %s shrank at stratum %d iteration %d", name, stratum, iteration)
				last[name] = n
			}
		}

		Expect(e.Run(context.Background())).To(Succeed())
		Expect(last["reach"]).To(Equal(4))
		Expect(last["unreach"]).To(Equal(2))
	})

	It("should move lattice values only upward in the join order", func() {
		e, err := New(shortestPath(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())

		// Many routes from a to z with decreasing total weight, discovered
		// over several iterations.
		for _, t := range []fact.Tuple{
			{"a", "z", 10},
			{"a", "b", 4}, {"b", "z", 4},
			{"a", "c", 2}, {"c", "d", 2}, {"d", "z", 2},
		} {
			Expect(e.Insert("edge", t)).NotTo(HaveOccurred())
		}

		// Under the min join, upward means numerically non-increasing.
		var history []float64
		e.afterIteration = func(stratum, iteration int) {
			v, ok, err := e.LatticeValue("dist", "a", "z")
			Expect(err).NotTo(HaveOccurred())
			if !ok {
				return
			}
			f, _, _, err := fact.Number(v)
			Expect(err).NotTo(HaveOccurred())
			if len(history) > 0 {
				Expect(f).To(BeNumerically("<=", history[len(history)-1]))
			}
			history = append(history, f)
		}

		Expect(e.Run(context.Background())).To(Succeed())

		Expect(history).NotTo(BeEmpty())
		// The final value is the join of every derivable candidate.
		Expect(history[len(history)-1]).To(BeNumerically("==", 6))
	})
})

var _ = Describe("Report", func() {
	It("should record per-stratum and per-rule statistics of the run", func() {
		e, err := New(unreachable(), WithLogger(logger), WithTiming())
		Expect(err).NotTo(HaveOccurred())

		for _, n := range []string{"a", "b", "c"} {
			Expect(e.Insert("node", fact.Tuple{n})).NotTo(HaveOccurred())
		}
		Expect(e.Insert("start", fact.Tuple{"a"})).NotTo(HaveOccurred())
		Expect(e.Insert("edge", fact.Tuple{"a", "b"})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())

		var report *RunReport = e.Report()
		Expect(report.Timed).To(BeTrue())
		Expect(report.Duration).To(BeNumerically(">", 0))
		Expect(report.Strata).To(HaveLen(len(e.Stratification().Strata)))

		totalIterations := 0
		totalFacts := 0
		for _, s := range report.Strata {
			Expect(s.Iterations).To(BeNumerically(">", 0))
			totalIterations += s.Iterations
			totalFacts += s.Facts
		}
		// reach: a, b; unreach: c.
		Expect(totalFacts).To(Equal(3))

		byName := map[string]RuleStats{}
		for _, r := range report.Rules {
			byName[r.Name] = r
		}
		Expect(byName).To(HaveKey("init"))
		Expect(byName).To(HaveKey("step"))
		Expect(byName).To(HaveKey("complement"))
		Expect(byName["init"].Facts).To(Equal(1))
		Expect(byName["step"].Facts).To(Equal(1))
		Expect(byName["complement"].Facts).To(Equal(1))
		Expect(byName["complement"].Evaluations).To(BeNumerically(">", 0))

		Expect(report.String()).To(ContainSubstring("stratum"))
		Expect(report.String()).To(ContainSubstring("rule complement"))
	})

	It("should return a copy detached from later runs", func() {
		e, err := New(transitiveClosure(), WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Insert("edge", fact.Tuple{"a", "b"})).NotTo(HaveOccurred())

		Expect(e.Run(context.Background())).To(Succeed())
		first := e.Report()
		firstFacts := first.Strata[e.Stratification().Index["path"]].Facts
		Expect(firstFacts).To(Equal(1))

		Expect(e.Run(context.Background())).To(Succeed())
		Expect(first.Strata[e.Stratification().Index["path"]].Facts).To(Equal(firstFacts))
	})
})
