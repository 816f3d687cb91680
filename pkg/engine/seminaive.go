package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/l7mp/fixpoint/pkg/fact"
	"github.com/l7mp/fixpoint/pkg/rule"
)

// candidate is a head fact produced by one rule evaluation, pending commit
// at the end of the iteration.
type candidate struct {
	relation string
	tuple    fact.Tuple
	rule     int
}

// task is one rule body evaluation. For delta tasks, the body clause at
// deltaPos reads the delta of its relation while every other clause reads
// full accumulated state; deltaPos -1 marks a full evaluation for rules
// with no positive reference into the current stratum.
type task struct {
	ruleIdx  int
	deltaPos int
}

// runStratum iterates the stratum's rules to a fixpoint. Facts produced
// during an iteration become visible, as the next delta, only after the
// whole iteration committed, so iteration N+1 never observes a partially
// applied iteration N.
func (e *Engine) runStratum(ctx context.Context, si int, members []string) error {
	stats := &e.report.Strata[si]
	var stratumStart time.Time
	if e.timing {
		stratumStart = time.Now()
	}

	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}

	// Everything accumulated so far is new from this stratum's viewpoint.
	for _, m := range members {
		e.resetDelta(m)
	}

	// One task per delta-readable positive body clause; rules with no
	// positive reference into this stratum fire exactly once, at stratum
	// start.
	var once, delta []task
	for i := range e.prog.Rules {
		if !e.ruleStrata[i][si] {
			continue
		}
		positions := e.deltaPositions(i, memberSet)
		if len(positions) == 0 {
			once = append(once, task{ruleIdx: i, deltaPos: -1})
			continue
		}
		for _, p := range positions {
			delta = append(delta, task{ruleIdx: i, deltaPos: p})
		}
	}

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			e.log.V(1).Info("run aborted", "stratum", si, "iteration", iteration)
			return newAbortError(ctx.Err())
		default:
		}

		tasks := delta
		if iteration == 0 && len(once) > 0 {
			tasks = make([]task, 0, len(once)+len(delta))
			tasks = append(tasks, once...)
			tasks = append(tasks, delta...)
		}

		candidates, err := e.evaluate(si, tasks)
		if err != nil {
			return err
		}

		// Consume the previous delta, then commit: fresh facts form the
		// next iteration's delta.
		for _, m := range members {
			e.clearDelta(m)
		}
		fresh, err := e.commit(candidates)
		if err != nil {
			return err
		}

		iteration++
		stats.Iterations++
		stats.Facts += fresh

		e.log.V(4).Info("iteration complete", "stratum", si, "iteration", iteration,
			"fresh", fresh)

		if e.afterIteration != nil {
			e.afterIteration(si, iteration)
		}

		if fresh == 0 {
			break
		}
	}

	if e.timing {
		stats.Duration = time.Since(stratumStart)
	}

	e.log.V(2).Info("stratum fixpoint reached", "stratum", si, "relations", members,
		"iterations", stats.Iterations, "facts", stats.Facts)

	return nil
}

// deltaPositions returns the body clause indices of rule i that positively
// reference a relation of the current stratum.
func (e *Engine) deltaPositions(i int, memberSet map[string]bool) []int {
	var positions []int
	for ci, c := range e.prog.Rules[i].Body {
		switch c := c.(type) {
		case rule.Match:
			if memberSet[c.Relation] {
				positions = append(positions, ci)
			}
		case rule.LatticeMatch:
			if memberSet[c.Relation] {
				positions = append(positions, ci)
			}
		}
	}
	return positions
}

// evaluate runs the iteration's tasks, sequentially or on a bounded worker
// group, and concatenates the candidate buffers in task order so the
// outcome is independent of scheduling.
func (e *Engine) evaluate(si int, tasks []task) ([]candidate, error) {
	if e.parallel > 1 && len(tasks) > 1 {
		return e.evaluateParallel(si, tasks)
	}

	var out []candidate
	for _, t := range tasks {
		cands, err := e.evalRule(si, t)
		if err != nil {
			return nil, err
		}
		out = append(out, cands...)
	}
	return out, nil
}

func (e *Engine) evaluateParallel(si int, tasks []task) ([]candidate, error) {
	buffers := make([][]candidate, len(tasks))

	g := new(errgroup.Group)
	g.SetLimit(e.parallel)
	for ti, t := range tasks {
		ti, t := ti, t
		g.Go(func() error {
			cands, err := e.evalRule(si, t)
			if err != nil {
				return err
			}
			buffers[ti] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []candidate
	for _, buf := range buffers {
		out = append(out, buf...)
	}
	return out, nil
}

// evalRule evaluates one rule body and instantiates the head clauses lying
// in the current stratum. Heads in other strata are produced when their own
// stratum evaluates the rule.
func (e *Engine) evalRule(si int, t task) ([]candidate, error) {
	r := e.prog.Rules[t.ruleIdx]
	name := e.ruleNames[t.ruleIdx]

	var start time.Time
	if e.timing {
		start = time.Now()
	}

	bindings := []binding{{}}
	var err error
	for ci, c := range r.Body {
		bindings, err = e.evalClause(c, bindings, ci == t.deltaPos)
		if err != nil {
			return nil, NewEvalError(name, err)
		}
		if len(bindings) == 0 {
			break
		}
	}

	var out []candidate
	for _, b := range bindings {
		for _, h := range r.Heads {
			if e.strat.Index[h.Relation] != si {
				continue
			}
			tuple := make(fact.Tuple, len(h.Terms))
			for i, term := range h.Terms {
				v, err := e.evalTerm(term, b)
				if err != nil {
					return nil, NewEvalError(name, err)
				}
				tuple[i] = v
			}
			out = append(out, candidate{relation: h.Relation, tuple: tuple, rule: t.ruleIdx})
		}
	}

	e.mu.Lock()
	rs := &e.report.Rules[t.ruleIdx]
	rs.Evaluations++
	if e.timing {
		rs.Duration += time.Since(start)
	}
	e.mu.Unlock()

	return out, nil
}
