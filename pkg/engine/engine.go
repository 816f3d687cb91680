// Package engine implements the evaluation core: semi-naive fixpoint
// iteration over stratified rule programs, with lattice-join commitment,
// negation and aggregation against frozen strata, and cooperative
// checkpoint-based cancellation.
//
// Key components:
//   - Engine: owns the fact database and drives the run.
//   - Semi-naive evaluator: per stratum, re-evaluates rules with at least
//     one body clause bound against the previous iteration's delta.
//   - Clause evaluator: executes a rule body as an ordered pipeline over
//     partial variable bindings.
//   - Lattice join engine: merges candidate lattice facts through the
//     caller-supplied join, producing a delta only when the value changes.
//
// Evaluation is logically single-threaded and deterministic; the optional
// parallel mode evaluates independent rules of one iteration concurrently
// and merges their candidates in rule order, so observable results equal
// the sequential execution.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/fixpoint/pkg/deps"
	"github.com/l7mp/fixpoint/pkg/fact"
	"github.com/l7mp/fixpoint/pkg/rule"
)

// Engine evaluates one rule program to its least fixpoint. The embedded
// database is exclusively owned by the engine: external mutation is
// permitted only through Insert and Merge before Run is invoked.
type Engine struct {
	prog  *rule.Program
	db    *fact.Database
	graph *deps.Graph
	strat *deps.Stratification

	ruleNames []string
	// ruleStrata[i] holds the stratum indices containing at least one head
	// of rule i.
	ruleStrata []map[int]bool

	log      logr.Logger
	timing   bool
	parallel int

	report  *RunReport
	running bool
	// mu guards the per-rule report fields when rules evaluate in
	// parallel.
	mu sync.Mutex

	// afterIteration is a test hook invoked after each committed
	// iteration.
	afterIteration func(stratum, iteration int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(log logr.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithTiming enables timing instrumentation: the report's duration fields
// are populated at the cost of clock reads around rules and strata.
func WithTiming() Option {
	return func(e *Engine) { e.timing = true }
}

// WithParallelism lets up to n rules of one iteration evaluate
// concurrently. Results are merged in rule order, so the observable
// fixpoint is identical to sequential evaluation. Values below 2 keep the
// evaluator sequential.
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallel = n }
}

// New validates the program, builds its dependency graph and
// stratification, and returns an engine ready for fact injection and
// evaluation. Unstratifiable programs are rejected here with a
// *deps.StratificationError; no evaluation is attempted for them.
func New(prog *rule.Program, opts ...Option) (*Engine, error) {
	e := &Engine{
		prog: prog,
		log:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}

	db := fact.NewDatabase()
	for _, d := range prog.Decls {
		if d.Arity < 1 {
			return nil, NewProgramError("", fmt.Sprintf("relation %q must have at least one column", d.Name))
		}
		var err error
		if d.Lattice {
			_, err = db.AddLattice(d.Name, d.Arity, d.Join)
		} else {
			_, err = db.AddRelation(d.Name, d.Arity)
		}
		if err != nil {
			return nil, NewProgramError("", err.Error())
		}
	}
	e.db = db

	e.ruleNames = make([]string, len(prog.Rules))
	for i := range prog.Rules {
		e.ruleNames[i] = prog.RuleName(i)
	}

	if err := e.validate(); err != nil {
		return nil, err
	}

	e.graph = deps.Build(prog)

	strat, err := deps.Stratify(e.graph)
	if err != nil {
		return nil, err
	}
	e.strat = strat

	e.ruleStrata = make([]map[int]bool, len(prog.Rules))
	for i, r := range prog.Rules {
		e.ruleStrata[i] = map[int]bool{}
		for _, h := range r.Heads {
			e.ruleStrata[i][strat.Index[h.Relation]] = true
		}
	}

	e.report = e.newReport()

	e.log.V(2).Info("program stratified", "relations", len(e.graph.Nodes),
		"rules", len(prog.Rules), "strata", len(strat.Strata))

	return e, nil
}

// Insert injects an initial fact into a plain base relation. Facts may only
// be injected while no evaluation is running.
func (e *Engine) Insert(relation string, t fact.Tuple) error {
	if e.running {
		return NewProgramError("", "fact injection during evaluation is not permitted")
	}
	r := e.db.Relation(relation)
	if r == nil {
		return NewProgramError("", fmt.Sprintf("unknown relation %q", relation))
	}
	_, err := r.Insert(t)
	return err
}

// Merge injects an initial lattice fact, routing it through the lattice
// join engine.
func (e *Engine) Merge(lattice string, t fact.Tuple) error {
	if e.running {
		return NewProgramError("", "fact injection during evaluation is not permitted")
	}
	l := e.db.Lattice(lattice)
	if l == nil {
		return NewProgramError("", fmt.Sprintf("unknown lattice %q", lattice))
	}
	_, err := l.Merge(t)
	return err
}

// Run executes the program to its full fixpoint, stratum by stratum. The
// context is consulted only at iteration boundaries: on expiry Run returns
// an error wrapping ErrAborted and the database holds the state of the last
// fully completed iteration, a sound subset of the full result since facts
// are only ever added.
//
// Running an already evaluated engine again derives no new facts and is
// harmless. The report is reset at the start of each run.
func (e *Engine) Run(ctx context.Context) error {
	if e.running {
		return NewProgramError("", "evaluation already in progress")
	}
	e.running = true
	defer func() { e.running = false }()

	e.report = e.newReport()

	var runStart time.Time
	if e.timing {
		runStart = time.Now()
	}

	for si, members := range e.strat.Strata {
		if err := e.runStratum(ctx, si, members); err != nil {
			return err
		}
	}

	if e.timing {
		e.report.Duration = time.Since(runStart)
	}

	e.log.V(1).Info("run complete", "strata", len(e.strat.Strata))
	return nil
}

// RunWithTimeout executes Run under a deadline. On expiry the database is
// left exactly as after the last fully completed iteration and the error
// wraps ErrAborted.
func (e *Engine) RunWithTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return e.Run(ctx)
}

// Report returns a copy of the evaluation summary of the most recent run.
// It is always available; duration fields carry data only when the engine
// was created with WithTiming.
func (e *Engine) Report() *RunReport {
	return e.report.copy()
}

// Database exposes the fact store. Callers must not mutate it while a run
// is in progress.
func (e *Engine) Database() *fact.Database { return e.db }

// Tuples returns the accumulated rows of the named relation or lattice.
func (e *Engine) Tuples(name string) []fact.Tuple { return e.db.Tuples(name) }

// LatticeValue returns the current value stored under a lattice key.
func (e *Engine) LatticeValue(lattice string, key ...fact.Value) (fact.Value, bool, error) {
	l := e.db.Lattice(lattice)
	if l == nil {
		return nil, false, NewProgramError("", fmt.Sprintf("unknown lattice %q", lattice))
	}
	return l.Get(fact.Tuple(key))
}

// Graph returns the relation dependency graph.
func (e *Engine) Graph() *deps.Graph { return e.graph }

// Stratification returns the computed stratum partition and order.
func (e *Engine) Stratification() *deps.Stratification { return e.strat }

func (e *Engine) newReport() *RunReport {
	r := &RunReport{Timed: e.timing}
	r.Strata = make([]StratumStats, len(e.strat.Strata))
	for i, members := range e.strat.Strata {
		rels := make([]string, len(members))
		copy(rels, members)
		r.Strata[i] = StratumStats{Index: i, Relations: rels}
	}
	r.Rules = make([]RuleStats, len(e.prog.Rules))
	for i := range e.prog.Rules {
		r.Rules[i] = RuleStats{Name: e.ruleNames[i]}
	}
	return r
}
