package engine

import (
	"fmt"
	"strings"
	"time"
)

// RunReport summarizes one evaluation run: per-stratum and per-rule
// cumulative statistics. Iteration and fact counts are always populated;
// durations are populated only when the engine was created with WithTiming.
type RunReport struct {
	// Strata lists per-stratum statistics in evaluation order.
	Strata []StratumStats
	// Rules lists per-rule cumulative statistics in declaration order.
	Rules []RuleStats
	// Duration is the total run time. Zero unless timing is enabled.
	Duration time.Duration
	// Timed reports whether the duration fields carry data.
	Timed bool
}

// StratumStats holds the statistics of one stratum.
type StratumStats struct {
	Index      int
	Relations  []string
	Iterations int
	// Facts is the number of new tuples and changed lattice values
	// committed by the stratum.
	Facts    int
	Duration time.Duration
}

// RuleStats holds the cumulative statistics of one rule across the run.
type RuleStats struct {
	Name string
	// Evaluations counts body evaluations, including semi-naive delta
	// variants.
	Evaluations int
	// Facts is the number of committed head facts the rule produced.
	Facts    int
	Duration time.Duration
}

// String renders the report as a human-readable summary.
func (r *RunReport) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "evaluation summary")
	if r.Timed {
		fmt.Fprintf(&b, " (total %s)", r.Duration)
	}
	b.WriteString("\n")

	for _, s := range r.Strata {
		fmt.Fprintf(&b, "  stratum %d [%s]: %d iterations, %d facts",
			s.Index, strings.Join(s.Relations, ", "), s.Iterations, s.Facts)
		if r.Timed {
			fmt.Fprintf(&b, ", %s", s.Duration)
		}
		b.WriteString("\n")
	}

	for _, s := range r.Rules {
		fmt.Fprintf(&b, "  rule %s: %d evaluations, %d facts", s.Name, s.Evaluations, s.Facts)
		if r.Timed {
			fmt.Fprintf(&b, ", %s", s.Duration)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func (r *RunReport) copy() *RunReport {
	out := &RunReport{Duration: r.Duration, Timed: r.Timed}
	out.Strata = make([]StratumStats, len(r.Strata))
	copy(out.Strata, r.Strata)
	for i := range out.Strata {
		rels := make([]string, len(r.Strata[i].Relations))
		copy(rels, r.Strata[i].Relations)
		out.Strata[i].Relations = rels
	}
	out.Rules = make([]RuleStats, len(r.Rules))
	copy(out.Rules, r.Rules)
	return out
}
