// Package metrics exposes evaluation statistics as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l7mp/fixpoint/pkg/engine"
)

// Collector implements prometheus.Collector over an engine: accumulated
// fact counts per relation, iteration and fact counts per stratum, fact
// counts per rule, and — when the engine runs with timing enabled — the
// stratum and total run durations.
type Collector struct {
	engine *engine.Engine

	relationFacts     *prometheus.Desc
	stratumIterations *prometheus.Desc
	stratumFacts      *prometheus.Desc
	stratumDuration   *prometheus.Desc
	ruleFacts         *prometheus.Desc
	runDuration       *prometheus.Desc
}

// NewCollector creates a collector for the given engine. Collect reads the
// engine's database and report; register the collector only on engines
// that are not evaluated concurrently with the scrape.
func NewCollector(e *engine.Engine) *Collector {
	return &Collector{
		engine: e,
		relationFacts: prometheus.NewDesc(
			"fixpoint_relation_facts",
			"Number of accumulated facts per relation or lattice.",
			[]string{"relation"}, nil),
		stratumIterations: prometheus.NewDesc(
			"fixpoint_stratum_iterations_total",
			"Number of evaluation iterations per stratum in the last run.",
			[]string{"stratum"}, nil),
		stratumFacts: prometheus.NewDesc(
			"fixpoint_stratum_facts_total",
			"Number of facts committed per stratum in the last run.",
			[]string{"stratum"}, nil),
		stratumDuration: prometheus.NewDesc(
			"fixpoint_stratum_duration_seconds",
			"Cumulative evaluation time per stratum in the last run.",
			[]string{"stratum"}, nil),
		ruleFacts: prometheus.NewDesc(
			"fixpoint_rule_facts_total",
			"Number of facts committed per rule in the last run.",
			[]string{"rule"}, nil),
		runDuration: prometheus.NewDesc(
			"fixpoint_run_duration_seconds",
			"Total duration of the last run.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.relationFacts
	ch <- c.stratumIterations
	ch <- c.stratumFacts
	ch <- c.stratumDuration
	ch <- c.ruleFacts
	ch <- c.runDuration
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	db := c.engine.Database()
	for _, name := range db.Names() {
		ch <- prometheus.MustNewConstMetric(c.relationFacts, prometheus.GaugeValue,
			float64(db.Len(name)), name)
	}

	report := c.engine.Report()
	for _, s := range report.Strata {
		label := strconv.Itoa(s.Index)
		ch <- prometheus.MustNewConstMetric(c.stratumIterations, prometheus.CounterValue,
			float64(s.Iterations), label)
		ch <- prometheus.MustNewConstMetric(c.stratumFacts, prometheus.CounterValue,
			float64(s.Facts), label)
		if report.Timed {
			ch <- prometheus.MustNewConstMetric(c.stratumDuration, prometheus.CounterValue,
				s.Duration.Seconds(), label)
		}
	}

	for _, r := range report.Rules {
		ch <- prometheus.MustNewConstMetric(c.ruleFacts, prometheus.CounterValue,
			float64(r.Facts), r.Name)
	}

	if report.Timed {
		ch <- prometheus.MustNewConstMetric(c.runDuration, prometheus.GaugeValue,
			report.Duration.Seconds())
	}
}
