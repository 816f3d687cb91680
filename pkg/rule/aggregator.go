package rule

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/l7mp/fixpoint/pkg/fact"
)

// Aggregator reduces the rows of one aggregation group to zero or more
// output values. Each row carries the values of the aggregated columns for
// one matching tuple. Aggregators must be pure; auxiliary parameters are
// fixed when the aggregator is constructed.
type Aggregator func(rows []fact.Tuple) ([]fact.Value, error)

// The built-in aggregators reduce the first aggregated column. Count and Sum
// produce an output for an empty group (0); Min, Max, Mean and Percentile
// produce no output when the group is empty.

// Count returns the number of rows in the group.
func Count(rows []fact.Tuple) ([]fact.Value, error) {
	return []fact.Value{int64(len(rows))}, nil
}

// Sum returns the sum of the aggregated column. The result is an int64 when
// every input is integral, a float64 otherwise.
func Sum(rows []fact.Tuple) ([]fact.Value, error) {
	var fsum float64
	var isum int64
	integral := true

	for _, row := range rows {
		f, i, isInt, err := fact.Number(firstColumn(row))
		if err != nil {
			return nil, err
		}
		fsum += f
		if isInt {
			isum += i
		} else {
			integral = false
		}
	}

	if integral {
		return []fact.Value{isum}, nil
	}
	return []fact.Value{fsum}, nil
}

// Min returns the smallest value of the aggregated column, preserving the
// input representation.
func Min(rows []fact.Tuple) ([]fact.Value, error) {
	return extremum(rows, func(candidate, best float64) bool { return candidate < best })
}

// Max returns the largest value of the aggregated column, preserving the
// input representation.
func Max(rows []fact.Tuple) ([]fact.Value, error) {
	return extremum(rows, func(candidate, best float64) bool { return candidate > best })
}

// Mean returns the arithmetic mean of the aggregated column as a float64.
func Mean(rows []fact.Tuple) ([]fact.Value, error) {
	xs, err := floats(rows)
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return nil, nil
	}
	return []fact.Value{stat.Mean(xs, nil)}, nil
}

// Percentile returns an aggregator computing the p-th empirical quantile of
// the aggregated column, with p in [0,1].
func Percentile(p float64) Aggregator {
	return func(rows []fact.Tuple) ([]fact.Value, error) {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("percentile parameter %v outside [0,1]", p)
		}

		xs, err := floats(rows)
		if err != nil {
			return nil, err
		}
		if len(xs) == 0 {
			return nil, nil
		}

		sort.Float64s(xs)
		return []fact.Value{stat.Quantile(p, stat.Empirical, xs, nil)}, nil
	}
}

func extremum(rows []fact.Tuple, better func(candidate, best float64) bool) ([]fact.Value, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	bestVal := firstColumn(rows[0])
	best, _, _, err := fact.Number(bestVal)
	if err != nil {
		return nil, err
	}

	for _, row := range rows[1:] {
		v := firstColumn(row)
		f, _, _, err := fact.Number(v)
		if err != nil {
			return nil, err
		}
		if better(f, best) {
			best, bestVal = f, v
		}
	}

	return []fact.Value{bestVal}, nil
}

func floats(rows []fact.Tuple) ([]float64, error) {
	xs := make([]float64, 0, len(rows))
	for _, row := range rows {
		f, _, _, err := fact.Number(firstColumn(row))
		if err != nil {
			return nil, err
		}
		xs = append(xs, f)
	}
	return xs, nil
}

func firstColumn(row fact.Tuple) fact.Value {
	if len(row) == 0 {
		return nil
	}
	return row[0]
}
