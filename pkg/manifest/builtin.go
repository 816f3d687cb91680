package manifest

import (
	"fmt"

	"github.com/l7mp/fixpoint/pkg/fact"
	"github.com/l7mp/fixpoint/pkg/rule"
)

// builtinFunctions are the term functions available in manifest atoms.
// Arithmetic preserves int64 when every operand is integral.
var builtinFunctions = map[string]func(args ...fact.Value) (fact.Value, error){
	"add": arith("add", func(a, b float64) float64 { return a + b }, func(a, b int64) int64 { return a + b }),
	"sub": arith("sub", func(a, b float64) float64 { return a - b }, func(a, b int64) int64 { return a - b }),
	"mul": arith("mul", func(a, b float64) float64 { return a * b }, func(a, b int64) int64 { return a * b }),
	"div": divide,
	"mod": modulo,
}

func arith(name string, ff func(a, b float64) float64, fi func(a, b int64) int64) func(args ...fact.Value) (fact.Value, error) {
	return func(args ...fact.Value) (fact.Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
		}
		fa, ia, intA, err := fact.Number(args[0])
		if err != nil {
			return nil, err
		}
		fb, ib, intB, err := fact.Number(args[1])
		if err != nil {
			return nil, err
		}
		if intA && intB {
			return fi(ia, ib), nil
		}
		return ff(fa, fb), nil
	}
}

func divide(args ...fact.Value) (fact.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("div expects 2 arguments, got %d", len(args))
	}
	fa, _, _, err := fact.Number(args[0])
	if err != nil {
		return nil, err
	}
	fb, _, _, err := fact.Number(args[1])
	if err != nil {
		return nil, err
	}
	if fb == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	return fa / fb, nil
}

func modulo(args ...fact.Value) (fact.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("mod expects 2 arguments, got %d", len(args))
	}
	_, ia, intA, err := fact.Number(args[0])
	if err != nil {
		return nil, err
	}
	_, ib, intB, err := fact.Number(args[1])
	if err != nil {
		return nil, err
	}
	if !intA || !intB {
		return nil, fmt.Errorf("mod expects integral arguments")
	}
	if ib == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	return ia % ib, nil
}

// builtinJoins are the lattice join operators a manifest can name.
var builtinJoins = map[string]fact.JoinFunc{
	"min": joinExtremum(func(a, b float64) bool { return a < b }),
	"max": joinExtremum(func(a, b float64) bool { return a > b }),
}

func joinExtremum(better func(a, b float64) bool) fact.JoinFunc {
	return func(a, b fact.Value) (fact.Value, error) {
		fa, _, _, err := fact.Number(a)
		if err != nil {
			return nil, err
		}
		fb, _, _, err := fact.Number(b)
		if err != nil {
			return nil, err
		}
		if better(fa, fb) {
			return a, nil
		}
		return b, nil
	}
}

// builtinAggregators maps manifest aggregator names to the engine
// built-ins. Percentile takes its parameter from the manifest.
func builtinAggregator(name string, p float64) (rule.Aggregator, error) {
	switch name {
	case "sum":
		return rule.Sum, nil
	case "min":
		return rule.Min, nil
	case "max":
		return rule.Max, nil
	case "count":
		return rule.Count, nil
	case "mean":
		return rule.Mean, nil
	case "percentile":
		return rule.Percentile(p), nil
	default:
		return nil, fmt.Errorf("unknown aggregator %q", name)
	}
}

// builtinPredicate returns the comparison predicate for a filter operator.
func builtinPredicate(op string) (func(args ...fact.Value) (bool, error), error) {
	switch op {
	case "eq":
		return func(args ...fact.Value) (bool, error) {
			if len(args) != 2 {
				return false, fmt.Errorf("eq expects 2 arguments, got %d", len(args))
			}
			return fact.Same(args[0], args[1])
		}, nil
	case "ne":
		return func(args ...fact.Value) (bool, error) {
			if len(args) != 2 {
				return false, fmt.Errorf("ne expects 2 arguments, got %d", len(args))
			}
			same, err := fact.Same(args[0], args[1])
			return !same, err
		}, nil
	case "lt":
		return compare(op, func(a, b float64) bool { return a < b }), nil
	case "le":
		return compare(op, func(a, b float64) bool { return a <= b }), nil
	case "gt":
		return compare(op, func(a, b float64) bool { return a > b }), nil
	case "ge":
		return compare(op, func(a, b float64) bool { return a >= b }), nil
	default:
		return nil, fmt.Errorf("unknown filter operator %q", op)
	}
}

func compare(name string, cmp func(a, b float64) bool) func(args ...fact.Value) (bool, error) {
	return func(args ...fact.Value) (bool, error) {
		if len(args) != 2 {
			return false, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
		}
		fa, _, _, err := fact.Number(args[0])
		if err != nil {
			return false, err
		}
		fb, _, _, err := fact.Number(args[1])
		if err != nil {
			return false, err
		}
		return cmp(fa, fb), nil
	}
}
