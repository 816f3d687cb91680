// Package fact implements typed tuple storage for relations and lattice
// relations. Each relation keeps its accumulated state plus the delta (the
// facts added during the most recently completed evaluation iteration).
//
// Tuples are identified by a canonical JSON key, so structural equality is
// JSON equality: int64(1), int(1) and float64(1) denote the same column
// value, and nested maps compare field-wise regardless of insertion order.
package fact

import (
	"encoding/json"
	"fmt"
	"math"
)

// Value is a single column value. Any JSON-representable value works:
// numbers, strings, bools, nil, nested []any and map[string]any.
type Value = any

// Tuple is one fact: a fixed-arity row of column values.
type Tuple []Value

// StoreError reports a fact store failure.
type StoreError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func newStoreError(message string, cause error) error {
	return &StoreError{Message: message, Cause: cause}
}

// Key computes the deterministic JSON identity of a tuple. This is the
// function that defines tuple equality.
func Key(t Tuple) (string, error) {
	canonical, err := toCanonicalForm([]Value(t))
	if err != nil {
		return "", newStoreError("failed to convert tuple to canonical form", err)
	}

	bytes, err := json.Marshal(canonical)
	if err != nil {
		return "", newStoreError("failed to marshal tuple to JSON", err)
	}

	return string(bytes), nil
}

// ValueKey computes the deterministic JSON identity of a single column value.
func ValueKey(v Value) (string, error) {
	canonical, err := toCanonicalForm(v)
	if err != nil {
		return "", newStoreError("failed to convert value to canonical form", err)
	}

	bytes, err := json.Marshal(canonical)
	if err != nil {
		return "", newStoreError("failed to marshal value to JSON", err)
	}

	return string(bytes), nil
}

// Same checks whether two column values are equal under canonical JSON
// identity.
func Same(a, b Value) (bool, error) {
	keyA, err := ValueKey(a)
	if err != nil {
		return false, err
	}

	keyB, err := ValueKey(b)
	if err != nil {
		return false, err
	}

	return keyA == keyB, nil
}

// toCanonicalForm ensures a deterministic JSON representation. Integer-valued
// numbers are normalized to int64 so that 1, int64(1) and float64(1.0) share
// an identity, and nested structures are processed recursively.
func toCanonicalForm(val any) (any, error) {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any)
		for k, subVal := range v {
			canonical, err := toCanonicalForm(subVal)
			if err != nil {
				return nil, newStoreError(fmt.Sprintf("failed to canonicalize map field %q", k), err)
			}
			result[k] = canonical
		}
		return result, nil

	case []any:
		// Arrays preserve order.
		result := make([]any, len(v))
		for i, subVal := range v {
			canonical, err := toCanonicalForm(subVal)
			if err != nil {
				return nil, newStoreError(fmt.Sprintf("failed to canonicalize array element at index %d", i), err)
			}
			result[i] = canonical
		}
		return result, nil

	case Tuple:
		return toCanonicalForm([]Value(v))

	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			// Out of int64 range: the JSON representation is exact, so
			// the value keeps its own identity.
			return v, nil
		}
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return v, nil
		}
		return int64(v), nil
	case float32:
		return normalizeFloat(float64(v)), nil
	case float64:
		return normalizeFloat(v), nil

	case int64, string, bool, nil:
		return v, nil

	default:
		// Unknown types go through encoding/json as-is.
		return v, nil
	}
}

// normalizeFloat collapses integer-valued floats onto int64 identity.
func normalizeFloat(f float64) any {
	i := int64(f)
	if float64(i) == f {
		return i
	}
	return f
}

// Number coerces a column value to float64 and, when the value is
// integral, to int64. Unsigned values above math.MaxInt64 are reported as
// non-integral floats.
func Number(v Value) (f float64, i int64, integral bool, err error) {
	switch n := v.(type) {
	case int:
		return float64(n), int64(n), true, nil
	case int8:
		return float64(n), int64(n), true, nil
	case int16:
		return float64(n), int64(n), true, nil
	case int32:
		return float64(n), int64(n), true, nil
	case int64:
		return float64(n), n, true, nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return float64(n), 0, false, nil
		}
		return float64(n), int64(n), true, nil
	case uint8:
		return float64(n), int64(n), true, nil
	case uint16:
		return float64(n), int64(n), true, nil
	case uint32:
		return float64(n), int64(n), true, nil
	case uint64:
		if n > math.MaxInt64 {
			// Too large for int64; report it as a non-integral float
			// rather than wrapping negative.
			return float64(n), 0, false, nil
		}
		return float64(n), int64(n), true, nil
	case float32:
		return float64(n), 0, false, nil
	case float64:
		return n, 0, false, nil
	default:
		return 0, 0, false, newStoreError(fmt.Sprintf("value %v (%T) is not numeric", v, v), nil)
	}
}

// Copy returns a copy of the tuple. The backing slice is fresh; composite
// column values are shared, callers must treat them as immutable.
func (t Tuple) Copy() Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

// String returns a compact representation for logging.
func (t Tuple) String() string {
	b, err := json.Marshal([]Value(t))
	if err != nil {
		return fmt.Sprintf("%v", []Value(t))
	}
	return string(b)
}
