package condition

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Leaf operators. The set is closed; validation rejects anything else at
// pack load, and evaluation treats unknown operators as unsatisfied.
const (
	OpEq          = "=="
	OpNe          = "!="
	OpGt          = ">"
	OpGte         = ">="
	OpLt          = "<"
	OpLte         = "<="
	OpIn          = "in"
	OpContains    = "contains"
	OpContainsAll = "containsAll"
	OpMatches     = "matches"
	OpStartsWith  = "startsWith"
	OpEndsWith    = "endsWith"
)

// apply evaluates one typed operator. Type mismatches yield false, never
// an error: a leaf that cannot be compared is simply not satisfied.
func apply(op string, actual, expected any) (bool, error) {
	switch op {
	case OpEq:
		return structuralEqual(actual, expected), nil
	case OpNe:
		return !structuralEqual(actual, expected), nil
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toNumber(actual)
		b, bok := toNumber(expected)
		if !aok || !bok {
			return false, nil
		}
		switch op {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case OpIn:
		list, ok := toSlice(expected)
		if !ok {
			return false, nil
		}
		for _, item := range list {
			if structuralEqual(actual, item) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		if s, ok := toString(actual); ok {
			sub, ok := toString(expected)
			return ok && strings.Contains(s, sub), nil
		}
		list, ok := toSlice(actual)
		if !ok {
			return false, nil
		}
		for _, item := range list {
			if structuralEqual(item, expected) {
				return true, nil
			}
		}
		return false, nil
	case OpContainsAll:
		list, ok := toSlice(actual)
		if !ok {
			return false, nil
		}
		wanted, ok := toSlice(expected)
		if !ok {
			return false, nil
		}
		for _, w := range wanted {
			found := false
			for _, item := range list {
				if structuralEqual(item, w) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
		return true, nil
	case OpMatches:
		s, ok := toString(actual)
		if !ok {
			return false, nil
		}
		pattern, ok := toString(expected)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Invalid pattern is not satisfied, not an evaluation error.
			return false, nil
		}
		return re.MatchString(s), nil
	case OpStartsWith:
		s, sok := toString(actual)
		prefix, pok := toString(expected)
		return sok && pok && strings.HasPrefix(s, prefix), nil
	case OpEndsWith:
		s, sok := toString(actual)
		suffix, pok := toString(expected)
		return sok && pok && strings.HasSuffix(s, suffix), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// structuralEqual compares values structurally: arrays order-sensitive,
// maps key-and-value sensitive; numbers compare across representations;
// nil and absent are equal to each other but to nothing else.
func structuralEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			return an == bn
		}
		// A string-encoded number equals a number only if both coerce;
		// fall through for string/string comparison below.
	}
	switch at := a.(type) {
	case string:
		bs, ok := b.(string)
		return ok && at == bs
	case bool:
		bb, ok := b.(bool)
		return ok && at == bb
	}
	if as, ok := toSlice(a); ok {
		bs, ok := toSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !structuralEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if am, ok := toMap(a); ok {
		bm, ok := toMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !structuralEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return a == b
}

// toNumber coerces numeric types and string-encoded numbers.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

