package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// comparisonPattern matches the engine's one supported composite shape:
// "<lhs> <op> <rhs>". lhs is always a bound name; rhs may be a bound name
// or a numeric literal. This is total and side-effect-free by construction
// — there is no eval of the expression text, only a regex match followed by
// two map lookups and a float comparison.
var comparisonPattern = regexp.MustCompile(`^\s*([A-Za-z0-9_]+)\s*(>=|<=|==|>|<)\s*([A-Za-z0-9_.+-]+)\s*$`)

// bindStreams flattens each needed stream's current snapshot value into
// "{stream_type}_{key}" bindings, per §4.9. A stream listed in
// base_streams_needed but absent from the snapshot simply contributes no
// bindings — any comparison that references one of its fields then fails
// for "missing binding", not error.
func bindStreams(needed []string, snapshot map[string]map[string]any) map[string]float64 {
	bindings := make(map[string]float64)
	for _, ref := range needed {
		streamType, _, found := strings.Cut(ref, "/")
		if !found {
			streamType = ref
		}
		values, ok := snapshot[ref]
		if !ok {
			continue
		}
		for field, raw := range values {
			var f float64
			switch n := raw.(type) {
			case float64:
				f = n
			case int:
				f = float64(n)
			default:
				continue
			}
			bindings[streamType+"_"+field] = f
		}
	}
	return bindings
}

// evalComposite evaluates a single "<lhs> <op> <rhs>" comparison against the
// given bindings. A missing binding is a no match, not an error; an
// expression that does not parse returns an error.
func evalComposite(logic string, bindings map[string]float64) (bool, error) {
	m := comparisonPattern.FindStringSubmatch(logic)
	if m == nil {
		return false, fmt.Errorf("trigger: unsupported composite expression %q", logic)
	}
	lhsName, op, rhsToken := m[1], m[2], m[3]

	lhs, ok := bindings[lhsName]
	if !ok {
		return false, nil
	}
	rhs, ok := resolveOperand(rhsToken, bindings)
	if !ok {
		return false, nil
	}

	switch op {
	case ">":
		return lhs > rhs, nil
	case "<":
		return lhs < rhs, nil
	case ">=":
		return lhs >= rhs, nil
	case "<=":
		return lhs <= rhs, nil
	case "==":
		return lhs == rhs, nil
	default:
		return false, nil
	}
}

func resolveOperand(token string, bindings map[string]float64) (float64, bool) {
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f, true
	}
	f, ok := bindings[token]
	return f, ok
}
