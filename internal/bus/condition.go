package bus

import (
	"reflect"
	"strings"
)

// Operator identifies a condition comparison.
type Operator string

// Supported condition operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// AllOperators returns every valid condition operator.
func AllOperators() []Operator {
	return []Operator{OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan}
}

// Condition is a single field-level test against a message payload.
// A route's conditions are ANDed: every condition must pass for the
// route to fire.
type Condition struct {
	// Field is a dotted path into the payload, e.g. "sensor.value".
	Field string `json:"field"`

	// Operator selects the comparison.
	Operator Operator `json:"operator"`

	// Value is the expected value the resolved field is compared against.
	Value any `json:"value"`
}

// Evaluate tests the condition against a payload.
//
// The field path is split on "." and reduced into the payload; absence
// at any step leaves the field unresolved. Operator semantics:
//
//   - equals: direct comparison; an unresolved field never equals anything
//   - not_equals: negation of equals, so an unresolved field makes
//     not_equals pass regardless of the expected value
//   - contains: passes only when the resolved value is a string that
//     contains the expected string; any other type fails
//   - greater_than / less_than: pass only when both the resolved and
//     expected values are numeric; non-numeric values always fail
func (c Condition) Evaluate(payload map[string]any) bool {
	value, found := resolveField(payload, c.Field)

	switch c.Operator {
	case OpEquals:
		return found && equalValues(value, c.Value)
	case OpNotEquals:
		return !found || !equalValues(value, c.Value)
	case OpContains:
		s, ok := value.(string)
		if !ok {
			return false
		}
		sub, ok := c.Value.(string)
		if !ok {
			return false
		}
		return strings.Contains(s, sub)
	case OpGreaterThan:
		a, aok := toFloat(value)
		b, bok := toFloat(c.Value)
		return found && aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(value)
		b, bok := toFloat(c.Value)
		return found && aok && bok && a < b
	default:
		return false
	}
}

// resolveField walks a dotted path through nested map[string]any values.
// The second return is false if any step of the path is absent or the
// intermediate value is not a map.
func resolveField(payload map[string]any, path string) (any, bool) {
	if payload == nil || path == "" {
		return nil, false
	}

	var current any = payload
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// equalValues compares a resolved payload value with an expected value.
// Numbers compare across numeric types (payloads decoded from JSON carry
// float64 while config-defined routes may carry int). Everything else
// compares by interface equality, guarded against incomparable types.
func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

// toFloat normalises any numeric type to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
