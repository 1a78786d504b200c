package workflow

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/template"
)

// Condition operators.
const (
	OperatorEq       = "eq"
	OperatorNeq      = "neq"
	OperatorContains = "contains"
	OperatorGt       = "gt"
	OperatorLt       = "lt"
)

// Evaluate checks the condition against vars. known is false when the
// operator is not recognized; the result is then the one of eq.
func Evaluate(condition models.Condition, vars map[string]any) (matched, known bool) {
	actual, _ := template.Lookup(vars, condition.Field)

	switch strings.ToLower(strings.TrimSpace(condition.Operator)) {
	case OperatorEq:
		return equal(actual, condition.Value), true
	case OperatorNeq:
		return !equal(actual, condition.Value), true
	case OperatorContains:
		haystack := strings.ToLower(template.Stringify(actual))
		needle := strings.ToLower(template.Stringify(condition.Value))

		return strings.Contains(haystack, needle), true
	case OperatorGt, OperatorLt:
		left, okLeft := toFloat(actual)
		right, okRight := toFloat(condition.Value)

		if !okLeft || !okRight {
			return false, true
		}

		if strings.EqualFold(strings.TrimSpace(condition.Operator), OperatorGt) {
			return left > right, true
		}

		return left < right, true
	default:
		return equal(actual, condition.Value), false
	}
}

// EvaluateAll reports whether every condition holds. Unknown operators
// count as eq.
func EvaluateAll(conditions []models.Condition, vars map[string]any) bool {
	for _, condition := range conditions {
		matched, _ := Evaluate(condition, vars)
		if !matched {
			return false
		}
	}

	return true
}

// equal compares numerically when both sides are numbers, otherwise by
// their rendered text.
func equal(actual, expected any) bool {
	left, okLeft := toFloat(actual)
	right, okRight := toFloat(expected)

	if okLeft && okRight {
		return left == right
	}

	return template.Stringify(actual) == template.Stringify(expected)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}
