package alerts

import (
	"strconv"
	"strings"

	"github.com/trusttag/trusttag/internal/store"
	"github.com/trusttag/trusttag/internal/verdict"
)

// evalCondition evaluates a rule condition string against a package record.
//
// Supported expressions (field operator value):
//
//	status == TAMPERED
//	status == SECURE
//	drift > 3000
//	current_res > 60000
//	origin_res < 100
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, pkg *store.Package) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "status" {
		if op == "==" {
			return string(pkg.Status) == rhs, 0
		}
		if op == "!=" {
			return string(pkg.Status) != rhs, 0
		}
		return false, 0
	}

	v, ok := numericField(field, pkg)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value on the package record.
func numericField(field string, pkg *store.Package) (float64, bool) {
	switch field {
	case "drift":
		return float64(verdict.Drift(pkg.OriginRes, pkg.CurrentRes)), true
	case "current_res":
		return float64(pkg.CurrentRes), true
	case "origin_res":
		return float64(pkg.OriginRes), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
