package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Float converts a scalar property value to float64. Numeric strings such as
// "75" or " 12.5 " convert; booleans and other types do not.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String renders a scalar property value the way it appears in messages and tags.
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// Equal compares two scalars, numerically when both convert to numbers and
// by rendered text otherwise.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := Float(a); ok {
		if fb, ok := Float(b); ok {
			return fa == fb
		}
	}
	return String(a) == String(b)
}
