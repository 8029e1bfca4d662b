package filter

import (
	"fmt"
	"strings"
	"time"
)

// Equal compares two values for equality.
// Handles type coercion for numeric types and times.
func Equal(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av == bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return av == bv
		}
	case time.Time:
		if bt, ok := toTime(b); ok {
			return av.Equal(bt)
		}
		return false
	}

	if bt, ok := b.(time.Time); ok {
		at, ok := toTime(a)
		return ok && at.Equal(bt)
	}

	aNum, aOk := toFloat64(a)
	bNum, bOk := toFloat64(b)
	if aOk && bOk {
		return aNum == bNum
	}

	return false
}

// Compare compares two values.
// Returns -1 if a < b, 0 if a == b, 1 if a > b, and ok=false if not comparable.
// Strings compare lexicographically, times chronologically and numbers
// numerically across Go numeric types.
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	if aStr, ok := a.(string); ok {
		if bStr, ok := b.(string); ok {
			return strings.Compare(aStr, bStr), true
		}
		if _, ok := b.(time.Time); !ok {
			return 0, false
		}
	}

	_, aIsTime := a.(time.Time)
	_, bIsTime := b.(time.Time)
	if aIsTime || bIsTime {
		aTime, aOk := toTime(a)
		bTime, bOk := toTime(b)
		if !aOk || !bOk {
			return 0, false
		}
		switch {
		case aTime.Before(bTime):
			return -1, true
		case aTime.After(bTime):
			return 1, true
		}
		return 0, true
	}

	aNum, aOk := toFloat64(a)
	bNum, bOk := toFloat64(b)
	if aOk && bOk {
		switch {
		case aNum < bNum:
			return -1, true
		case aNum > bNum:
			return 1, true
		}
		return 0, true
	}

	// Bool comparison (false < true)
	if aBool, ok := a.(bool); ok {
		if bBool, ok := b.(bool); ok {
			switch {
			case aBool == bBool:
				return 0, true
			case !aBool:
				return -1, true
			}
			return 1, true
		}
	}

	return 0, false
}

// Order is a total order over values used to lay out index keys:
// null < bool < number/time < string < anything else. Within a class it
// agrees with Compare.
func Order(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if ra == rankOther {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	if cmp, ok := Compare(a, b); ok {
		return cmp
	}
	return 0
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case string:
		return rankString
	case time.Time:
		return rankNumber
	}
	if _, ok := toFloat64(v); ok {
		return rankNumber
	}
	return rankOther
}

// toTime converts a value to a time. Numbers are epoch milliseconds,
// strings are RFC3339.
func toTime(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, tv)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	if ms, ok := toFloat64(v); ok {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

// ToFloat64 converts a numeric value to float64.
func ToFloat64(v any) (float64, bool) {
	return toFloat64(v)
}

// toFloat64 converts a value to float64 if possible.
func toFloat64(v any) (float64, bool) {
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

// toSlice converts a value to a slice if possible.
func toSlice(v any) []any {
	if v == nil {
		return nil
	}

	switch arr := v.(type) {
	case []any:
		return arr
	case []string:
		result := make([]any, len(arr))
		for i, s := range arr {
			result[i] = s
		}
		return result
	case []int:
		result := make([]any, len(arr))
		for i, n := range arr {
			result[i] = n
		}
		return result
	case []int64:
		result := make([]any, len(arr))
		for i, n := range arr {
			result[i] = n
		}
		return result
	case []float64:
		result := make([]any, len(arr))
		for i, n := range arr {
			result[i] = n
		}
		return result
	case []bool:
		result := make([]any, len(arr))
		for i, b := range arr {
			result[i] = b
		}
		return result
	default:
		return nil
	}
}

// IsScalar reports whether the value can be placed on an ordered index.
func IsScalar(v any) bool {
	switch rank(v) {
	case rankBool, rankNumber, rankString:
		return true
	}
	return false
}
