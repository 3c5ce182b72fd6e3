package rules

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// compare applies a known operator to a fact value and the leaf's expected value.
func compare(op Operator, actual, expected any) bool {
	switch op {
	case OpEq:
		return equalNormalized(actual, expected)
	case OpNeq:
		return !equalNormalized(actual, expected)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumeric(op, actual, expected)
	case OpIn:
		return memberOf(actual, expected)
	case OpNin:
		return !memberOf(actual, expected)
	case OpContains:
		return contains(actual, expected)
	case OpExists:
		return exists(actual)
	default:
		return true
	}
}

// normalize lowercases and trims strings and widens every number to float64.
func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(val))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return strings.ToLower(val.String())
	}
	if f, ok := numericValue(v); ok {
		return f
	}
	return v
}

func equalNormalized(a, b any) bool {
	na, nb := normalize(a), normalize(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	if isScalar(na) && isScalar(nb) {
		return na == nb
	}
	return reflect.DeepEqual(na, nb)
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, float64, bool:
		return true
	}
	return false
}

func compareNumeric(op Operator, actual, expected any) bool {
	a, ok := toNumber(actual)
	if !ok {
		return false
	}
	e, ok := toNumber(expected)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return a > e
	case OpGte:
		return a >= e
	case OpLt:
		return a < e
	case OpLte:
		return a <= e
	}
	return false
}

// numericValue widens Go numeric kinds to float64.
func numericValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// toNumber coerces numbers, numeric strings and booleans.
func toNumber(v any) (float64, bool) {
	if f, ok := numericValue(v); ok {
		return f, true
	}
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// asSlice returns the elements of any slice or array value.
func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func memberOf(actual, expected any) bool {
	items, ok := asSlice(expected)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalNormalized(actual, item) {
			return true
		}
	}
	return false
}

func contains(actual, expected any) bool {
	if items, ok := asSlice(actual); ok {
		return memberOf(expected, items)
	}
	s, ok := actual.(string)
	if !ok {
		return false
	}
	needle, ok := toText(expected)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(needle))
}

func toText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case nil:
		return "", false
	}
	if f, ok := numericValue(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	if b, ok := v.(bool); ok {
		return strconv.FormatBool(b), true
	}
	return fmt.Sprint(v), true
}

func exists(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
