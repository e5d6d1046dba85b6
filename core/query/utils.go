// Package query provides a set of utility functions to support the query builder
// and processor. These helpers walk dotted paths and compare loosely typed
// document values.
package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asaidimu/go-loom/core/schema"
	"github.com/google/uuid"
)

// StringPtr is a helper function that returns a pointer to a string.
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr is a helper function that returns a pointer to an int64.
func Int64Ptr(i int64) *int64 {
	return &i
}

// BoolPtr is a helper function that returns a pointer to a bool.
func BoolPtr(b bool) *bool {
	return &b
}

// ToFloat64 is a utility function that converts a value of various numeric types
// to a float64. It returns the converted float64 and a boolean indicating whether
// the conversion was successful. Numeric strings are accepted.
func ToFloat64(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return number(v)
}

// number converts Go numeric types only.
func number(v any) (float64, bool) {
	switch val := v.(type) {
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
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Normalize converts typed values into the plain shapes documents are stored
// in: ids become strings, pointers become maps, numbers become float64.
func Normalize(v any) any {
	switch val := v.(type) {
	case schema.ID:
		return val.String()
	case uuid.UUID:
		return val.String()
	case schema.Ref:
		return val.ToMap()
	case schema.Document:
		return Normalize(map[string]any(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	case []schema.ID:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e.String()
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Normalize(e)
		}
		return out
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	}
	if f, ok := number(v); ok {
		return f
	}
	return v
}

// Resolve returns every value reachable at a dotted path. Arrays met along
// the way are traversed element by element, and an array at the end of the
// path contributes both itself and its elements. The boolean reports whether
// the path exists at all.
func Resolve(doc map[string]any, path string) ([]any, bool) {
	var out []any
	found := false
	resolve(doc, strings.Split(path, "."), &out, &found)
	return out, found
}

func resolve(v any, parts []string, out *[]any, found *bool) {
	if len(parts) == 0 {
		*found = true
		*out = append(*out, v)
		if list, ok := asList(v); ok {
			*out = append(*out, list...)
		}
		return
	}

	switch val := v.(type) {
	case map[string]any:
		if child, ok := val[parts[0]]; ok {
			resolve(child, parts[1:], out, found)
		}
	case schema.Document:
		resolve(map[string]any(val), parts, out, found)
	default:
		list, ok := asList(v)
		if !ok {
			return
		}
		if idx, err := strconv.Atoi(parts[0]); err == nil {
			if idx >= 0 && idx < len(list) {
				resolve(list[idx], parts[1:], out, found)
			}
			return
		}
		for _, el := range list {
			switch el.(type) {
			case map[string]any, schema.Document:
				resolve(el, parts, out, found)
			}
		}
	}
}

// GetPath returns the single value at a dotted path without fanning out over
// arrays. Numeric segments index into arrays.
func GetPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		switch val := cur.(type) {
		case map[string]any:
			next, ok := val[part]
			if !ok {
				return nil, false
			}
			cur = next
		case schema.Document:
			next, ok := val[part]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			list, ok := asList(cur)
			if !ok {
				return nil, false
			}
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(list) {
				return nil, false
			}
			cur = list[idx]
		}
	}
	return cur, true
}

// SetPath assigns value at a dotted path, creating intermediate maps.
func SetPath(doc map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next == nil {
			child := map[string]any{}
			cur[part] = child
			cur = child
			continue
		}
		switch val := next.(type) {
		case map[string]any:
			cur = val
		case schema.Document:
			cur = val
		default:
			list, isList := asList(next)
			idx, err := strconv.Atoi(parts[i+1])
			if !isList || err != nil {
				return fmt.Errorf("cannot set %q: %q is not an object", path, strings.Join(parts[:i+1], "."))
			}
			if idx < 0 || idx >= len(list) {
				return fmt.Errorf("cannot set %q: index %d out of range", path, idx)
			}
			rest := strings.Join(parts[i+2:], ".")
			if rest == "" {
				list[idx] = value
				cur[part] = list
				return nil
			}
			elem, isMap := list[idx].(map[string]any)
			if !isMap {
				return fmt.Errorf("cannot set %q: element %d is not an object", path, idx)
			}
			cur[part] = list
			return SetPath(elem, rest, value)
		}
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

// UnsetPath removes the value at a dotted path, if present.
func UnsetPath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string, []map[string]any, []schema.ID:
		return Normalize(val).([]any), true
	}
	return nil, false
}

// Equal compares two document values. Numbers compare by value regardless of
// their Go type, ids compare by their string form and times by instant.
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	switch av := a.(type) {
	case nil:
		return b == nil
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		switch bv := b.(type) {
		case string:
			return av == bv
		case time.Time:
			t, ok := schema.AsDate(av)
			return ok && t.Equal(bv)
		}
		return false
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return av.Equal(bv)
		case string:
			t, ok := schema.AsDate(bv)
			return ok && t.Equal(av)
		}
		return false
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, e := range av {
			other, present := bv[k]
			if !present || !Equal(e, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// rank orders values of different types: null, numbers, strings, objects,
// arrays, booleans, dates.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case map[string]any:
		return 3
	case []any:
		return 4
	case bool:
		return 5
	case time.Time:
		return 6
	}
	return 7
}

// Compare orders two values. The boolean is false when the values are of
// kinds that cannot be ordered against each other (a range filter never
// matches across kinds).
func Compare(a, b any) (int, bool) {
	a, b = Normalize(a), Normalize(b)

	if at, ok := a.(time.Time); ok {
		if s, isString := b.(string); isString {
			if bt, parsed := schema.AsDate(s); parsed {
				return compareTimes(at, bt), true
			}
		}
	}
	if bt, ok := b.(time.Time); ok {
		if s, isString := a.(string); isString {
			if at, parsed := schema.AsDate(s); parsed {
				return compareTimes(at, bt), true
			}
		}
	}

	ra, rb := rank(a), rank(b)
	if ra != rb {
		return 0, false
	}

	switch av := a.(type) {
	case nil:
		return 0, true
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		return strings.Compare(av, b.(string)), true
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case time.Time:
		return compareTimes(av, b.(time.Time)), true
	}
	if Equal(a, b) {
		return 0, true
	}
	return 0, false
}

// SortCompare orders any two values for sorting, falling back to the type
// rank when the values cannot be compared directly.
func SortCompare(a, b any) int {
	if c, ok := Compare(a, b); ok {
		return c
	}
	ra, rb := rank(Normalize(a)), rank(Normalize(b))
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
