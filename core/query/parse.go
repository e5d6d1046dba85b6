package query

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidFilter is wrapped by every error ParseFilter returns.
var ErrInvalidFilter = errors.New("query: invalid filter")

func invalidFilter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFilter, fmt.Sprintf(format, args...))
}

// ParseFilter converts a Mongo-style filter document into a QueryFilter.
//
//	{"code": 7}                          equality
//	{"code": {"$gte": 1, "$lt": 10}}     operator map, conditions ANDed
//	{"$or": [{"a": 1}, {"b": 2}]}        logical groups ($and, $or, $nor)
//	{"code": {"$not": {"$gt": 5}}}       negation of an operator map
//
// Keys beginning with "$" inside a value are operators, except for maps that
// carry a "$ref" key, which are compared as literal pointers. A nil or empty
// map yields an empty filter that matches every document.
func ParseFilter(doc map[string]any) (*QueryFilter, error) {
	if len(doc) == 0 {
		return &QueryFilter{}, nil
	}

	var parts []QueryFilter
	for _, key := range sortedKeys(doc) {
		value := doc[key]
		switch key {
		case "$and", "$or", "$nor":
			group, err := parseLogical(key, value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, group)
		case "$not":
			m, ok := asFilterMap(value)
			if !ok {
				return nil, invalidFilter("$not expects an object")
			}
			inner, err := ParseFilter(m)
			if err != nil {
				return nil, err
			}
			parts = append(parts, negate(*inner))
		default:
			if strings.HasPrefix(key, "$") {
				return nil, invalidFilter("unknown top level operator %q", key)
			}
			field, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, field...)
		}
	}
	return combine(parts), nil
}

// MustParseFilter is like ParseFilter but panics on error. It is intended
// for filters written as literals in code.
func MustParseFilter(doc map[string]any) *QueryFilter {
	f, err := ParseFilter(doc)
	if err != nil {
		panic(err)
	}
	return f
}

func parseLogical(op string, value any) (QueryFilter, error) {
	list, ok := asList(value)
	if !ok || len(list) == 0 {
		return QueryFilter{}, invalidFilter("%s expects a non-empty array", op)
	}
	conditions := make([]QueryFilter, 0, len(list))
	for i, item := range list {
		m, ok := asFilterMap(item)
		if !ok {
			return QueryFilter{}, invalidFilter("%s element %d is not an object", op, i)
		}
		sub, err := ParseFilter(m)
		if err != nil {
			return QueryFilter{}, err
		}
		conditions = append(conditions, *sub)
	}

	operator := LogicalOperatorAnd
	switch op {
	case "$or":
		operator = LogicalOperatorOr
	case "$nor":
		operator = LogicalOperatorNor
	}
	return CreateFilterGroup(operator, conditions...), nil
}

func parseField(field string, value any) ([]QueryFilter, error) {
	ops, ok := operatorMap(value)
	if !ok {
		return []QueryFilter{CreateSimpleFilter(field, ComparisonOperatorEq, value)}, nil
	}

	var out []QueryFilter
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		switch op {
		case "$options":
			if _, hasRegex := ops["$regex"]; !hasRegex {
				return nil, invalidFilter("$options without $regex on %q", field)
			}
			continue
		case "$not":
			inner, ok := operatorMap(arg)
			if !ok {
				if re, isRegex := arg.(*regexp.Regexp); isRegex {
					out = append(out, negate(CreateSimpleFilter(field, ComparisonOperatorRegex, re)))
					continue
				}
				return nil, invalidFilter("$not on %q expects an operator object", field)
			}
			sub, err := parseField(field, inner)
			if err != nil {
				return nil, err
			}
			out = append(out, negate(*combine(sub)))
			continue
		}

		cond, err := parseOperator(field, op, arg, ops)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func parseOperator(field, op string, arg any, ops map[string]any) (QueryFilter, error) {
	simple := func(operator ComparisonOperator) (QueryFilter, error) {
		return CreateSimpleFilter(field, operator, arg), nil
	}

	switch op {
	case "$eq":
		return simple(ComparisonOperatorEq)
	case "$ne":
		return simple(ComparisonOperatorNeq)
	case "$gt":
		return simple(ComparisonOperatorGt)
	case "$gte":
		return simple(ComparisonOperatorGte)
	case "$lt":
		return simple(ComparisonOperatorLt)
	case "$lte":
		return simple(ComparisonOperatorLte)
	case "$in", "$nin", "$all":
		list, ok := asList(arg)
		if !ok {
			return QueryFilter{}, invalidFilter("%s on %q expects an array", op, field)
		}
		operator := map[string]ComparisonOperator{
			"$in":  ComparisonOperatorIn,
			"$nin": ComparisonOperatorNin,
			"$all": ComparisonOperatorAll,
		}[op]
		return CreateSimpleFilter(field, operator, list), nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			n, isNumber := number(arg)
			if !isNumber {
				return QueryFilter{}, invalidFilter("$exists on %q expects a boolean", field)
			}
			want = n != 0
		}
		if want {
			return CreateSimpleFilter(field, ComparisonOperatorExists, true), nil
		}
		return CreateSimpleFilter(field, ComparisonOperatorNotExists, true), nil
	case "$regex":
		re, err := compileRegex(arg, ops["$options"])
		if err != nil {
			return QueryFilter{}, invalidFilter("$regex on %q: %v", field, err)
		}
		return CreateSimpleFilter(field, ComparisonOperatorRegex, re), nil
	case "$size":
		n, ok := number(arg)
		if !ok || n < 0 || n != float64(int(n)) {
			return QueryFilter{}, invalidFilter("$size on %q expects a non-negative integer", field)
		}
		return CreateSimpleFilter(field, ComparisonOperatorSize, int(n)), nil
	case "$elemMatch":
		m, ok := asFilterMap(arg)
		if !ok {
			return QueryFilter{}, invalidFilter("$elemMatch on %q expects an object", field)
		}
		var sub *QueryFilter
		if inner, isOps := operatorMap(m); isOps {
			parts, err := parseField("", inner)
			if err != nil {
				return QueryFilter{}, err
			}
			sub = combine(parts)
		} else {
			var err error
			if sub, err = ParseFilter(m); err != nil {
				return QueryFilter{}, err
			}
		}
		return CreateSimpleFilter(field, ComparisonOperatorElemMatch, sub), nil
	case "$contains":
		return simple(ComparisonOperatorContains)
	case "$startsWith":
		return simple(ComparisonOperatorStartsWith)
	case "$endsWith":
		return simple(ComparisonOperatorEndsWith)
	}
	return QueryFilter{}, invalidFilter("unknown operator %q on %q", op, field)
}

func compileRegex(pattern, options any) (*regexp.Regexp, error) {
	if re, ok := pattern.(*regexp.Regexp); ok {
		return re, nil
	}
	s, ok := pattern.(string)
	if !ok {
		return nil, fmt.Errorf("pattern must be a string")
	}
	if opts, ok := options.(string); ok && opts != "" {
		flags := ""
		for _, o := range opts {
			switch o {
			case 'i', 'm', 's':
				flags += string(o)
			default:
				return nil, fmt.Errorf("unsupported option %q", o)
			}
		}
		s = "(?" + flags + ")" + s
	}
	return regexp.Compile(s)
}

// operatorMap reports whether v is a map whose keys are all operators.
func operatorMap(v any) (map[string]any, bool) {
	m, ok := asFilterMap(v)
	if !ok || len(m) == 0 {
		return nil, false
	}
	if _, pointer := m["$ref"]; pointer {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func asFilterMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case interface{ ToMap() map[string]any }:
		return nil, false
	}
	if n, ok := Normalize(v).(map[string]any); ok {
		return n, true
	}
	return nil, false
}

func negate(f QueryFilter) QueryFilter {
	return CreateFilterGroup(LogicalOperatorNot, f)
}

func combine(parts []QueryFilter) *QueryFilter {
	switch len(parts) {
	case 0:
		return &QueryFilter{}
	case 1:
		return &parts[0]
	}
	group := CreateFilterGroup(LogicalOperatorAnd, parts...)
	return &group
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
