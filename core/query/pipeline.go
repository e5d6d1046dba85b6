package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-loom/core/schema"
)

// ErrInvalidPipeline is wrapped by every error returned for a malformed
// aggregation stage.
var ErrInvalidPipeline = errors.New("query: invalid pipeline")

func invalidStage(i int, format string, args ...any) error {
	return fmt.Errorf("%w: stage %d: %s", ErrInvalidPipeline, i, fmt.Sprintf(format, args...))
}

// Aggregate runs an aggregation pipeline over rows. Each stage is a map with
// a single operator key:
//
//	$match   filter document
//	$sort    {field: 1 | -1}, keys applied in lexical order
//	$skip    n
//	$limit   n
//	$project {field: 1 | 0}
//	$unwind  "$path" or {"path": "$path", "preserveNullAndEmptyArrays": bool}
//	$group   {"_id": expr, name: {$sum|$avg|$min|$max|$push|$first|$last|$count: expr}}
//	$count   "name"
//
// Expressions are either literals or "$path" references. Rows are not
// modified.
func (p *DataProcessor) Aggregate(rows []schema.Document, stages []map[string]any) ([]schema.Document, error) {
	out := make([]schema.Document, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}

	for i, stage := range stages {
		if len(stage) != 1 {
			return nil, invalidStage(i, "a stage holds exactly one operator")
		}
		for op, arg := range stage {
			var err error
			out, err = p.runStage(i, op, arg, out)
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (p *DataProcessor) runStage(i int, op string, arg any, rows []schema.Document) ([]schema.Document, error) {
	switch op {
	case "$match":
		m, ok := asFilterMap(arg)
		if !ok {
			return nil, invalidStage(i, "$match expects an object")
		}
		filter, err := ParseFilter(m)
		if err != nil {
			return nil, err
		}
		return p.Filter(rows, filter)
	case "$sort":
		m, ok := asFilterMap(arg)
		if !ok || len(m) == 0 {
			return nil, invalidStage(i, "$sort expects a non-empty object")
		}
		keys := make([]SortConfiguration, 0, len(m))
		for _, field := range sortedKeys(m) {
			dir, ok := number(m[field])
			if !ok || (dir != 1 && dir != -1) {
				return nil, invalidStage(i, "$sort direction for %q must be 1 or -1", field)
			}
			key := SortConfiguration{Field: field, Direction: SortDirectionAsc}
			if dir < 0 {
				key.Direction = SortDirectionDesc
			}
			keys = append(keys, key)
		}
		Sort(rows, keys)
		return rows, nil
	case "$skip", "$limit":
		n, ok := number(arg)
		if !ok || n < 0 || n != float64(int(n)) {
			return nil, invalidStage(i, "%s expects a non-negative integer", op)
		}
		if op == "$skip" {
			return Window(rows, int(n), 0), nil
		}
		if n == 0 {
			return nil, invalidStage(i, "$limit must be positive")
		}
		return Window(rows, 0, int(n)), nil
	case "$project":
		m, ok := asFilterMap(arg)
		if !ok || len(m) == 0 {
			return nil, invalidStage(i, "$project expects a non-empty object")
		}
		return project(i, rows, m)
	case "$unwind":
		return unwind(i, rows, arg)
	case "$group":
		m, ok := asFilterMap(arg)
		if !ok {
			return nil, invalidStage(i, "$group expects an object")
		}
		return group(i, rows, m)
	case "$count":
		name, ok := arg.(string)
		if !ok || name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
			return nil, invalidStage(i, "$count expects a field name")
		}
		if len(rows) == 0 {
			return []schema.Document{}, nil
		}
		return []schema.Document{{name: float64(len(rows))}}, nil
	}
	return nil, invalidStage(i, "unknown stage %q", op)
}

func project(i int, rows []schema.Document, spec map[string]any) ([]schema.Document, error) {
	projection := &ProjectionConfiguration{}
	for _, field := range sortedKeys(spec) {
		keep, ok := truthy(spec[field])
		if !ok {
			return nil, invalidStage(i, "$project value for %q must be 0 or 1", field)
		}
		if keep {
			projection.Include = append(projection.Include, ProjectionField{Name: field})
		} else {
			projection.Exclude = append(projection.Exclude, ProjectionField{Name: field})
		}
	}
	if len(projection.Include) > 0 {
		for _, f := range projection.Exclude {
			if f.Name != "_id" {
				return nil, invalidStage(i, "$project cannot mix inclusion and exclusion")
			}
		}
	}
	return applyFinalProjection(rows, projection), nil
}

func truthy(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	n, ok := number(v)
	if !ok {
		return false, false
	}
	return n != 0, true
}

func unwind(i int, rows []schema.Document, arg any) ([]schema.Document, error) {
	var (
		path     string
		preserve bool
	)
	switch a := arg.(type) {
	case string:
		path = a
	default:
		m, ok := asFilterMap(arg)
		if !ok {
			return nil, invalidStage(i, "$unwind expects a path")
		}
		path, _ = m["path"].(string)
		preserve, _ = m["preserveNullAndEmptyArrays"].(bool)
	}
	if !strings.HasPrefix(path, "$") || len(path) < 2 {
		return nil, invalidStage(i, "$unwind path must start with $")
	}
	path = path[1:]

	out := make([]schema.Document, 0, len(rows))
	for _, row := range rows {
		value, ok := GetPath(row, path)
		list, isList := asList(value)
		switch {
		case ok && isList && len(list) > 0:
			for _, el := range list {
				copied := row.Clone()
				if err := SetPath(copied, path, schema.CloneValue(el)); err != nil {
					return nil, invalidStage(i, "%v", err)
				}
				out = append(out, copied)
			}
		case ok && value != nil && !isList:
			out = append(out, row)
		case preserve:
			out = append(out, row)
		}
	}
	return out, nil
}

type accumulator struct {
	name string
	op   string
	expr any
}

func group(i int, rows []schema.Document, spec map[string]any) ([]schema.Document, error) {
	key, hasKey := spec["_id"]
	if !hasKey {
		return nil, invalidStage(i, "$group requires an _id expression")
	}

	var accs []accumulator
	for _, name := range sortedKeys(spec) {
		if name == "_id" {
			continue
		}
		m, ok := asFilterMap(spec[name])
		if !ok || len(m) != 1 {
			return nil, invalidStage(i, "$group field %q needs a single accumulator", name)
		}
		for op, expr := range m {
			switch op {
			case "$sum", "$avg", "$min", "$max", "$push", "$first", "$last", "$count":
			default:
				return nil, invalidStage(i, "unknown accumulator %q", op)
			}
			accs = append(accs, accumulator{name: name, op: op, expr: expr})
		}
	}

	type bucket struct {
		key  any
		rows []schema.Document
	}
	var buckets []*bucket
	for _, row := range rows {
		k := evalExpr(row, key)
		var target *bucket
		for _, b := range buckets {
			if Equal(b.key, k) {
				target = b
				break
			}
		}
		if target == nil {
			target = &bucket{key: k}
			buckets = append(buckets, target)
		}
		target.rows = append(target.rows, row)
	}

	out := make([]schema.Document, 0, len(buckets))
	for _, b := range buckets {
		doc := schema.Document{"_id": b.key}
		for _, acc := range accs {
			doc[acc.name] = accumulate(acc, b.rows)
		}
		out = append(out, doc)
	}
	return out, nil
}

func accumulate(acc accumulator, rows []schema.Document) any {
	switch acc.op {
	case "$count":
		return float64(len(rows))
	case "$first":
		return evalExpr(rows[0], acc.expr)
	case "$last":
		return evalExpr(rows[len(rows)-1], acc.expr)
	case "$push":
		out := make([]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, evalExpr(row, acc.expr))
		}
		return out
	case "$sum", "$avg":
		var sum float64
		var n int
		for _, row := range rows {
			if f, ok := number(evalExpr(row, acc.expr)); ok {
				sum += f
				n++
			}
		}
		if acc.op == "$sum" {
			return sum
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	case "$min", "$max":
		var best any
		for _, row := range rows {
			v := evalExpr(row, acc.expr)
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := SortCompare(v, best)
			if (acc.op == "$min" && c < 0) || (acc.op == "$max" && c > 0) {
				best = v
			}
		}
		return best
	}
	return nil
}

// evalExpr resolves "$path" references against row. Other values are
// returned as literals; maps are evaluated key by key.
func evalExpr(row schema.Document, expr any) any {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") && len(e) > 1 {
			v, _ := GetPath(row, e[1:])
			return v
		}
		return e
	case map[string]any:
		out := make(map[string]any, len(e))
		for k, v := range e {
			out[k] = evalExpr(row, v)
		}
		return out
	}
	return Normalize(expr)
}
