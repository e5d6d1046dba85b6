package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-loom/core/schema"
)

// ErrInvalidUpdate is wrapped by every error returned while applying an
// update document.
var ErrInvalidUpdate = errors.New("query: invalid update")

func invalidUpdate(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidUpdate, fmt.Sprintf(format, args...))
}

// IsOperatorUpdate reports whether update is made of update operators
// ($set, $inc, ...) rather than being a replacement document.
func IsOperatorUpdate(update map[string]any) bool {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// ApplyUpdate returns a copy of doc with update applied. An update made only
// of plain keys replaces the document, keeping its _id. Mixing plain keys and
// operators is an error. The boolean reports whether the result differs from
// doc.
func ApplyUpdate(doc schema.Document, update map[string]any) (schema.Document, bool, error) {
	if len(update) == 0 {
		return nil, false, invalidUpdate("empty update")
	}

	if !IsOperatorUpdate(update) {
		out := schema.Document(schema.CloneValue(update).(map[string]any))
		if id, ok := doc["_id"]; ok {
			if newID, present := out["_id"]; present && !Equal(newID, id) {
				return nil, false, invalidUpdate("cannot modify _id")
			}
			out["_id"] = id
		}
		return out, !Equal(map[string]any(doc), map[string]any(out)), nil
	}

	for k := range update {
		if !strings.HasPrefix(k, "$") {
			return nil, false, invalidUpdate("cannot mix field %q with update operators", k)
		}
	}

	out := doc.Clone()
	for _, op := range sortedKeys(update) {
		fields, ok := asFilterMap(update[op])
		if !ok {
			return nil, false, invalidUpdate("%s expects an object", op)
		}
		for _, path := range sortedKeys(fields) {
			if path == "_id" || strings.HasPrefix(path, "_id.") {
				if op == "$set" && Equal(fields[path], doc["_id"]) {
					continue
				}
				return nil, false, invalidUpdate("cannot modify _id")
			}
			if err := applyOperator(out, op, path, fields[path]); err != nil {
				return nil, false, err
			}
		}
	}
	return out, !Equal(map[string]any(doc), map[string]any(out)), nil
}

func applyOperator(doc schema.Document, op, path string, arg any) error {
	current, exists := GetPath(doc, path)

	switch op {
	case "$set":
		return SetPath(doc, path, schema.CloneValue(arg))
	case "$unset":
		UnsetPath(doc, path)
		return nil
	case "$inc":
		delta, ok := number(arg)
		if !ok {
			return invalidUpdate("$inc on %q expects a number", path)
		}
		if !exists || current == nil {
			return SetPath(doc, path, delta)
		}
		base, ok := number(current)
		if !ok {
			return invalidUpdate("$inc on %q: field is not a number", path)
		}
		return SetPath(doc, path, base+delta)
	case "$min", "$max":
		if !exists {
			return SetPath(doc, path, schema.CloneValue(arg))
		}
		c, ok := Compare(arg, current)
		if !ok {
			return invalidUpdate("%s on %q: values are not comparable", op, path)
		}
		if (op == "$min" && c < 0) || (op == "$max" && c > 0) {
			return SetPath(doc, path, schema.CloneValue(arg))
		}
		return nil
	case "$rename":
		target, ok := arg.(string)
		if !ok || target == "" {
			return invalidUpdate("$rename on %q expects a field name", path)
		}
		if !exists {
			return nil
		}
		UnsetPath(doc, path)
		return SetPath(doc, target, current)
	case "$push", "$addToSet":
		list, err := arrayAt(path, current, exists)
		if err != nil {
			return err
		}
		items := []any{schema.CloneValue(arg)}
		if m, isMap := arg.(map[string]any); isMap {
			if each, hasEach := m["$each"]; hasEach {
				eachList, ok := asList(schema.CloneValue(each))
				if !ok {
					return invalidUpdate("%s $each on %q expects an array", op, path)
				}
				items = eachList
			}
		}
		for _, item := range items {
			if op == "$addToSet" && containsAll(list, []any{item}) {
				continue
			}
			list = append(list, item)
		}
		return SetPath(doc, path, list)
	case "$pull":
		list, err := arrayAt(path, current, exists)
		if err != nil {
			return err
		}
		var cond *QueryFilter
		if m, isOps := operatorMap(arg); isOps {
			parts, err := parseField("", m)
			if err != nil {
				return err
			}
			cond = combine(parts)
		} else if m, isMap := arg.(map[string]any); isMap {
			if _, pointer := m["$ref"]; !pointer {
				if cond, err = ParseFilter(m); err != nil {
					return err
				}
			}
		}
		kept := make([]any, 0, len(list))
		for _, el := range list {
			var drop bool
			if cond != nil {
				drop, err = pullProcessor.evaluate(el, cond)
				if err != nil {
					return err
				}
			} else {
				drop = Equal(el, arg)
			}
			if !drop {
				kept = append(kept, el)
			}
		}
		return SetPath(doc, path, kept)
	}
	return invalidUpdate("unknown update operator %q", op)
}

var pullProcessor = NewDataProcessor(nil)

func arrayAt(path string, current any, exists bool) ([]any, error) {
	if !exists || current == nil {
		return []any{}, nil
	}
	list, ok := asList(current)
	if !ok {
		return nil, invalidUpdate("field %q is not an array", path)
	}
	return append([]any(nil), list...), nil
}

// SeedFromFilter builds the starting document for an upsert from the
// equality conditions of a filter: a single condition or the members of a
// top level AND group.
func SeedFromFilter(filter *QueryFilter) schema.Document {
	seed := schema.Document{}
	if filter.IsEmpty() {
		return seed
	}

	conditions := []QueryFilter{*filter}
	if filter.Group != nil {
		if filter.Group.Operator != LogicalOperatorAnd {
			return seed
		}
		conditions = filter.Group.Conditions
	}
	for _, c := range conditions {
		if c.Condition == nil || c.Condition.Operator != ComparisonOperatorEq || c.Condition.Field == "" {
			continue
		}
		_ = SetPath(seed, c.Condition.Field, schema.CloneValue(Normalize(c.Condition.Value)))
	}
	return seed
}
