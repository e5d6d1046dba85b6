package persistence

import (
	"time"

	"github.com/asaidimu/go-loom/core/schema"
)

func createEvent(
	eventType EventType,
	operation string,
	collectionName string,
	input any,
	output any,
	query any,
	err *string,
	issues []Message,
	startTime time.Time,
) Event {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	var collectionNamePtr *string
	if collectionName != "" {
		collectionNamePtr = &collectionName
	}

	return Event{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Operation:  operation,
		Collection: collectionNamePtr,
		Input:      input,
		Output:     output,
		Error:      err,
		Issues:     issues,
		Query:      query,
		Duration:   duration,
	}
}

// canonicalIDs returns a copy of a find document with every _id operand
// rewritten to the canonical identifier string. Operands that do not parse
// as identifiers are left as they are.
func canonicalIDs(find map[string]any) map[string]any {
	if find == nil {
		return nil
	}
	out := make(map[string]any, len(find))
	for key, value := range find {
		switch key {
		case "_id":
			out[key] = canonicalIDOperand(value)
		case "$and", "$or", "$nor":
			out[key] = canonicalList(value)
		default:
			out[key] = value
		}
	}
	return out
}

func canonicalList(value any) any {
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case []map[string]any:
		items = make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
	default:
		return value
	}
	out := make([]any, len(items))
	for i, item := range items {
		if m, ok := item.(map[string]any); ok {
			out[i] = canonicalIDs(m)
			continue
		}
		out[i] = item
	}
	return out
}

func canonicalIDOperand(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return canonicalID(value)
	}
	if _, isRef := m["$ref"]; isRef {
		return value
	}
	if _, hasID := m["$id"]; hasID {
		return canonicalID(value)
	}
	out := make(map[string]any, len(m))
	for op, arg := range m {
		switch op {
		case "$in", "$nin":
			out[op] = canonicalIDList(arg)
		case "$eq", "$ne":
			out[op] = canonicalID(arg)
		case "$not":
			out[op] = canonicalIDOperand(arg)
		default:
			out[op] = arg
		}
	}
	return out
}

func canonicalIDList(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = canonicalID(e)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = canonicalID(e)
		}
		return out
	}
	return value
}

func canonicalID(v any) any {
	if id, ok := schema.ParseID(v); ok {
		return id.String()
	}
	return v
}

func idFilter(ids []string) map[string]any {
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	return map[string]any{"_id": map[string]any{"$in": list}}
}
