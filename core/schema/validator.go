package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationError is the first failure found while validating a document.
// Description is the human readable message reported to callers.
type ValidationError struct {
	Path        string
	Description string
}

func (e *ValidationError) Error() string {
	return e.Description
}

func fail(path, format string, args ...any) error {
	return &ValidationError{Path: path, Description: fmt.Sprintf(format, args...)}
}

// Target is a collection that references can point at.
type Target interface {
	Collection() string
	Database() string
	Exists(ctx context.Context, id ID) (bool, error)
}

// Env gives the validator access to the store. Taken reports whether another
// document of the owning collection (any document but exclude) already holds
// value at path. Target looks a schema up by name.
type Env interface {
	Taken(ctx context.Context, path string, value any, exclude ID) (bool, error)
	Target(ctx context.Context, scheme string) (Target, bool)
}

// Validator checks documents against one definition.
type Validator struct {
	def *Definition
	env Env
}

// NewValidator returns a validator for def. env may be nil when the
// definition has no unique or reference fields.
func NewValidator(def *Definition, env Env) *Validator {
	return &Validator{def: def, env: env}
}

// Validate checks doc and returns a normalized copy: defaults applied, dates
// coerced to time.Time and reference values rewritten to pointers. The input
// is left untouched. current is the id of the document being edited, or Nil
// for a new one.
//
// A failed check is returned as *ValidationError. Any other error comes from
// the Env and means the check could not be made.
func (v *Validator) Validate(ctx context.Context, doc Document, current ID) (Document, error) {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}

	if raw, ok := out["_id"]; ok {
		id, valid := ParseID(raw)
		if !valid {
			return nil, fail("_id", "Invalid id, path: _id")
		}
		out["_id"] = id.String()
		if current.IsNil() {
			current = id
		}
	}

	w := &walker{env: v.env, exclude: current, strict: v.def.Strict}
	if err := w.tree(ctx, out, v.def.Fields, "", true); err != nil {
		return nil, err
	}
	return out, nil
}

type walker struct {
	env     Env
	exclude ID
	strict  bool
}

func (w *walker) tree(ctx context.Context, doc map[string]any, t *Tree, prefix string, root bool) error {
	if t == nil {
		return nil
	}

	if w.strict {
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if root && k == "_id" {
				continue
			}
			if _, ok := t.Lookup(k); !ok {
				p := joinPath(prefix, k)
				return fail(p, "Field not in scheme, path: %s", p)
			}
		}
	}

	for _, f := range t.Fields {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := joinPath(prefix, f.Name)
		base := f.Descriptor.Common()

		val, present := doc[f.Name]
		if !present && base.Default != nil {
			val = CloneValue(base.Default)
			doc[f.Name] = val
			present = true
		}
		if !present {
			if base.Required {
				return fail(p, "missing field %s", p)
			}
			continue
		}
		if val == nil {
			continue
		}

		normalized, err := w.field(ctx, val, f.Descriptor, p)
		if err != nil {
			return err
		}
		doc[f.Name] = normalized
	}

	if len(t.RequiredOneOf) > 0 {
		satisfied := false
		for _, name := range t.RequiredOneOf {
			if Filled(doc[name]) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return fail(prefix, "One of the required fields is not filled: %s", strings.Join(t.RequiredOneOf, ","))
		}
	}
	return nil
}

func (w *walker) field(ctx context.Context, val any, d Descriptor, p string) (any, error) {
	switch desc := d.(type) {
	case *Scalar:
		return w.scalar(ctx, val, desc, p)
	case *Reference:
		ref, err := w.reference(ctx, val, desc.Scheme, p, func(id ID) string {
			return fmt.Sprintf("Scheme %q invalid dbref id, path: %s", desc.Scheme, p)
		}, func(id ID) string {
			return fmt.Sprintf("Dbref %q not found, path: %s", id.String(), p)
		})
		if err != nil {
			return nil, err
		}
		if desc.Unique {
			if err := w.unique(ctx, p+".$id", ref.ID.String(), p, "Dbref value not unique %q, path: %s"); err != nil {
				return nil, err
			}
		}
		return ref.ToMap(), nil
	case *Object:
		m, ok := asMap(val)
		if !ok {
			return nil, fail(p, "Object field not object, path: %s", p)
		}
		if err := w.tree(ctx, m, desc.Fields, p, false); err != nil {
			return nil, err
		}
		return m, nil
	case *Container:
		if m, ok := asMap(val); ok {
			if err := w.tree(ctx, m, desc.Fields, p, false); err != nil {
				return nil, err
			}
			return m, nil
		}
		return val, nil
	case *Array:
		return w.array(ctx, val, desc, p)
	}
	return val, nil
}

func (w *walker) scalar(ctx context.Context, val any, d *Scalar, p string) (any, error) {
	switch d.Type {
	case KindBoolean:
		if _, ok := val.(bool); !ok {
			return nil, fail(p, "Boolean field not boolean, path: %s", p)
		}
	case KindDate:
		t, ok := AsDate(val)
		if !ok {
			return nil, fail(p, "Date field not date, path: %s", p)
		}
		return t, nil
	case KindString:
		s, ok := val.(string)
		if !ok {
			return nil, fail(p, "String field not string, path: %s", p)
		}
		n := float64(utf8.RuneCountInString(s))
		if d.Min.Below(n) {
			return nil, fail(p, "String field < %s chars length, path: %s", d.Min, p)
		}
		if d.Max.Above(n) {
			return nil, fail(p, "String field > %s chars length, path: %s", d.Max, p)
		}
		if d.Unique {
			if err := w.unique(ctx, p, s, p, "String value not unique %q, path: %s"); err != nil {
				return nil, err
			}
		}
	case KindNumber:
		f, ok := toFloat(val)
		if !ok {
			return nil, fail(p, "Number field not number, path: %s", p)
		}
		if d.Min.Below(f) {
			return nil, fail(p, "Number field < %s, path: %s", d.Min, p)
		}
		if d.Max.Above(f) {
			return nil, fail(p, "Number field > %s, path: %s", d.Max, p)
		}
		if d.Unique {
			if err := w.unique(ctx, p, val, p, "Number value not unique \"%v\", path: %s"); err != nil {
				return nil, err
			}
		}
	}
	return val, nil
}

func (w *walker) array(ctx context.Context, val any, d *Array, p string) (any, error) {
	list, ok := asList(val)
	if !ok || len(list) == 0 {
		return nil, fail(p, "Array field not array, path: %s", p)
	}

	n := float64(len(list))
	if d.LengthMin.Below(n) {
		return nil, fail(p, "Array length < %s, path: %s", d.LengthMin, p)
	}
	if d.LengthMax.Above(n) {
		return nil, fail(p, "Array length > %s, path: %s", d.LengthMax, p)
	}

	element := d.Element
	if element == KindNone && d.Fields != nil {
		element = KindObject
	}

	for i, el := range list {
		switch element {
		case KindBoolean:
			if _, ok := el.(bool); !ok {
				return nil, fail(p, "Boolean field \"%v\" not boolean, path: %s", el, p)
			}
		case KindDate:
			t, ok := AsDate(el)
			if !ok {
				return nil, fail(p, "Date field \"%v\" not date, path: %s", el, p)
			}
			list[i] = t
		case KindString:
			s, ok := el.(string)
			if !ok {
				return nil, fail(p, "String field \"%v\" not string, path: %s", el, p)
			}
			n := float64(utf8.RuneCountInString(s))
			if d.Min.Below(n) {
				return nil, fail(p, "String field %q < %s chars length, path: %s", s, d.Min, p)
			}
			if d.Max.Above(n) {
				return nil, fail(p, "String field %q > %s chars length, path: %s", s, d.Max, p)
			}
		case KindNumber:
			f, ok := toFloat(el)
			if !ok {
				return nil, fail(p, "Number field \"%v\" not number, path: %s", el, p)
			}
			if d.Min.Below(f) {
				return nil, fail(p, "Number field \"%v\" < %s, path: %s", el, d.Min, p)
			}
			if d.Max.Above(f) {
				return nil, fail(p, "Number field \"%v\" > %s, path: %s", el, d.Max, p)
			}
		case KindObject:
			m, ok := asMap(el)
			if !ok {
				return nil, fail(p, "Object field \"%v\" not object, path: %s", el, p)
			}
			if err := w.tree(ctx, m, d.Fields, p, false); err != nil {
				return nil, err
			}
			list[i] = m
		case KindArray:
			inner, ok := asList(el)
			if !ok || len(inner) == 0 {
				return nil, fail(p, "Array field \"%v\" not array, path: %s", el, p)
			}
		case KindReference:
			raw := el
			ref, err := w.reference(ctx, el, d.Scheme, p, func(ID) string {
				return fmt.Sprintf("Array field \"%v\" invalid dbref id, path: %s", raw, p)
			}, func(id ID) string {
				return fmt.Sprintf("Dbref %q not found, path: %s", id.String(), p)
			})
			if err != nil {
				return nil, err
			}
			list[i] = ref.ToMap()
		}
	}
	return list, nil
}

// reference resolves a loose id into a pointer to a document of scheme.
func (w *walker) reference(ctx context.Context, val any, scheme, p string, invalidID, notFound func(ID) string) (Ref, error) {
	id, ok := ParseID(val)
	if !ok {
		return Ref{}, &ValidationError{Path: p, Description: invalidID(Nil)}
	}
	if w.env == nil {
		return Ref{}, fail(p, "Scheme %q not found, path: %s", scheme, p)
	}
	target, ok := w.env.Target(ctx, scheme)
	if !ok {
		return Ref{}, fail(p, "Scheme %q not found, path: %s", scheme, p)
	}
	exists, err := target.Exists(ctx, id)
	if err != nil {
		return Ref{}, fmt.Errorf("lookup %s in %s: %w", id, scheme, err)
	}
	if !exists {
		return Ref{}, &ValidationError{Path: p, Description: notFound(id)}
	}
	return Ref{Collection: target.Collection(), ID: id, DB: target.Database()}, nil
}

func (w *walker) unique(ctx context.Context, probePath string, value any, p, format string) error {
	if w.env == nil {
		return nil
	}
	taken, err := w.env.Taken(ctx, probePath, value, w.exclude)
	if err != nil {
		return fmt.Errorf("unique probe %s: %w", probePath, err)
	}
	if taken {
		return fail(p, format, value, p)
	}
	return nil
}

// Filled reports whether a value counts as present for requiredOneOf: nil, an
// empty string and an empty list or map are not filled; false and 0 are.
func Filled(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return true
}

// AsDate accepts a time.Time or an RFC 3339 string.
func AsDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return *val, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func asMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case Document:
		return map[string]any(val), true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string, []map[string]any:
		return CloneValue(val).([]any), true
	case []int:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

// toFloat converts Go numeric values. Strings are not numbers here.
func toFloat(v any) (float64, bool) {
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
	}
	return 0, false
}
