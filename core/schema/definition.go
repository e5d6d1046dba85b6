// Package schema describes the shape of the documents a collection accepts. A
// Definition is a named, ordered tree of field descriptors built once at
// registration time and walked by the Validator on every write.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LogicalOperator for combining conditions.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and" // All conditions must be true
	LogicalOr  LogicalOperator = "or"  // At least one condition must be true
	LogicalNot LogicalOperator = "not" // Negates a condition or group of conditions
	LogicalNor LogicalOperator = "nor" // None of the conditions must be true
)

// Kind is the declared type of a field.
type Kind string

const (
	KindNone      Kind = ""          // Container node, children are descriptors
	KindBoolean   Kind = "boolean"   // True/false values
	KindDate      Kind = "date"      // time.Time or an RFC 3339 string
	KindString    Kind = "string"    // Text data
	KindNumber    Kind = "number"    // Any Go numeric
	KindObject    Kind = "object"    // Structured data with nested fields
	KindArray     Kind = "array"     // Ordered list of items
	KindReference Kind = "reference" // Pointer into another collection
)

// kindAliases maps accepted spellings onto their canonical Kind.
var kindAliases = map[string]Kind{
	"":          KindNone,
	"boolean":   KindBoolean,
	"bool":      KindBoolean,
	"date":      KindDate,
	"string":    KindString,
	"number":    KindNumber,
	"object":    KindObject,
	"array":     KindArray,
	"reference": KindReference,
	"dbref":     KindReference,
}

// ParseKind resolves a type name, accepting the legacy "dbref" spelling.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(name)]
	return k, ok
}

// IsScalar reports whether values of this kind carry no nested structure.
func (k Kind) IsScalar() bool {
	switch k {
	case KindBoolean, KindDate, KindString, KindNumber:
		return true
	}
	return false
}

// Bound is an optional numeric limit. Unlike a bare float64 it tells an unset
// limit apart from an explicit zero.
type Bound struct {
	Value float64
	Set   bool
}

// BoundOf returns a Bound that is set to v.
func BoundOf(v float64) Bound {
	return Bound{Value: v, Set: true}
}

// Below reports whether v violates b used as a lower limit.
func (b Bound) Below(v float64) bool {
	return b.Set && v < b.Value
}

// Above reports whether v violates b used as an upper limit.
func (b Bound) Above(v float64) bool {
	return b.Set && v > b.Value
}

// String renders the bound the way it appears in validation messages.
func (b Bound) String() string {
	return formatNumber(b.Value)
}

// MarshalJSON encodes an unset bound as null.
func (b Bound) MarshalJSON() ([]byte, error) {
	if !b.Set {
		return []byte("null"), nil
	}
	return json.Marshal(b.Value)
}

// Base holds the attributes every descriptor variant shares.
type Base struct {
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Descriptor is one node of a field tree. The concrete variants are Scalar,
// Object, Array, Reference and Container.
type Descriptor interface {
	Kind() Kind
	Common() Base
	descriptor()
}

// Scalar describes a boolean, date, string or number field.
type Scalar struct {
	Base
	Type   Kind  `json:"type"`
	Min    Bound `json:"min"`
	Max    Bound `json:"max"`
	Unique bool  `json:"unique,omitempty"`
}

func (s *Scalar) Kind() Kind   { return s.Type }
func (s *Scalar) Common() Base { return s.Base }
func (*Scalar) descriptor()    {}

// Object describes a nested sub-document.
type Object struct {
	Base
	Fields *Tree `json:"fields,omitempty"`
}

func (*Object) Kind() Kind     { return KindObject }
func (o *Object) Common() Base { return o.Base }
func (*Object) descriptor()    {}

// Array describes a list. Element is the declared element kind (typeArray);
// KindNone leaves elements unchecked. Min and Max bound string lengths or
// numeric values of the elements, Scheme names the target of reference
// elements and Fields describes object elements.
type Array struct {
	Base
	Element   Kind   `json:"typeArray,omitempty"`
	Scheme    string `json:"scheme,omitempty"`
	LengthMin Bound  `json:"lengthMin"`
	LengthMax Bound  `json:"lengthMax"`
	Min       Bound  `json:"min"`
	Max       Bound  `json:"max"`
	Fields    *Tree  `json:"fields,omitempty"`
}

func (*Array) Kind() Kind     { return KindArray }
func (a *Array) Common() Base { return a.Base }
func (*Array) descriptor()    {}

// Reference describes a pointer to a document of the named schema.
type Reference struct {
	Base
	Scheme string `json:"scheme"`
	Unique bool   `json:"unique,omitempty"`
}

func (*Reference) Kind() Kind     { return KindReference }
func (r *Reference) Common() Base { return r.Base }
func (*Reference) descriptor()    {}

// Container is a node without a declared type. Its children are descriptors
// but the value itself is not type checked.
type Container struct {
	Base
	Fields *Tree `json:"fields,omitempty"`
}

func (*Container) Kind() Kind     { return KindNone }
func (c *Container) Common() Base { return c.Base }
func (*Container) descriptor()    {}

// Field is a named descriptor.
type Field struct {
	Name       string
	Descriptor Descriptor
}

// Tree is one level of a field tree. Fields keep their declaration order.
type Tree struct {
	Fields        []Field
	RequiredOneOf []string
}

// Lookup returns the descriptor of a field by name.
func (t *Tree) Lookup(name string) (Descriptor, bool) {
	if t == nil {
		return nil, false
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Descriptor, true
		}
	}
	return nil, false
}

// Names lists the field names in declaration order.
func (t *Tree) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// HookSpec names a hook declared inside a schema descriptor. The function is
// bound when the schema is registered.
type HookSpec struct {
	Name        string `json:"name" yaml:"name"`
	Priority    int    `json:"priority" yaml:"priority"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Func        any    `json:"-" yaml:"-"`
}

// Definition is a registered schema: a name, an optional database, the field
// tree and the reference paths derived from it.
type Definition struct {
	Name   string                `json:"name"`
	DB     string                `json:"db,omitempty"`
	Strict bool                  `json:"strict,omitempty"`
	Fields *Tree                 `json:"-"`
	Refs   []RefPath             `json:"refs,omitempty"`
	Hooks  map[string][]HookSpec `json:"hooks,omitempty"`
}

// Document is a stored record. The "_id" key holds the canonical string form
// of its ID.
type Document map[string]any

// ID returns the document identifier, if it has a parsable one.
func (d Document) ID() (ID, bool) {
	v, ok := d["_id"]
	if !ok {
		return Nil, false
	}
	return ParseID(v)
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(CloneValue(map[string]any(d)).(map[string]any))
}

// CloneValue deep copies maps and slices. Other values are returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		return val.Clone()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

func formatNumber(f float64) string {
	return fmt.Sprintf("%v", f)
}
