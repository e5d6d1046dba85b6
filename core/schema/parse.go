package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/asaidimu/go-loom/core/hooks"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDescriptor is wrapped by every registration failure.
var ErrInvalidDescriptor = errors.New("schema: invalid descriptor")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDescriptor, fmt.Sprintf(format, args...))
}

// ordered is a decoded mapping that remembers key order.
type ordered struct {
	keys   []string
	values map[string]any
}

type entry struct {
	key   string
	value any
}

// entries lists the pairs of a mapping. Go maps have no order, so their keys
// are visited lexically.
func entries(v any) ([]entry, bool) {
	switch m := v.(type) {
	case *ordered:
		out := make([]entry, len(m.keys))
		for i, k := range m.keys {
			out[i] = entry{k, m.values[k]}
		}
		return out, true
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]entry, len(keys))
		for i, k := range keys {
			out[i] = entry{k, m[k]}
		}
		return out, true
	case Document:
		return entries(map[string]any(m))
	}
	return nil, false
}

func lookup(v any, key string) (any, bool) {
	switch m := v.(type) {
	case *ordered:
		val, ok := m.values[key]
		return val, ok
	case map[string]any:
		val, ok := m[key]
		return val, ok
	case Document:
		val, ok := m[key]
		return val, ok
	}
	return nil, false
}

// plain converts decoded values into plain maps and slices.
func plain(v any) any {
	switch val := v.(type) {
	case *ordered:
		out := make(map[string]any, len(val.keys))
		for _, k := range val.keys {
			out[k] = plain(val.values[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

func fromNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromNode(n.Content[0])
	case yaml.MappingNode:
		m := &ordered{values: make(map[string]any, len(n.Content)/2)}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			val, err := fromNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			if _, dup := m.values[key]; !dup {
				m.keys = append(m.keys, key)
			}
			m.values[key] = val
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case yaml.AliasNode:
		return fromNode(n.Alias)
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Parse reads a schema descriptor from YAML or JSON bytes. Field order
// follows the document.
func Parse(data []byte) (*Definition, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	v, err := fromNode(&root)
	if err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return build(v)
}

// ParseYAML is Parse. JSON is a subset of YAML, so one reader serves both.
func ParseYAML(data []byte) (*Definition, error) {
	return Parse(data)
}

// ParseFile reads a schema descriptor file.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// IsDescriptorFile reports whether a file name looks like a schema descriptor.
func IsDescriptorFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ParseDir reads every descriptor file in dir and its subdirectories, in
// lexical order.
func ParseDir(dir string) ([]*Definition, error) {
	var defs []*Definition

	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, item := range items {
		path := filepath.Join(dir, item.Name())

		if item.IsDir() {
			sub, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			defs = append(defs, sub...)
			continue
		}

		if !IsDescriptorFile(item.Name()) {
			continue
		}

		def, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// FromMap builds a definition from a decoded descriptor. Hook entries may
// carry their function under "func"; it is kept on the HookSpec for the
// registering directory to bind.
func FromMap(descriptor map[string]any) (*Definition, error) {
	if descriptor == nil {
		return nil, invalid("descriptor is not an object")
	}
	return build(descriptor)
}

var definitionKeys = map[string]bool{
	"name": true, "db": true, "strict": true, "fields": true, "description": true,
}

func build(v any) (*Definition, error) {
	if _, ok := entries(v); !ok {
		return nil, invalid("descriptor is not an object")
	}

	rawName, ok := lookup(v, "name")
	if !ok {
		return nil, invalid("name not found")
	}
	name, ok := rawName.(string)
	if !ok || name == "" {
		return nil, invalid("name not string")
	}

	def := &Definition{Name: name, Hooks: map[string][]HookSpec{}}

	if rawDB, ok := lookup(v, "db"); ok && rawDB != nil {
		db, isString := rawDB.(string)
		if !isString {
			return nil, invalid("schema %q: db not string", name)
		}
		def.DB = db
	}

	if rawStrict, ok := lookup(v, "strict"); ok && rawStrict != nil {
		strict, isBool := rawStrict.(bool)
		if !isBool {
			return nil, invalid("schema %q: strict not boolean", name)
		}
		def.Strict = strict
	}

	rawFields, ok := lookup(v, "fields")
	if !ok {
		return nil, invalid("schema %q: fields not found", name)
	}
	tree, err := buildTree(rawFields, "")
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	def.Fields = tree
	def.Refs = CollectRefs(tree)

	all, _ := entries(v)
	for _, e := range all {
		if definitionKeys[e.key] {
			continue
		}
		phase, ok := hooks.ParsePhase(e.key)
		if !ok {
			return nil, invalid("schema %q: unknown key %q", name, e.key)
		}
		specs, err := buildHooks(e.value)
		if err != nil {
			return nil, fmt.Errorf("schema %q: %s: %w", name, phase, err)
		}
		if len(specs) > 0 {
			def.Hooks[string(phase)] = specs
		}
	}

	return def, nil
}

func buildHooks(v any) ([]HookSpec, error) {
	if v == nil {
		return nil, nil
	}
	var list []any
	switch items := v.(type) {
	case []any:
		list = items
	case []map[string]any:
		for _, item := range items {
			list = append(list, item)
		}
	default:
		return nil, invalid("hooks not array")
	}

	specs := make([]HookSpec, 0, len(list))
	for i, item := range list {
		if _, isMap := entries(item); !isMap {
			return nil, invalid("hook %d not object", i)
		}
		spec := HookSpec{Priority: hooks.DefaultPriority}
		if fn, ok := lookup(item, "func"); ok {
			spec.Func = fn
		}
		if n, ok := lookup(item, "name"); ok {
			s, isString := n.(string)
			if !isString {
				return nil, invalid("hook %d name not string", i)
			}
			spec.Name = s
		}
		if spec.Name == "" {
			return nil, invalid("hook %d not name", i)
		}
		if p, ok := lookup(item, "priority"); ok && p != nil {
			f, isNum := toFloat(p)
			if !isNum {
				return nil, invalid("hook %q priority not number", spec.Name)
			}
			spec.Priority = int(f)
		}
		if d, ok := lookup(item, "description"); ok && d != nil {
			s, isString := d.(string)
			if !isString {
				return nil, invalid("hook %q description not string", spec.Name)
			}
			spec.Description = s
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func buildTree(v any, path string) (*Tree, error) {
	fields, ok := entries(v)
	if !ok {
		return nil, invalid("fields not object, path: %s", displayPath(path))
	}

	tree := &Tree{}
	for _, f := range fields {
		fieldPath := joinPath(path, f.key)

		if f.key == "requiredOneOf" {
			names, err := stringList(f.value)
			if err != nil {
				return nil, invalid("requiredOneOf not array of strings, path: %s", displayPath(path))
			}
			tree.RequiredOneOf = names
			continue
		}

		d, err := buildDescriptor(f.value, fieldPath)
		if err != nil {
			return nil, err
		}
		tree.Fields = append(tree.Fields, Field{Name: f.key, Descriptor: d})
	}
	return tree, nil
}

func buildDescriptor(v any, path string) (Descriptor, error) {
	if _, ok := entries(v); !ok {
		return nil, invalid("field not object, path: %s", path)
	}

	kind := KindNone
	if rawType, ok := lookup(v, "type"); ok && rawType != nil {
		s, isString := rawType.(string)
		if !isString {
			return nil, invalid("type not string, path: %s", path)
		}
		k, known := ParseKind(s)
		if !known {
			return nil, invalid("unknown type %q, path: %s", s, path)
		}
		kind = k
	}

	base, err := buildBase(v, path)
	if err != nil {
		return nil, err
	}

	lo, err := bound(v, "min", path)
	if err != nil {
		return nil, err
	}
	hi, err := bound(v, "max", path)
	if err != nil {
		return nil, err
	}
	unique, err := flag(v, "unique", path)
	if err != nil {
		return nil, err
	}
	scheme, _ := lookup(v, "scheme")
	schemeName, _ := scheme.(string)

	nested, err := nestedTree(v, path)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindBoolean, KindDate, KindString, KindNumber:
		return &Scalar{Base: base, Type: kind, Min: lo, Max: hi, Unique: unique}, nil

	case KindObject:
		return &Object{Base: base, Fields: nested}, nil

	case KindReference:
		if schemeName == "" {
			return nil, invalid("reference without scheme, path: %s", path)
		}
		return &Reference{Base: base, Scheme: schemeName, Unique: unique}, nil

	case KindArray:
		arr := &Array{Base: base, Min: lo, Max: hi, Fields: nested, Scheme: schemeName}
		if rawEl, ok := lookup(v, "typeArray"); ok && rawEl != nil {
			s, isString := rawEl.(string)
			if !isString {
				return nil, invalid("typeArray not string, path: %s", path)
			}
			el, known := ParseKind(s)
			if !known {
				return nil, invalid("unknown typeArray %q, path: %s", s, path)
			}
			arr.Element = el
		}
		if arr.Element == KindReference && arr.Scheme == "" {
			return nil, invalid("reference array without scheme, path: %s", path)
		}
		if arr.LengthMin, err = bound(v, "lengthMin", path); err != nil {
			return nil, err
		}
		if arr.LengthMax, err = bound(v, "lengthMax", path); err != nil {
			return nil, err
		}
		return arr, nil

	default:
		return &Container{Base: base, Fields: nested}, nil
	}
}

func buildBase(v any, path string) (Base, error) {
	var base Base
	required, err := flag(v, "required", path)
	if err != nil {
		return base, err
	}
	base.Required = required
	if d, ok := lookup(v, "default"); ok {
		base.Default = plain(d)
	}
	if d, ok := lookup(v, "description"); ok {
		base.Description, _ = d.(string)
	}
	return base, nil
}

func nestedTree(v any, path string) (*Tree, error) {
	raw, ok := lookup(v, "fields")
	if !ok || raw == nil {
		return nil, nil
	}
	return buildTree(raw, path)
}

func bound(v any, key, path string) (Bound, error) {
	raw, ok := lookup(v, key)
	if !ok || raw == nil {
		return Bound{}, nil
	}
	f, isNum := toFloat(raw)
	if !isNum {
		return Bound{}, invalid("%s not number, path: %s", key, path)
	}
	return BoundOf(f), nil
}

func flag(v any, key, path string) (bool, error) {
	raw, ok := lookup(v, key)
	if !ok || raw == nil {
		return false, nil
	}
	b, isBool := raw.(bool)
	if !isBool {
		return false, invalid("%s not boolean, path: %s", key, path)
	}
	return b, nil
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d not string", i)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("not a list")
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
