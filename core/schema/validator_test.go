package schema

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	collection string
	db         string
	ids        map[ID]bool
	err        error
}

func (f *fakeTarget) Collection() string { return f.collection }
func (f *fakeTarget) Database() string   { return f.db }
func (f *fakeTarget) Exists(ctx context.Context, id ID) (bool, error) {
	return f.ids[id], f.err
}

type holder struct {
	value any
	id    ID
}

type fakeEnv struct {
	targets map[string]*fakeTarget
	values  map[string][]holder
	probes  []string
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{targets: map[string]*fakeTarget{}, values: map[string][]holder{}}
}

func (e *fakeEnv) Taken(ctx context.Context, path string, value any, exclude ID) (bool, error) {
	e.probes = append(e.probes, path)
	for _, h := range e.values[path] {
		if h.value == value && h.id != exclude {
			return true, nil
		}
	}
	return false, nil
}

func (e *fakeEnv) Target(ctx context.Context, scheme string) (Target, bool) {
	t, ok := e.targets[scheme]
	return t, ok
}

func (e *fakeEnv) target(scheme, db string, ids ...ID) {
	set := map[ID]bool{}
	for _, id := range ids {
		set[id] = true
	}
	e.targets[scheme] = &fakeTarget{collection: scheme, db: db, ids: set}
}

func mustParse(t *testing.T, src string) *Definition {
	t.Helper()
	def, err := Parse([]byte(src))
	require.NoError(t, err)
	return def
}

func description(t *testing.T, err error) string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected a validation error, got %v", err)
	return verr.Description
}

const carSchema = `
name: car
fields:
  code: {type: number, required: true, min: 1}
  left: {type: boolean}
  right: {type: boolean}
  requiredOneOf: [left, right]
`

func TestValidate_CarScenario(t *testing.T) {
	v := NewValidator(mustParse(t, carSchema), nil)
	ctx := context.Background()

	_, err := v.Validate(ctx, Document{"code": 0}, Nil)
	assert.Equal(t, "Number field < 1, path: code", description(t, err))

	out, err := v.Validate(ctx, Document{"code": 1, "right": true}, Nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out["code"])
}

func TestValidate_RequiredOneOf(t *testing.T) {
	v := NewValidator(mustParse(t, carSchema), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		doc  Document
		ok   bool
	}{
		{"neither present", Document{"code": 1}, false},
		{"left present", Document{"code": 1, "left": true}, true},
		{"false counts as filled", Document{"code": 1, "left": false}, true},
		{"null is not filled", Document{"code": 1, "left": nil}, false},
		{"null beside a value", Document{"code": 1, "left": nil, "right": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(ctx, tt.doc, Nil)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, "One of the required fields is not filled: left,right", description(t, err))
		})
	}
}

func TestValidate_Bounds(t *testing.T) {
	def := mustParse(t, `
name: bounds
fields:
  name: {type: string, min: 2, max: 4}
  count: {type: number, min: 1, max: 30}
  volume: {type: number, min: 0}
  tags: {type: array, typeArray: string, lengthMin: 1, lengthMax: 2}
`)
	v := NewValidator(def, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		doc  Document
		want string
	}{
		{"string at min", Document{"name": "ab"}, ""},
		{"string at max", Document{"name": "abcd"}, ""},
		{"string below min", Document{"name": "a"}, "String field < 2 chars length, path: name"},
		{"string above max", Document{"name": "abcde"}, "String field > 4 chars length, path: name"},
		{"multibyte counted as runes", Document{"name": "ñññ"}, ""},
		{"number at min", Document{"count": 1}, ""},
		{"number at max", Document{"count": 30}, ""},
		{"number below min", Document{"count": 0}, "Number field < 1, path: count"},
		{"number above max", Document{"count": 31}, "Number field > 30, path: count"},
		{"float past max", Document{"count": 30.5}, "Number field > 30, path: count"},
		{"zero bound at bound", Document{"volume": 0}, ""},
		{"zero bound below", Document{"volume": -1}, "Number field < 0, path: volume"},
		{"array at max length", Document{"tags": []any{"a", "b"}}, ""},
		{"array above max length", Document{"tags": []any{"a", "b", "c"}}, "Array length > 2, path: tags"},
		{"empty array", Document{"tags": []any{}}, "Array field not array, path: tags"},
		{"array element type", Document{"tags": []any{"a", 3}}, `String field "3" not string, path: tags`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(ctx, tt.doc, Nil)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, description(t, err))
		})
	}
}

func TestValidate_ZeroLengthBound(t *testing.T) {
	def := mustParse(t, `
name: zero
fields:
  empty: {type: string, max: 0}
  list: {type: array, lengthMax: 0}
`)
	v := NewValidator(def, nil)
	ctx := context.Background()

	_, err := v.Validate(ctx, Document{"empty": ""}, Nil)
	assert.NoError(t, err)

	_, err = v.Validate(ctx, Document{"empty": "x"}, Nil)
	assert.Equal(t, "String field > 0 chars length, path: empty", description(t, err))

	_, err = v.Validate(ctx, Document{"list": []any{1}}, Nil)
	assert.Equal(t, "Array length > 0, path: list", description(t, err))
}

func TestValidate_TypeChecks(t *testing.T) {
	def := mustParse(t, `
name: types
fields:
  flag: {type: boolean}
  when: {type: date}
  label: {type: string}
  amount: {type: number}
  meta: {type: object, fields: {size: {type: number, required: true}}}
`)
	v := NewValidator(def, nil)
	ctx := context.Background()

	tests := []struct {
		doc  Document
		want string
	}{
		{Document{"flag": "yes"}, "Boolean field not boolean, path: flag"},
		{Document{"when": "yesterday"}, "Date field not date, path: when"},
		{Document{"label": 12}, "String field not string, path: label"},
		{Document{"amount": "12"}, "Number field not number, path: amount"},
		{Document{"meta": "big"}, "Object field not object, path: meta"},
		{Document{"meta": map[string]any{}}, "missing field meta.size"},
		{Document{"meta": map[string]any{"size": "x"}}, "Number field not number, path: meta.size"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			_, err := v.Validate(ctx, tt.doc, Nil)
			assert.Equal(t, tt.want, description(t, err))
		})
	}

	t.Run("date strings are coerced", func(t *testing.T) {
		out, err := v.Validate(ctx, Document{"when": "2024-03-01T10:00:00Z"}, Nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), out["when"])
	})
}

func TestValidate_DefaultsAndPurity(t *testing.T) {
	def := mustParse(t, `
name: defaults
fields:
  color: {type: string, default: None}
  code: {type: number, required: true}
`)
	v := NewValidator(def, nil)
	ctx := context.Background()

	in := Document{"code": 3}
	out, err := v.Validate(ctx, in, Nil)
	require.NoError(t, err)
	assert.Equal(t, "None", out["color"])
	assert.NotContains(t, in, "color", "input document must not be mutated")

	out, err = v.Validate(ctx, Document{"code": 3, "color": nil}, Nil)
	require.NoError(t, err)
	assert.Nil(t, out["color"], "an explicit null does not receive the default")

	_, err = v.Validate(ctx, Document{}, Nil)
	assert.Equal(t, "missing field code", description(t, err))
}

func TestValidate_Unique(t *testing.T) {
	def := mustParse(t, `
name: plates
fields:
  number: {type: string, unique: true}
  seq: {type: number, unique: true}
`)
	env := newFakeEnv()
	owner := NewID()
	env.values["number"] = []holder{{value: "AB123", id: owner}}
	env.values["seq"] = []holder{{value: 7, id: owner}}
	v := NewValidator(def, env)
	ctx := context.Background()

	_, err := v.Validate(ctx, Document{"number": "AB123"}, Nil)
	assert.Equal(t, `String value not unique "AB123", path: number`, description(t, err))

	_, err = v.Validate(ctx, Document{"seq": 7}, Nil)
	assert.Equal(t, `Number value not unique "7", path: seq`, description(t, err))

	_, err = v.Validate(ctx, Document{"number": "AB123", "seq": 7}, owner)
	assert.NoError(t, err, "a document may keep its own unique value")

	_, err = v.Validate(ctx, Document{"_id": owner.String(), "number": "AB123"}, Nil)
	assert.NoError(t, err, "the document id excludes itself from the probe")
}

func TestValidate_References(t *testing.T) {
	def := mustParse(t, `
name: cars
fields:
  typeBody: {type: reference, scheme: typeBodys}
  regNumber: {type: reference, scheme: regNumbers, unique: true}
  things: {type: array, typeArray: reference, scheme: things}
  ghost: {type: reference, scheme: ghosts}
`)
	env := newFakeEnv()
	body := NewID()
	plate := NewID()
	thing := NewID()
	env.target("typeBodys", "main", body)
	env.target("regNumbers", "main", plate)
	env.target("things", "jrfThingsTests", thing)
	v := NewValidator(def, env)
	ctx := context.Background()

	out, err := v.Validate(ctx, Document{
		"typeBody":  body.String(),
		"regNumber": map[string]any{"_id": plate.String()},
		"things":    []any{thing.String()},
	}, Nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"$ref": "typeBodys", "$id": body.String(), "$db": "main"}, out["typeBody"])
	assert.Equal(t, map[string]any{"$ref": "regNumbers", "$id": plate.String(), "$db": "main"}, out["regNumber"])
	assert.Equal(t, []any{map[string]any{"$ref": "things", "$id": thing.String(), "$db": "jrfThingsTests"}}, out["things"])
	assert.Contains(t, env.probes, "regNumber.$id")

	missing := NewID()
	tests := []struct {
		name string
		doc  Document
		want string
	}{
		{"invalid id", Document{"typeBody": "bad"}, `Scheme "typeBodys" invalid dbref id, path: typeBody`},
		{"unknown scheme", Document{"ghost": body.String()}, `Scheme "ghosts" not found, path: ghost`},
		{"missing target", Document{"typeBody": missing.String()}, `Dbref "` + missing.String() + `" not found, path: typeBody`},
		{"invalid element id", Document{"things": []any{"bad"}}, `Array field "bad" invalid dbref id, path: things`},
		{"missing element", Document{"things": []any{missing.String()}}, `Dbref "` + missing.String() + `" not found, path: things`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(ctx, tt.doc, Nil)
			assert.Equal(t, tt.want, description(t, err))
		})
	}

	t.Run("unique reference", func(t *testing.T) {
		env.values["regNumber.$id"] = []holder{{value: plate.String(), id: NewID()}}
		_, err := v.Validate(ctx, Document{"regNumber": plate.String()}, Nil)
		assert.Equal(t, `Dbref value not unique "`+plate.String()+`", path: regNumber`, description(t, err))
	})

	t.Run("lookup failures are not validation errors", func(t *testing.T) {
		env.targets["typeBodys"].err = errors.New("connection reset")
		_, err := v.Validate(ctx, Document{"typeBody": body.String()}, Nil)
		require.Error(t, err)
		var verr *ValidationError
		assert.False(t, errors.As(err, &verr))
	})
}

func TestValidate_NestedArrayObjects(t *testing.T) {
	def := mustParse(t, `
name: cars
fields:
  wheels:
    type: array
    typeArray: object
    fields:
      number: {type: number, min: 1, max: 30}
      typeWheel: {type: reference, scheme: typeWheels, required: true}
`)
	env := newFakeEnv()
	wheel := NewID()
	env.target("typeWheels", "main", wheel)
	v := NewValidator(def, env)
	ctx := context.Background()

	out, err := v.Validate(ctx, Document{"wheels": []any{
		map[string]any{"number": 1, "typeWheel": wheel.String()},
		map[string]any{"number": 2, "typeWheel": wheel.String()},
	}}, Nil)
	require.NoError(t, err)
	wheels := out["wheels"].([]any)
	assert.Equal(t, wheel.String(), wheels[1].(map[string]any)["typeWheel"].(map[string]any)["$id"])

	_, err = v.Validate(ctx, Document{"wheels": []any{map[string]any{"number": 31, "typeWheel": wheel.String()}}}, Nil)
	assert.Equal(t, "Number field > 30, path: wheels.number", description(t, err))

	_, err = v.Validate(ctx, Document{"wheels": []any{map[string]any{"number": 3}}}, Nil)
	assert.Equal(t, "missing field wheels.typeWheel", description(t, err))

	_, err = v.Validate(ctx, Document{"wheels": []any{"front"}}, Nil)
	assert.Equal(t, `Object field "front" not object, path: wheels`, description(t, err))
}

func TestValidate_Strict(t *testing.T) {
	def := mustParse(t, `
name: strict
strict: true
fields:
  name: {type: string}
`)
	v := NewValidator(def, nil)
	ctx := context.Background()

	_, err := v.Validate(ctx, Document{"_id": NewID().String(), "name": "x"}, Nil)
	assert.NoError(t, err)

	_, err = v.Validate(ctx, Document{"name": "x", "extra": 1}, Nil)
	assert.Equal(t, "Field not in scheme, path: extra", description(t, err))
}

func TestValidate_InvalidID(t *testing.T) {
	v := NewValidator(mustParse(t, carSchema), nil)
	_, err := v.Validate(context.Background(), Document{"_id": "nope", "code": 1, "left": true}, Nil)
	assert.Equal(t, "Invalid id, path: _id", description(t, err))
}
