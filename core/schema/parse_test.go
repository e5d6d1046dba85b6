package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const carsYAML = `
name: cars
fields:
  name:
    type: string
  code:
    type: number
    unique: true
    required: true
    min: 1
  leftHandDrive:
    type: boolean
  rightHandDrive:
    type: boolean
  color:
    type: string
    default: None
  typeBody:
    type: dbref
    scheme: typeBodys
    required: true
  wheels:
    type: array
    typeArray: object
    fields:
      number:
        type: number
        min: 1
        max: 30
      typeWheel:
        type: reference
        scheme: typeWheels
        required: true
  regNumber:
    type: reference
    scheme: regNumbers
    unique: true
  trunk:
    type: array
    typeArray: object
    fields:
      typeBag:
        type: reference
        scheme: typeBags
      volume:
        type: number
        min: 0
      things:
        type: array
        typeArray: reference
        scheme: things
  requiredOneOf: [leftHandDrive, rightHandDrive]
beforeAdd:
  - name: stamp
    priority: 5
`

func TestParse_KeepsDeclarationOrder(t *testing.T) {
	def, err := Parse([]byte(carsYAML))
	require.NoError(t, err)

	assert.Equal(t, "cars", def.Name)
	assert.Equal(t, []string{
		"name", "code", "leftHandDrive", "rightHandDrive", "color",
		"typeBody", "wheels", "regNumber", "trunk",
	}, def.Fields.Names())
	assert.Equal(t, []string{"leftHandDrive", "rightHandDrive"}, def.Fields.RequiredOneOf)
}

func TestParse_Descriptors(t *testing.T) {
	def, err := Parse([]byte(carsYAML))
	require.NoError(t, err)

	code, ok := def.Fields.Lookup("code")
	require.True(t, ok)
	scalar, ok := code.(*Scalar)
	require.True(t, ok)
	assert.Equal(t, KindNumber, scalar.Kind())
	assert.True(t, scalar.Unique)
	assert.True(t, scalar.Required)
	assert.Equal(t, BoundOf(1), scalar.Min)
	assert.False(t, scalar.Max.Set)

	color, _ := def.Fields.Lookup("color")
	assert.Equal(t, "None", color.Common().Default)

	body, _ := def.Fields.Lookup("typeBody")
	ref, ok := body.(*Reference)
	require.True(t, ok)
	assert.Equal(t, "typeBodys", ref.Scheme)

	trunk, _ := def.Fields.Lookup("trunk")
	arr, ok := trunk.(*Array)
	require.True(t, ok)
	assert.Equal(t, KindObject, arr.Element)
	volume, ok := arr.Fields.Lookup("volume")
	require.True(t, ok)
	assert.Equal(t, BoundOf(0), volume.(*Scalar).Min, "an explicit zero bound is kept")

	require.Len(t, def.Hooks["beforeAdd"], 1)
	assert.Equal(t, "stamp", def.Hooks["beforeAdd"][0].Name)
	assert.Equal(t, 5, def.Hooks["beforeAdd"][0].Priority)
}

func TestParse_CollectsReferencePaths(t *testing.T) {
	def, err := Parse([]byte(carsYAML))
	require.NoError(t, err)

	assert.Equal(t, []RefPath{
		{Scheme: "typeBodys", Path: "typeBody"},
		{Scheme: "typeWheels", Path: "wheels.typeWheel"},
		{Scheme: "regNumbers", Path: "regNumber"},
		{Scheme: "typeBags", Path: "trunk.typeBag"},
		{Scheme: "things", Path: "trunk.things", IsArray: true},
	}, def.Refs)

	assert.Len(t, def.RefsTo("typeWheels"), 1)
	assert.Empty(t, def.RefsTo("cars"))
}

func TestParse_JSON(t *testing.T) {
	def, err := Parse([]byte(`{"name": "tags", "fields": {"z": {"type": "string"}, "a": {"type": "number"}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a"}, def.Fields.Names())
}

func TestParse_Idempotent(t *testing.T) {
	a, err := Parse([]byte(carsYAML))
	require.NoError(t, err)
	b, err := Parse([]byte(carsYAML))
	require.NoError(t, err)
	assert.Equal(t, a.Refs, b.Refs)
	assert.Equal(t, a.Hooks, b.Hooks)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not an object", `[1, 2]`},
		{"missing name", `fields: {a: {type: string}}`},
		{"name not string", `{name: 3, fields: {}}`},
		{"missing fields", `name: x`},
		{"fields not object", `{name: x, fields: [a]}`},
		{"field not object", `{name: x, fields: {a: 1}}`},
		{"nested field not object", `{name: x, fields: {a: {type: object, fields: {b: nope}}}}`},
		{"reference without scheme", `{name: x, fields: {a: {type: reference}}}`},
		{"dbref without scheme", `{name: x, fields: {a: {type: dbref}}}`},
		{"reference array without scheme", `{name: x, fields: {a: {type: array, typeArray: reference}}}`},
		{"unknown type", `{name: x, fields: {a: {type: money}}}`},
		{"bound not number", `{name: x, fields: {a: {type: number, min: low}}}`},
		{"unknown top level key", `{name: x, fields: {}, beforeSave: []}`},
		{"hook without name", `{name: x, fields: {}, beforeAdd: [{priority: 1}]}`},
		{"hook priority not number", `{name: x, fields: {}, beforeAdd: [{name: a, priority: high}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("name: [unclosed"))
		assert.Error(t, err)
	})
}

func TestFromMap(t *testing.T) {
	def, err := FromMap(map[string]any{
		"name": "things",
		"db":   "jrfThingsTests",
		"fields": map[string]any{
			"name": map[string]any{"type": "string", "unique": true, "min": 1, "max": 64},
		},
		"beforeAdd": []map[string]any{
			{"name": "audit", "func": func() {}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "jrfThingsTests", def.DB)
	require.Len(t, def.Hooks["beforeAdd"], 1)
	assert.NotNil(t, def.Hooks["beforeAdd"][0].Func)
	assert.Equal(t, 10, def.Hooks["beforeAdd"][0].Priority)

	_, err = FromMap(nil)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cars.yaml"), []byte(carsYAML), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "catalog"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog", "bodies.json"),
		[]byte(`{"name": "typeBodys", "fields": {"name": {"type": "string"}}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# ignored"), 0o644))

	defs, err := ParseDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "cars", defs[0].Name)
	assert.Equal(t, "typeBodys", defs[1].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte(`{name: x}`), 0o644))
	_, err = ParseDir(dir)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}
