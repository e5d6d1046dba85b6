package utils

import (
	"testing"

	"github.com/asaidimu/go-loom/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engine struct {
	Power int `json:"power"`
}

type car struct {
	ID     string   `json:"_id,omitempty"`
	Name   string   `json:"name"`
	Code   int      `json:"code"`
	Engine engine   `json:"engine"`
	Tags   []string `json:"tags,omitempty"`
}

func TestToDocument(t *testing.T) {
	doc, err := ToDocument(car{Name: "bmw", Code: 7, Engine: engine{Power: 250}})
	require.NoError(t, err)
	assert.Equal(t, schema.Document{
		"name":   "bmw",
		"code":   float64(7),
		"engine": map[string]any{"power": float64(250)},
	}, doc)

	doc, err = ToDocument(&car{Name: "audi"})
	require.NoError(t, err)
	assert.Equal(t, "audi", doc["name"])

	tests := []struct {
		name  string
		input any
	}{
		{"nil", nil},
		{"nil pointer", (*car)(nil)},
		{"not a struct", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToDocument(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestFromDocument(t *testing.T) {
	id := schema.NewID()
	got, err := FromDocument[car](schema.Document{
		"_id":    id,
		"name":   "bmw",
		"code":   float64(7),
		"engine": map[string]any{"power": 250},
		"tags":   []any{"fast"},
	})
	require.NoError(t, err)
	assert.Equal(t, car{ID: id.String(), Name: "bmw", Code: 7, Engine: engine{Power: 250}, Tags: []string{"fast"}}, got)

	ptr, err := FromDocument[*car](schema.Document{"name": "fiat"})
	require.NoError(t, err)
	assert.Equal(t, "fiat", ptr.Name)

	_, err = FromDocument[car](nil)
	assert.Error(t, err)
	_, err = FromDocument[int](schema.Document{})
	assert.Error(t, err)
	_, err = FromDocument[car](schema.Document{"code": "seven"})
	assert.Error(t, err)
}

func TestFromDocuments(t *testing.T) {
	got, err := FromDocuments[car]([]schema.Document{{"name": "a"}, {"name": "b"}})
	require.NoError(t, err)
	assert.Equal(t, []car{{Name: "a"}, {Name: "b"}}, got)

	_, err = FromDocuments[car]([]schema.Document{{"name": "a"}, {"code": "x"}})
	assert.ErrorContains(t, err, "document 1")
}

func TestEncodeDecodeDocument(t *testing.T) {
	id := schema.NewID()
	ref := schema.Ref{Collection: "engines", ID: id}

	data, err := EncodeDocument(schema.Document{"_id": id, "engine": ref, "n": 1})
	require.NoError(t, err)

	doc, err := DecodeDocument(data)
	require.NoError(t, err)
	assert.Equal(t, id.String(), doc["_id"])
	assert.Equal(t, map[string]any{"$ref": "engines", "$id": id.String(), "$db": ""}, doc["engine"])
	assert.Equal(t, float64(1), doc["n"])

	_, err = DecodeDocument([]byte("null"))
	assert.Error(t, err)
	_, err = DecodeDocument([]byte("[1]"))
	assert.Error(t, err)
}
