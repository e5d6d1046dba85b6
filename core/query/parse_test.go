package query

import (
	"regexp"
	"testing"

	"github.com/asaidimu/go-loom/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter_Shapes(t *testing.T) {
	id := schema.NewID()

	tests := []struct {
		name string
		in   map[string]any
		want QueryFilter
	}{
		{
			name: "nil is empty",
			in:   nil,
			want: QueryFilter{},
		},
		{
			name: "single equality",
			in:   map[string]any{"code": 7},
			want: CreateSimpleFilter("code", ComparisonOperatorEq, 7),
		},
		{
			name: "several fields are ANDed in key order",
			in:   map[string]any{"name": "bmw", "code": 7},
			want: CreateFilterGroup(LogicalOperatorAnd,
				CreateSimpleFilter("code", ComparisonOperatorEq, 7),
				CreateSimpleFilter("name", ComparisonOperatorEq, "bmw"),
			),
		},
		{
			name: "operator map",
			in:   map[string]any{"code": map[string]any{"$gte": 1, "$lt": 10}},
			want: CreateFilterGroup(LogicalOperatorAnd,
				CreateSimpleFilter("code", ComparisonOperatorGte, 1),
				CreateSimpleFilter("code", ComparisonOperatorLt, 10),
			),
		},
		{
			name: "exists false",
			in:   map[string]any{"color": map[string]any{"$exists": false}},
			want: CreateSimpleFilter("color", ComparisonOperatorNotExists, true),
		},
		{
			name: "in list",
			in:   map[string]any{"_id": map[string]any{"$in": []string{"a", "b"}}},
			want: CreateSimpleFilter("_id", ComparisonOperatorIn, []any{"a", "b"}),
		},
		{
			name: "pointer literal",
			in:   map[string]any{"typeBody": map[string]any{"$ref": "typeBodys", "$id": id.String()}},
			want: CreateSimpleFilter("typeBody", ComparisonOperatorEq, map[string]any{"$ref": "typeBodys", "$id": id.String()}),
		},
		{
			name: "typed ref literal",
			in:   map[string]any{"typeBody": schema.Ref{Collection: "typeBodys", ID: id}},
			want: CreateSimpleFilter("typeBody", ComparisonOperatorEq, schema.Ref{Collection: "typeBodys", ID: id}),
		},
		{
			name: "nested object literal",
			in:   map[string]any{"engine": map[string]any{"power": 250}},
			want: CreateSimpleFilter("engine", ComparisonOperatorEq, map[string]any{"power": 250}),
		},
		{
			name: "or group",
			in:   map[string]any{"$or": []any{map[string]any{"a": 1}, map[string]any{"b": 2}}},
			want: CreateFilterGroup(LogicalOperatorOr,
				CreateSimpleFilter("a", ComparisonOperatorEq, 1),
				CreateSimpleFilter("b", ComparisonOperatorEq, 2),
			),
		},
		{
			name: "field level not",
			in:   map[string]any{"code": map[string]any{"$not": map[string]any{"$gt": 5}}},
			want: CreateFilterGroup(LogicalOperatorNot, CreateSimpleFilter("code", ComparisonOperatorGt, 5)),
		},
		{
			name: "size",
			in:   map[string]any{"tags": map[string]any{"$size": float64(2)}},
			want: CreateSimpleFilter("tags", ComparisonOperatorSize, 2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseFilter_Regex(t *testing.T) {
	got, err := ParseFilter(map[string]any{"name": map[string]any{"$regex": "^b", "$options": "i"}})
	require.NoError(t, err)
	re, ok := got.Condition.Value.(*regexp.Regexp)
	require.True(t, ok)
	assert.True(t, re.MatchString("BMW"))
}

func TestParseFilter_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
	}{
		{"unknown top level operator", map[string]any{"$where": "1"}},
		{"unknown field operator", map[string]any{"a": map[string]any{"$near": 1}}},
		{"or not array", map[string]any{"$or": map[string]any{"a": 1}}},
		{"or empty", map[string]any{"$or": []any{}}},
		{"or element not object", map[string]any{"$or": []any{1}}},
		{"in not array", map[string]any{"a": map[string]any{"$in": 1}}},
		{"exists not boolean", map[string]any{"a": map[string]any{"$exists": "yes"}}},
		{"bad regex", map[string]any{"a": map[string]any{"$regex": "("}}},
		{"bad regex option", map[string]any{"a": map[string]any{"$regex": "a", "$options": "q"}}},
		{"options alone", map[string]any{"a": map[string]any{"$options": "i"}}},
		{"negative size", map[string]any{"a": map[string]any{"$size": -1}}},
		{"elemMatch not object", map[string]any{"a": map[string]any{"$elemMatch": 1}}},
		{"not scalar", map[string]any{"a": map[string]any{"$not": 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.in)
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}

	assert.Panics(t, func() { MustParseFilter(map[string]any{"$where": 1}) })
}
