package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/asaidimu/go-loom/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDataProcessor(t *testing.T) {
	p := NewDataProcessor(nil)
	assert.NotNil(t, p)
	assert.NotNil(t, p.goComputeFunctions)
	assert.NotNil(t, p.goFilterFunctions)
	assert.NotNil(t, p.logger)

	p = NewDataProcessor(zap.NewNop())
	assert.NotNil(t, p)
}

func TestDataProcessor_RegisterComputeFunction(t *testing.T) {
	p := NewDataProcessor(nil)
	fn := func(row schema.Document, args []FilterValue) (any, error) { return nil, nil }
	p.RegisterComputeFunction("testFunc", fn)
	assert.Contains(t, p.goComputeFunctions, "testFunc")

	p.RegisterComputeFunctions(map[string]ComputeFunction{"func1": fn, "func2": fn})
	assert.Contains(t, p.goComputeFunctions, "func1")
	assert.Contains(t, p.goComputeFunctions, "func2")
}

func TestDataProcessor_RegisterFilterFunction(t *testing.T) {
	p := NewDataProcessor(nil)
	fn := func(doc schema.Document, field string, args FilterValue) (bool, error) { return true, nil }
	require.NoError(t, p.RegisterFilterFunction("customOp", fn))
	assert.Contains(t, p.goFilterFunctions, ComparisonOperator("customOp"))

	require.NoError(t, p.RegisterFilterFunctions(map[ComparisonOperator]PredicateFunction{"op1": fn, "op2": fn}))
	assert.Contains(t, p.goFilterFunctions, ComparisonOperator("op1"))

	assert.Error(t, p.RegisterFilterFunction(ComparisonOperatorEq, fn), "built in operators cannot be replaced")
}

func TestDataProcessor_DetermineFieldsToSelect(t *testing.T) {
	p := NewDataProcessor(nil)

	t.Run("No projection, no filters", func(t *testing.T) {
		assert.Empty(t, p.DetermineFieldsToSelect(&QueryDSL{}))
	})

	t.Run("Include, computed and custom filter fields", func(t *testing.T) {
		dsl := &QueryDSL{
			Filters: ptrFilter(CreateFilterGroup(schema.LogicalAnd,
				CreateSimpleFilter("code", ComparisonOperatorEq, 1),
				CreateSimpleFilter("location", "near", 5),
			)),
			Projection: &ProjectionConfiguration{
				Include: []ProjectionField{{Name: "name"}},
				Computed: []ComputedFieldExpression{{
					Alias:      "label",
					Expression: &FunctionCall{Function: "concat", Arguments: []FilterValue{"name", "color", 3}},
				}},
			},
		}
		assert.Equal(t, []ProjectionField{
			{Name: "color"}, {Name: "location"}, {Name: "name"},
		}, p.DetermineFieldsToSelect(dsl))
	})
}

func ptrFilter(f QueryFilter) *QueryFilter { return &f }

func fleet() []schema.Document {
	return []schema.Document{
		{"_id": "1", "name": "bmw", "code": 3, "color": "red", "tags": []any{"fast", "german"},
			"wheels": []any{map[string]any{"number": 1, "size": 18}, map[string]any{"number": 2, "size": 19}}},
		{"_id": "2", "name": "audi", "code": 1, "color": nil, "tags": []any{"german"},
			"wheels": []any{map[string]any{"number": 1, "size": 17}}},
		{"_id": "3", "name": "fiat", "code": 2, "tags": []any{},
			"typeBody": map[string]any{"$ref": "typeBodys", "$id": "b1", "$db": ""}},
	}
}

func ids(docs []schema.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["_id"]
	}
	return out
}

func TestDataProcessor_FilterOperators(t *testing.T) {
	p := NewDataProcessor(nil)

	tests := []struct {
		name   string
		filter map[string]any
		want   []any
	}{
		{"implicit eq", map[string]any{"name": "bmw"}, []any{"1"}},
		{"eq numeric types", map[string]any{"code": float64(2)}, []any{"3"}},
		{"eq null matches missing and null", map[string]any{"color": nil}, []any{"2", "3"}},
		{"ne", map[string]any{"name": map[string]any{"$ne": "bmw"}}, []any{"2", "3"}},
		{"gt", map[string]any{"code": map[string]any{"$gt": 1}}, []any{"1", "3"}},
		{"gte and lt", map[string]any{"code": map[string]any{"$gte": 1, "$lt": 3}}, []any{"2", "3"}},
		{"lte", map[string]any{"code": map[string]any{"$lte": 1}}, []any{"2"}},
		{"in", map[string]any{"name": map[string]any{"$in": []any{"audi", "fiat"}}}, []any{"2", "3"}},
		{"nin", map[string]any{"name": map[string]any{"$nin": []string{"audi", "fiat"}}}, []any{"1"}},
		{"exists", map[string]any{"color": map[string]any{"$exists": true}}, []any{"1", "2"}},
		{"not exists", map[string]any{"color": map[string]any{"$exists": false}}, []any{"3"}},
		{"array element eq", map[string]any{"tags": "german"}, []any{"1", "2"}},
		{"whole array eq", map[string]any{"tags": []any{"german"}}, []any{"2"}},
		{"size", map[string]any{"tags": map[string]any{"$size": 0}}, []any{"3"}},
		{"all", map[string]any{"tags": map[string]any{"$all": []any{"german", "fast"}}}, []any{"1"}},
		{"nested array path", map[string]any{"wheels.size": map[string]any{"$gt": 18}}, []any{"1"}},
		{"indexed path", map[string]any{"wheels.1.number": 2}, []any{"1"}},
		{"pointer id path", map[string]any{"typeBody.$id": "b1"}, []any{"3"}},
		{"pointer literal", map[string]any{"typeBody": map[string]any{"$ref": "typeBodys", "$id": "b1", "$db": ""}}, []any{"3"}},
		{"regex", map[string]any{"name": map[string]any{"$regex": "^a"}}, []any{"2"}},
		{"regex options", map[string]any{"name": map[string]any{"$regex": "^BM", "$options": "i"}}, []any{"1"}},
		{"compiled regex", map[string]any{"name": map[string]any{"$regex": regexp.MustCompile("t$")}}, []any{"3"}},
		{"not", map[string]any{"code": map[string]any{"$not": map[string]any{"$gt": 1}}}, []any{"2"}},
		{"or", map[string]any{"$or": []any{map[string]any{"name": "bmw"}, map[string]any{"code": 2}}}, []any{"1", "3"}},
		{"nor", map[string]any{"$nor": []any{map[string]any{"name": "bmw"}, map[string]any{"code": 2}}}, []any{"2"}},
		{"and", map[string]any{"$and": []any{map[string]any{"tags": "german"}, map[string]any{"code": 1}}}, []any{"2"}},
		{"elemMatch objects", map[string]any{"wheels": map[string]any{"$elemMatch": map[string]any{"number": 1, "size": map[string]any{"$gte": 18}}}}, []any{"1"}},
		{"elemMatch scalars", map[string]any{"tags": map[string]any{"$elemMatch": map[string]any{"$regex": "^fa"}}}, []any{"1"}},
		{"contains", map[string]any{"name": map[string]any{"$contains": "ud"}}, []any{"2"}},
		{"startsWith", map[string]any{"name": map[string]any{"$startsWith": "fi"}}, []any{"3"}},
		{"endsWith", map[string]any{"name": map[string]any{"$endsWith": "w"}}, []any{"1"}},
		{"range never crosses types", map[string]any{"name": map[string]any{"$gt": 0}}, []any{}},
		{"empty filter", map[string]any{}, []any{"1", "2", "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := ParseFilter(tt.filter)
			require.NoError(t, err)
			got, err := p.Filter(fleet(), filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestDataProcessor_ProcessRows(t *testing.T) {
	p := NewDataProcessor(nil)
	p.RegisterComputeFunction("label", func(row schema.Document, args []FilterValue) (any, error) {
		return fmt.Sprintf("%v-%v", row["name"], row["code"]), nil
	})

	t.Run("Sort, window and projection", func(t *testing.T) {
		dsl := NewQueryBuilder().
			Where("code").Gte(1).
			OrderByDesc("code").
			Offset(1).Limit(1).
			Select().Include("name").AddComputed("label", "label").End().
			Build()
		rows := fleet()
		got, err := p.ProcessRows(rows, &dsl)
		require.NoError(t, err)
		assert.Equal(t, []schema.Document{{"_id": "3", "name": "fiat", "label": "fiat-2"}}, got)
		assert.NotContains(t, rows[2], "label", "input rows are not modified")
	})

	t.Run("Exclude nested field", func(t *testing.T) {
		rows := fleet()
		dsl := QueryDSL{Projection: &ProjectionConfiguration{Exclude: []ProjectionField{{Name: "typeBody.$db"}, {Name: "wheels"}}}}
		got, err := p.ProcessRows(rows, &dsl)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"$ref": "typeBodys", "$id": "b1"}, got[2]["typeBody"])
		assert.NotContains(t, got[0], "wheels")
		assert.Contains(t, rows[2]["typeBody"], "$db", "input rows are not modified")
	})

	t.Run("Missing sort field sorts first", func(t *testing.T) {
		dsl := NewQueryBuilder().OrderByAsc("color").OrderByAsc("name").Build()
		got, err := p.ProcessRows(fleet(), &dsl)
		require.NoError(t, err)
		assert.Equal(t, []any{"2", "3", "1"}, ids(got))
	})

	t.Run("Unregistered compute function", func(t *testing.T) {
		dsl := NewQueryBuilder().Select().AddComputed("x", "nope").End().Build()
		_, err := p.ProcessRows(fleet(), &dsl)
		assert.ErrorContains(t, err, "unregistered compute function: nope")
	})

	t.Run("Compute function error", func(t *testing.T) {
		p.RegisterComputeFunction("boom", func(schema.Document, []FilterValue) (any, error) {
			return nil, errors.New("boom")
		})
		dsl := NewQueryBuilder().Select().AddComputed("x", "boom").End().Build()
		_, err := p.ProcessRows(fleet(), &dsl)
		assert.ErrorContains(t, err, "boom")
	})
}

func TestWindow(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, Window(rows, 0, 0))
	assert.Equal(t, []int{3, 4, 5}, Window(rows, 2, 0))
	assert.Equal(t, []int{1, 2}, Window(rows, 0, 2))
	assert.Equal(t, []int{4}, Window(rows, 3, 1))
	assert.Empty(t, Window(rows, 9, 1))
}

func TestDataProcessor_Match(t *testing.T) {
	logger := zap.NewNop()
	p := NewDataProcessor(logger)

	t.Run("Nil filters", func(t *testing.T) {
		data := schema.Document{"id": 1}
		match, err := p.Match(context.Background(), nil, data)
		assert.NoError(t, err)
		assert.True(t, match)
	})

	t.Run("Matching condition", func(t *testing.T) {
		filters := &QueryFilter{
			Condition: &FilterCondition{
				Field:    "value",
				Operator: ComparisonOperatorEq,
				Value:    10,
			},
		}
		data := schema.Document{"value": 10}
		match, err := p.Match(context.Background(), filters, data)
		assert.NoError(t, err)
		assert.True(t, match)
	})

	t.Run("Non-matching condition", func(t *testing.T) {
		filters := &QueryFilter{
			Condition: &FilterCondition{
				Field:    "value",
				Operator: ComparisonOperatorEq,
				Value:    10,
			},
		}
		data := schema.Document{"value": 20}
		match, err := p.Match(context.Background(), filters, data)
		assert.NoError(t, err)
		assert.False(t, match)
	})

	t.Run("Matching group - AND", func(t *testing.T) {
		filters := &QueryFilter{
			Group: &FilterGroup{
				Operator: schema.LogicalAnd,
				Conditions: []QueryFilter{
					{Condition: &FilterCondition{Field: "age", Operator: ComparisonOperatorGt, Value: 18}},
					{Condition: &FilterCondition{Field: "city", Operator: ComparisonOperatorEq, Value: "New York"}},
				},
			},
		}
		data := schema.Document{"age": 20, "city": "New York"}
		match, err := p.Match(context.Background(), filters, data)
		assert.NoError(t, err)
		assert.True(t, match)
	})

	t.Run("Matching group - OR", func(t *testing.T) {
		filters := &QueryFilter{
			Group: &FilterGroup{
				Operator: schema.LogicalOr,
				Conditions: []QueryFilter{
					{Condition: &FilterCondition{Field: "age", Operator: ComparisonOperatorGt, Value: 18}},
					{Condition: &FilterCondition{Field: "city", Operator: ComparisonOperatorEq, Value: "New York"}},
				},
			},
		}
		data := schema.Document{"age": 15, "city": "New York"}
		match, err := p.Match(context.Background(), filters, data)
		assert.NoError(t, err)
		assert.True(t, match)
	})

	t.Run("Custom operator", func(t *testing.T) {
		require.NoError(t, p.RegisterFilterFunction("even", func(doc schema.Document, field string, _ FilterValue) (bool, error) {
			n, ok := ToFloat64(doc[field])
			return ok && int(n)%2 == 0, nil
		}))
		filters := &QueryFilter{Condition: &FilterCondition{Field: "value", Operator: "even"}}
		match, err := p.Match(context.Background(), filters, schema.Document{"value": 4})
		assert.NoError(t, err)
		assert.True(t, match)
	})

	t.Run("Unregistered custom operator", func(t *testing.T) {
		filters := &QueryFilter{
			Condition: &FilterCondition{
				Field:    "field",
				Operator: "unregistered_op",
				Value:    "value",
			},
		}
		data := schema.Document{"field": "value"}
		_, err := p.Match(context.Background(), filters, data)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unregistered filter function for operator: unregistered_op")
	})

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Match(ctx, ptrFilter(CreateSimpleFilter("a", ComparisonOperatorEq, 1)), schema.Document{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
