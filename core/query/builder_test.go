package query

import (
	"testing"

	"github.com/asaidimu/go-loom/core/schema"
	"github.com/stretchr/testify/assert"
)

func TestNewQueryBuilder(t *testing.T) {
	qb := NewQueryBuilder()
	assert.NotNil(t, qb)
	assert.Nil(t, qb.query.Filters)
	assert.Empty(t, qb.query.Sort)
	assert.Nil(t, qb.query.Pagination)
	assert.Nil(t, qb.query.Projection)
}

func TestQueryBuilder_Build(t *testing.T) {
	qb := NewQueryBuilder()
	dsl := qb.Build()
	assert.Equal(t, QueryDSL{}, dsl)

	qb.Limit(10)
	dsl = qb.Build()
	assert.NotNil(t, dsl.Pagination)
	assert.Equal(t, 10, dsl.Pagination.Limit)
}

func TestQueryBuilder_Clone(t *testing.T) {
	qb := NewQueryBuilder().Limit(10).OrderByAsc("name")
	clonedQb := qb.Clone()

	assert.NotNil(t, clonedQb)
	assert.Equal(t, qb.query, clonedQb.query)

	// Modify clonedQb and ensure original qb is not affected
	clonedQb.Limit(20).OrderByDesc("code")
	assert.Equal(t, 10, qb.query.Pagination.Limit)
	assert.Equal(t, 20, clonedQb.query.Pagination.Limit)
	assert.Len(t, qb.query.Sort, 1)
}

func TestQueryBuilder_Reset(t *testing.T) {
	qb := NewQueryBuilder().Limit(10).OrderByAsc("name").Where("a").Eq(1)
	assert.NotNil(t, qb.query.Pagination)
	assert.NotEmpty(t, qb.query.Sort)

	qb.Reset()
	assert.Equal(t, QueryDSL{}, qb.query)
}

func TestQueryBuilder_Where(t *testing.T) {
	tests := []struct {
		name     string
		buildFn  func(*QueryBuilder) *QueryBuilder
		operator ComparisonOperator
		value    FilterValue
	}{
		{"Eq condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Eq("value1") }, ComparisonOperatorEq, "value1"},
		{"Neq condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Neq("value1") }, ComparisonOperatorNeq, "value1"},
		{"Lt condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Lt(10) }, ComparisonOperatorLt, 10},
		{"Lte condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Lte(10) }, ComparisonOperatorLte, 10},
		{"Gt condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Gt(10) }, ComparisonOperatorGt, 10},
		{"Gte condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Gte(10) }, ComparisonOperatorGte, 10},
		{"In condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").In(1, 2) }, ComparisonOperatorIn, []FilterValue{1, 2}},
		{"Nin condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Nin(1, 2) }, ComparisonOperatorNin, []FilterValue{1, 2}},
		{"Contains condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Contains("x") }, ComparisonOperatorContains, "x"},
		{"NotContains condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").NotContains("x") }, ComparisonOperatorNotContains, "x"},
		{"StartsWith condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").StartsWith("x") }, ComparisonOperatorStartsWith, "x"},
		{"EndsWith condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").EndsWith("x") }, ComparisonOperatorEndsWith, "x"},
		{"Exists condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Exists() }, ComparisonOperatorExists, true},
		{"NotExists condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").NotExists() }, ComparisonOperatorNotExists, true},
		{"Custom condition", func(qb *QueryBuilder) *QueryBuilder { return qb.Where("field1").Custom("near", 3) }, "near", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qb := NewQueryBuilder()
			resultQb := tt.buildFn(qb)
			assert.Same(t, qb, resultQb, "Should return the same QueryBuilder instance")
			assert.NotNil(t, qb.query.Filters)
			assert.Equal(t, CreateSimpleFilter("field1", tt.operator, tt.value), *qb.query.Filters)
		})
	}
}

func TestQueryBuilder_WhereChainsWithAnd(t *testing.T) {
	qb := NewQueryBuilder().
		Where("code").Gte(1).
		Where("color").Eq("red").
		Where("name").Exists()

	expected := CreateFilterGroup(schema.LogicalAnd,
		CreateSimpleFilter("code", ComparisonOperatorGte, 1),
		CreateSimpleFilter("color", ComparisonOperatorEq, "red"),
		CreateSimpleFilter("name", ComparisonOperatorExists, true),
	)
	assert.Equal(t, expected, *qb.query.Filters)

	// An OR group followed by a condition is wrapped, not merged.
	qb = NewQueryBuilder().
		WhereGroup(schema.LogicalOr).Where("a").Eq(1).Where("b").Eq(2).End().
		Where("c").Eq(3)
	assert.Equal(t, schema.LogicalAnd, qb.query.Filters.Group.Operator)
	assert.Len(t, qb.query.Filters.Group.Conditions, 2)
	assert.Equal(t, schema.LogicalOr, qb.query.Filters.Group.Conditions[0].Group.Operator)
}

func TestQueryBuilder_WhereGroup(t *testing.T) {
	tests := []struct {
		name     string
		buildFn  func(*QueryBuilder) *QueryBuilder
		expected QueryFilter
	}{
		{
			name: "AND group with two conditions",
			buildFn: func(qb *QueryBuilder) *QueryBuilder {
				return qb.WhereGroup(schema.LogicalAnd).
					Where("field1").Eq("value1").
					Where("field2").Gt(10).
					End()
			},
			expected: QueryFilter{
				Group: &FilterGroup{
					Operator: schema.LogicalAnd,
					Conditions: []QueryFilter{
						{Condition: &FilterCondition{Field: "field1", Operator: ComparisonOperatorEq, Value: "value1"}},
						{Condition: &FilterCondition{Field: "field2", Operator: ComparisonOperatorGt, Value: 10}},
					},
				},
			},
		},
		{
			name: "OR group with two conditions",
			buildFn: func(qb *QueryBuilder) *QueryBuilder {
				return qb.WhereGroup(schema.LogicalOr).
					Where("fieldA").Neq("valueA").
					Where("fieldB").Lte(20).
					End()
			},
			expected: QueryFilter{
				Group: &FilterGroup{
					Operator: schema.LogicalOr,
					Conditions: []QueryFilter{
						{Condition: &FilterCondition{Field: "fieldA", Operator: ComparisonOperatorNeq, Value: "valueA"}},
						{Condition: &FilterCondition{Field: "fieldB", Operator: ComparisonOperatorLte, Value: 20}},
					},
				},
			},
		},
		{
			name: "Nested AND group within OR group",
			buildFn: func(qb *QueryBuilder) *QueryBuilder {
				return qb.WhereGroup(schema.LogicalOr).
					Where("field1").Eq("value1").
					WhereGroup(schema.LogicalAnd).
					Where("nestedField1").Contains("text").
					Where("nestedField2").Exists().
					EndGroup().
					End()
			},
			expected: QueryFilter{
				Group: &FilterGroup{
					Operator: schema.LogicalOr,
					Conditions: []QueryFilter{
						{Condition: &FilterCondition{Field: "field1", Operator: ComparisonOperatorEq, Value: "value1"}},
						{Group: &FilterGroup{
							Operator: schema.LogicalAnd,
							Conditions: []QueryFilter{
								{Condition: &FilterCondition{Field: "nestedField1", Operator: ComparisonOperatorContains, Value: "text"}},
								{Condition: &FilterCondition{Field: "nestedField2", Operator: ComparisonOperatorExists, Value: true}},
							},
						}},
					},
				},
			},
		},
		{
			name: "Prebuilt filter added to a group",
			buildFn: func(qb *QueryBuilder) *QueryBuilder {
				nested := NewQueryBuilder().Where("x").Eq(1).Build().Filters
				return qb.WhereGroup(schema.LogicalNor).Group(*nested).End()
			},
			expected: CreateFilterGroup(schema.LogicalNor, CreateSimpleFilter("x", ComparisonOperatorEq, 1)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qb := NewQueryBuilder()
			resultQb := tt.buildFn(qb)
			assert.Same(t, qb, resultQb, "Should return the same QueryBuilder instance")
			assert.NotNil(t, qb.query.Filters)
			assert.Equal(t, tt.expected, *qb.query.Filters)
		})
	}
}

func TestQueryBuilder_OrderBy(t *testing.T) {
	qb := NewQueryBuilder().
		OrderBy("name", SortDirectionAsc).
		OrderByDesc("age")

	expectedSort := []SortConfiguration{
		{Field: "name", Direction: SortDirectionAsc},
		{Field: "age", Direction: SortDirectionDesc},
	}

	assert.Equal(t, expectedSort, qb.query.Sort)
}

func TestQueryBuilder_Pagination(t *testing.T) {
	t.Run("Limit only", func(t *testing.T) {
		qb := NewQueryBuilder().Limit(10)
		assert.Equal(t, &PaginationOptions{Limit: 10}, qb.query.Pagination)
	})

	t.Run("Limit and Offset", func(t *testing.T) {
		qb := NewQueryBuilder().Limit(10).Offset(5)
		assert.Equal(t, &PaginationOptions{Limit: 10, Offset: 5}, qb.query.Pagination)
	})

	t.Run("Offset only", func(t *testing.T) {
		qb := NewQueryBuilder().Offset(5)
		assert.Equal(t, &PaginationOptions{Offset: 5}, qb.query.Pagination)
	})
}

func TestQueryBuilder_Select(t *testing.T) {
	qb := NewQueryBuilder().Select().
		Include("name", "code").
		AddComputed("label", "concat", "name", "code").
		End()

	assert.Equal(t, []ProjectionField{{Name: "name"}, {Name: "code"}}, qb.query.Projection.Include)
	assert.Equal(t, []ComputedFieldExpression{{
		Expression: &FunctionCall{Function: "concat", Arguments: []FilterValue{"name", "code"}},
		Alias:      "label",
	}}, qb.query.Projection.Computed)

	qb = NewQueryBuilder().Select().Exclude("secret").End()
	assert.Equal(t, []ProjectionField{{Name: "secret"}}, qb.query.Projection.Exclude)
}

func TestQueryBuilder_Validate(t *testing.T) {
	tests := []struct {
		name   string
		qb     *QueryBuilder
		fields []string
	}{
		{"empty query", NewQueryBuilder(), nil},
		{"valid query", NewQueryBuilder().Where("a").Eq(1).OrderByAsc("a").Limit(5).Offset(1), nil},
		{"negative limit", NewQueryBuilder().Limit(-1), []string{"pagination.limit"}},
		{"negative offset", NewQueryBuilder().Offset(-1), []string{"pagination.offset"}},
		{"empty sort field", NewQueryBuilder().OrderByAsc(""), []string{"sort[0].field"}},
		{"bad direction", NewQueryBuilder().OrderBy("a", "sideways"), []string{"sort[0].direction"}},
		{"include and exclude", NewQueryBuilder().Select().Include("a").Exclude("b").End(), []string{"projection"}},
		{"computed without alias", NewQueryBuilder().Select().AddComputed("", "f").End(), []string{"projection.computed[0]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.qb.Validate()
			assert.Equal(t, len(tt.fields) == 0, result.IsValid)
			var got []string
			for _, e := range result.Errors {
				got = append(got, e.Field)
				assert.Contains(t, e.Error(), e.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestQueryBuilder_String(t *testing.T) {
	assert.Equal(t, "EMPTY QUERY", NewQueryBuilder().String())

	qb := NewQueryBuilder().
		Where("a").Eq(1).
		OrderByAsc("a").OrderByDesc("b").
		Limit(10).Offset(20).
		Select().Include("a").AddComputed("c", "f").End()
	assert.Equal(t,
		"FILTERS: present | ORDER BY: a asc, b desc | LIMIT: 10 | OFFSET: 20 | SELECT: a | COMPUTED: 1",
		qb.String())
}

func TestCreateSimpleFilter(t *testing.T) {
	filter := CreateSimpleFilter("name", ComparisonOperatorEq, "test")
	assert.NotNil(t, filter.Condition)
	assert.Nil(t, filter.Group)
	assert.Equal(t, "name", filter.Condition.Field)
	assert.Equal(t, ComparisonOperatorEq, filter.Condition.Operator)
	assert.Equal(t, "test", filter.Condition.Value)
}

func TestCreateFilterGroup(t *testing.T) {
	cond1 := CreateSimpleFilter("age", ComparisonOperatorGt, 18)
	cond2 := CreateSimpleFilter("city", ComparisonOperatorEq, "NY")
	group := CreateFilterGroup(schema.LogicalAnd, cond1, cond2)
	assert.NotNil(t, group.Group)
	assert.Nil(t, group.Condition)
	assert.Equal(t, schema.LogicalAnd, group.Group.Operator)
	assert.Len(t, group.Group.Conditions, 2)
}

func TestProjectionConfiguration_Fields(t *testing.T) {
	pc := CreateProjectionConfig().AddIncludeFields("a", "b").AddExcludeFields("c")
	assert.Equal(t, []ProjectionField{{Name: "a"}, {Name: "b"}}, pc.Include)
	assert.Equal(t, []ProjectionField{{Name: "c"}}, pc.Exclude)
}
