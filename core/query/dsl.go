// Package query defines the filter language shared by every store backend. A
// QueryFilter is either a single condition on a dotted field path or a group
// of filters joined by a logical operator. Filters are usually parsed from
// Mongo-style maps with ParseFilter and evaluated with a DataProcessor.
package query

import (
	"github.com/asaidimu/go-loom/core/schema"
)

// Logical operators for combining filter conditions.
const (
	LogicalOperatorAnd schema.LogicalOperator = schema.LogicalAnd
	LogicalOperatorOr  schema.LogicalOperator = schema.LogicalOr
	LogicalOperatorNot schema.LogicalOperator = schema.LogicalNot
	LogicalOperatorNor schema.LogicalOperator = schema.LogicalNor
)

// ComparisonOperator defines the set of operators that can be used in a filter condition.
type ComparisonOperator string

// Supported comparison operators.
const (
	ComparisonOperatorEq          ComparisonOperator = "eq"
	ComparisonOperatorNeq         ComparisonOperator = "neq"
	ComparisonOperatorLt          ComparisonOperator = "lt"
	ComparisonOperatorLte         ComparisonOperator = "lte"
	ComparisonOperatorGt          ComparisonOperator = "gt"
	ComparisonOperatorGte         ComparisonOperator = "gte"
	ComparisonOperatorIn          ComparisonOperator = "in"
	ComparisonOperatorNin         ComparisonOperator = "nin"
	ComparisonOperatorContains    ComparisonOperator = "contains"
	ComparisonOperatorNotContains ComparisonOperator = "ncontains"
	ComparisonOperatorStartsWith  ComparisonOperator = "startswith"
	ComparisonOperatorEndsWith    ComparisonOperator = "endswith"
	ComparisonOperatorExists      ComparisonOperator = "exists"
	ComparisonOperatorNotExists   ComparisonOperator = "nexists"
	ComparisonOperatorRegex       ComparisonOperator = "regex"
	ComparisonOperatorSize        ComparisonOperator = "size"
	ComparisonOperatorAll         ComparisonOperator = "all"
	ComparisonOperatorElemMatch   ComparisonOperator = "elemmatch"
)

// FilterValue represents the value used in a filter condition.
type FilterValue any

// FilterCondition defines a single condition on a dotted field path.
type FilterCondition struct {
	Field    string             `json:"field"`
	Operator ComparisonOperator `json:"operator"`
	Value    FilterValue        `json:"value,omitempty"`
}

// FilterGroup combines multiple filters using a logical operator. A "not"
// group negates the conjunction of its conditions.
type FilterGroup struct {
	Operator   schema.LogicalOperator `json:"operator"`
	Conditions []QueryFilter          `json:"conditions"`
}

// QueryFilter is a union type that can represent either a single filter condition
// or a group of conditions. The zero value matches every document.
type QueryFilter struct {
	Condition *FilterCondition `json:",omitempty"`
	Group     *FilterGroup     `json:",omitempty"`
}

// IsEmpty reports whether the filter matches everything.
func (f *QueryFilter) IsEmpty() bool {
	return f == nil || (f.Condition == nil && f.Group == nil)
}

// SortDirection specifies the direction for sorting.
type SortDirection string

// Supported sort directions.
const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// SortConfiguration defines the sorting order for a specific field.
type SortConfiguration struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// PaginationOptions defines how the query results should be paginated.
type PaginationOptions struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ProjectionField defines a field to be included or excluded in the query result.
type ProjectionField struct {
	Name string `json:"name"`
}

// FunctionCall names a registered compute function and its arguments.
type FunctionCall struct {
	Function  string        `json:"function"`
	Arguments []FilterValue `json:"arguments,omitempty"`
}

// ComputedFieldExpression defines a field that is computed at query time using a function.
type ComputedFieldExpression struct {
	Expression *FunctionCall `json:"expression"`
	Alias      string        `json:"alias"`
}

// ProjectionConfiguration defines which fields should be returned in the query result.
type ProjectionConfiguration struct {
	Include  []ProjectionField         `json:",omitempty"`
	Exclude  []ProjectionField         `json:",omitempty"`
	Computed []ComputedFieldExpression `json:",omitempty"`
}

// QueryDSL is a complete query: filter, order, window and projection.
type QueryDSL struct {
	Filters    *QueryFilter             `json:",omitempty"`
	Sort       []SortConfiguration      `json:",omitempty"`
	Pagination *PaginationOptions       `json:",omitempty"`
	Projection *ProjectionConfiguration `json:",omitempty"`
}

// standardComparisonOperators is a set of all the standard, built-in comparison operators.
var standardComparisonOperators = map[ComparisonOperator]struct{}{
	ComparisonOperatorEq:          {},
	ComparisonOperatorNeq:         {},
	ComparisonOperatorLt:          {},
	ComparisonOperatorLte:         {},
	ComparisonOperatorGt:          {},
	ComparisonOperatorGte:         {},
	ComparisonOperatorIn:          {},
	ComparisonOperatorNin:         {},
	ComparisonOperatorContains:    {},
	ComparisonOperatorNotContains: {},
	ComparisonOperatorStartsWith:  {},
	ComparisonOperatorEndsWith:    {},
	ComparisonOperatorExists:      {},
	ComparisonOperatorNotExists:   {},
	ComparisonOperatorRegex:       {},
	ComparisonOperatorSize:        {},
	ComparisonOperatorAll:         {},
	ComparisonOperatorElemMatch:   {},
}

// IsStandard checks if a comparison operator is one of the standard, built-in operators.
func (c ComparisonOperator) IsStandard() bool {
	_, ok := standardComparisonOperators[c]
	return ok
}
