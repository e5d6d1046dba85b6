package query

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-loom/core/schema"
)

// QueryBuilder assembles a QueryDSL in code. The built query is handed to a
// collection get through persistence.QueryFromDSL: its filters become the
// get's Where filter, its sort and pagination its Sort, Skip and Limit.
// Projections are evaluated only by a DataProcessor.
//
//	dsl := query.NewQueryBuilder().Where("age").Gt(30).OrderByAsc("name").Limit(10).Build()
//	env := owners.Get(ctx, persistence.GetRequest{Query: persistence.QueryFromDSL(dsl)})
type QueryBuilder struct {
	query QueryDSL
}

// NewQueryBuilder returns an empty builder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		query: QueryDSL{},
	}
}

// Build returns the constructed QueryDSL object.
func (qb *QueryBuilder) Build() QueryDSL {
	return qb.query
}

// Clone copies the builder so a base query can be extended without touching
// the original.
func (qb *QueryBuilder) Clone() *QueryBuilder {
	newBuilder := &QueryBuilder{}
	newBuilder.query = qb.query
	newBuilder.query.Sort = append([]SortConfiguration(nil), qb.query.Sort...)
	if qb.query.Pagination != nil {
		p := *qb.query.Pagination
		newBuilder.query.Pagination = &p
	}
	if qb.query.Projection != nil {
		p := *qb.query.Projection
		newBuilder.query.Projection = &p
	}
	return newBuilder
}

// Reset empties the builder.
func (qb *QueryBuilder) Reset() *QueryBuilder {
	qb.query = QueryDSL{}
	return qb
}

// FilterBuilder is the fluent step between Where and a comparison.
type FilterBuilder struct {
	parent *QueryBuilder
	filter *QueryFilter
}

// Where starts a condition on a document path.
func (qb *QueryBuilder) Where(field string) *FilterConditionBuilder {
	fb := &FilterBuilder{parent: qb}
	return &FilterConditionBuilder{
		filterBuilder: fb,
		field:         field,
	}
}

// WhereGroup starts a group of conditions joined by op.
func (qb *QueryBuilder) WhereGroup(operator schema.LogicalOperator) *FilterGroupBuilder {
	fb := &FilterBuilder{parent: qb}
	return &FilterGroupBuilder{
		filterBuilder: fb,
		operator:      operator,
		conditions:    []QueryFilter{},
	}
}

// FilterConditionBuilder completes one condition on a path.
type FilterConditionBuilder struct {
	filterBuilder *FilterBuilder
	field         string
}

// Eq adds an equality condition to the query.
func (fcb *FilterConditionBuilder) Eq(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorEq, value)
}

// Neq adds a not-equal condition to the query.
func (fcb *FilterConditionBuilder) Neq(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorNeq, value)
}

// Lt adds a less-than condition to the query.
func (fcb *FilterConditionBuilder) Lt(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorLt, value)
}

// Lte adds a less-than-or-equal condition to the query.
func (fcb *FilterConditionBuilder) Lte(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorLte, value)
}

// Gt adds a greater-than condition to the query.
func (fcb *FilterConditionBuilder) Gt(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorGt, value)
}

// Gte adds a greater-than-or-equal condition to the query.
func (fcb *FilterConditionBuilder) Gte(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorGte, value)
}

// In matches when the value at the path is one of values.
func (fcb *FilterConditionBuilder) In(values ...FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorIn, values)
}

// Nin matches when the value at the path is none of values.
func (fcb *FilterConditionBuilder) Nin(values ...FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorNin, values)
}

// Contains adds a condition to check if a string field contains a substring.
func (fcb *FilterConditionBuilder) Contains(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorContains, value)
}

// NotContains adds a condition to check if a string field does not contain a substring.
func (fcb *FilterConditionBuilder) NotContains(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorNotContains, value)
}

// StartsWith adds a condition to check if a string field starts with a specific prefix.
func (fcb *FilterConditionBuilder) StartsWith(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorStartsWith, value)
}

// EndsWith adds a condition to check if a string field ends with a specific suffix.
func (fcb *FilterConditionBuilder) EndsWith(value FilterValue) *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorEndsWith, value)
}

// Exists matches documents holding a non-null value at the path.
func (fcb *FilterConditionBuilder) Exists() *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorExists, true)
}

// NotExists matches documents without a value at the path.
func (fcb *FilterConditionBuilder) NotExists() *QueryBuilder {
	return fcb.addCondition(ComparisonOperatorNotExists, true)
}

// Custom uses an operator registered with DataProcessor.RegisterFilterFunction.
func (fcb *FilterConditionBuilder) Custom(operator ComparisonOperator, value FilterValue) *QueryBuilder {
	return fcb.addCondition(operator, value)
}

func (fcb *FilterConditionBuilder) addCondition(operator ComparisonOperator, value FilterValue) *QueryBuilder {
	condition := &FilterCondition{
		Field:    fcb.field,
		Operator: operator,
		Value:    value,
	}

	fcb.filterBuilder.parent.and(QueryFilter{Condition: condition})
	return fcb.filterBuilder.parent
}

// and appends a filter to the query. Successive filters are combined with a
// logical AND.
func (qb *QueryBuilder) and(filter QueryFilter) {
	switch {
	case qb.query.Filters.IsEmpty():
		qb.query.Filters = &filter
	case qb.query.Filters.Group != nil && qb.query.Filters.Group.Operator == LogicalOperatorAnd:
		conditions := append(append([]QueryFilter(nil), qb.query.Filters.Group.Conditions...), filter)
		combined := CreateFilterGroup(LogicalOperatorAnd, conditions...)
		qb.query.Filters = &combined
	default:
		combined := CreateFilterGroup(LogicalOperatorAnd, *qb.query.Filters, filter)
		qb.query.Filters = &combined
	}
}

// FilterGroupBuilder collects the conditions of one logical group.
type FilterGroupBuilder struct {
	filterBuilder *FilterBuilder
	outer         *FilterGroupBuilder
	operator      schema.LogicalOperator
	conditions    []QueryFilter
}

func (fgb *FilterGroupBuilder) Where(field string) *FilterConditionBuilderInGroup {
	return &FilterConditionBuilderInGroup{
		groupBuilder: fgb,
		field:        field,
	}
}

// WhereGroup adds a nested group of filters to the current group. Call
// EndGroup on the nested builder to return to the enclosing group.
func (fgb *FilterGroupBuilder) WhereGroup(operator schema.LogicalOperator) *FilterGroupBuilder {
	return &FilterGroupBuilder{
		filterBuilder: fgb.filterBuilder,
		outer:         fgb,
		operator:      operator,
		conditions:    []QueryFilter{},
	}
}

// Group adds an already built filter to the current group.
func (fgb *FilterGroupBuilder) Group(filter QueryFilter) *FilterGroupBuilder {
	fgb.conditions = append(fgb.conditions, filter)
	return fgb
}

// EndGroup closes a nested group and returns the enclosing group builder. On
// a top level group it behaves like End and returns nil.
func (fgb *FilterGroupBuilder) EndGroup() *FilterGroupBuilder {
	outer := fgb.outer
	fgb.End()
	return outer
}

// End closes the group and returns to the query builder.
func (fgb *FilterGroupBuilder) End() *QueryBuilder {
	group := &FilterGroup{
		Operator:   fgb.operator,
		Conditions: fgb.conditions,
	}

	if fgb.outer != nil {
		fgb.outer.conditions = append(fgb.outer.conditions, QueryFilter{Group: group})
		return fgb.filterBuilder.parent
	}
	fgb.filterBuilder.parent.and(QueryFilter{Group: group})
	return fgb.filterBuilder.parent
}

// FilterConditionBuilderInGroup completes one condition inside a group.
type FilterConditionBuilderInGroup struct {
	groupBuilder *FilterGroupBuilder
	field        string
}

func (fcbg *FilterConditionBuilderInGroup) Eq(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorEq, value)
}

func (fcbg *FilterConditionBuilderInGroup) Neq(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorNeq, value)
}

func (fcbg *FilterConditionBuilderInGroup) Lt(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorLt, value)
}

func (fcbg *FilterConditionBuilderInGroup) Lte(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorLte, value)
}

func (fcbg *FilterConditionBuilderInGroup) Gt(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorGt, value)
}

func (fcbg *FilterConditionBuilderInGroup) Gte(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorGte, value)
}

func (fcbg *FilterConditionBuilderInGroup) In(values ...FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorIn, values)
}

func (fcbg *FilterConditionBuilderInGroup) Nin(values ...FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorNin, values)
}

func (fcbg *FilterConditionBuilderInGroup) Contains(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorContains, value)
}

func (fcbg *FilterConditionBuilderInGroup) NotContains(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorNotContains, value)
}

func (fcbg *FilterConditionBuilderInGroup) StartsWith(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorStartsWith, value)
}

func (fcbg *FilterConditionBuilderInGroup) EndsWith(value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorEndsWith, value)
}

func (fcbg *FilterConditionBuilderInGroup) Exists() *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorExists, true)
}

func (fcbg *FilterConditionBuilderInGroup) NotExists() *FilterGroupBuilder {
	return fcbg.addConditionToGroup(ComparisonOperatorNotExists, true)
}

// Custom allows for custom comparison operators within a filter group.
func (fcbg *FilterConditionBuilderInGroup) Custom(operator ComparisonOperator, value FilterValue) *FilterGroupBuilder {
	return fcbg.addConditionToGroup(operator, value)
}

func (fcbg *FilterConditionBuilderInGroup) addConditionToGroup(operator ComparisonOperator, value FilterValue) *FilterGroupBuilder {
	condition := &FilterCondition{
		Field:    fcbg.field,
		Operator: operator,
		Value:    value,
	}

	filter := QueryFilter{Condition: condition}
	fcbg.groupBuilder.conditions = append(fcbg.groupBuilder.conditions, filter)
	return fcbg.groupBuilder
}

// OrderBy adds a sorting configuration to the query.
func (qb *QueryBuilder) OrderBy(field string, direction SortDirection) *QueryBuilder {
	sort := SortConfiguration{
		Field:     field,
		Direction: direction,
	}
	qb.query.Sort = append(qb.query.Sort, sort)
	return qb
}

// OrderByAsc adds an ascending sort order for a specific field.
func (qb *QueryBuilder) OrderByAsc(field string) *QueryBuilder {
	return qb.OrderBy(field, SortDirectionAsc)
}

// OrderByDesc adds a descending sort order for a specific field.
func (qb *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return qb.OrderBy(field, SortDirectionDesc)
}

// Limit caps the number of documents returned. Zero means no cap.
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	if qb.query.Pagination == nil {
		qb.query.Pagination = &PaginationOptions{}
	}
	qb.query.Pagination.Limit = limit
	return qb
}

// Offset sets how many matching documents are skipped before results are returned.
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	if qb.query.Pagination == nil {
		qb.query.Pagination = &PaginationOptions{}
	}
	qb.query.Pagination.Offset = offset
	return qb
}

// ProjectionBuilder selects the fields a DataProcessor returns.
type ProjectionBuilder struct {
	parent *QueryBuilder
	config *ProjectionConfiguration
}

// Select starts the projection.
func (qb *QueryBuilder) Select() *ProjectionBuilder {
	if qb.query.Projection == nil {
		qb.query.Projection = &ProjectionConfiguration{}
	}
	return &ProjectionBuilder{
		parent: qb,
		config: qb.query.Projection,
	}
}

// Include specifies which fields should be included in the result set.
func (pb *ProjectionBuilder) Include(fields ...string) *ProjectionBuilder {
	for _, field := range fields {
		pb.config.Include = append(pb.config.Include, ProjectionField{Name: field})
	}
	return pb
}

// Exclude specifies which fields should be excluded from the result set.
func (pb *ProjectionBuilder) Exclude(fields ...string) *ProjectionBuilder {
	for _, field := range fields {
		pb.config.Exclude = append(pb.config.Exclude, ProjectionField{Name: field})
	}
	return pb
}

// AddComputed adds a computed field to the projection. The function must be
// registered with the DataProcessor that evaluates the query.
func (pb *ProjectionBuilder) AddComputed(alias string, function string, args ...FilterValue) *ProjectionBuilder {
	pb.config.Computed = append(pb.config.Computed, ComputedFieldExpression{
		Expression: &FunctionCall{
			Function:  function,
			Arguments: args,
		},
		Alias: alias,
	})
	return pb
}

// End returns to the query builder.
func (pb *ProjectionBuilder) End() *QueryBuilder {
	return pb.parent
}

// QueryValidationError represents an error found during query validation.
type QueryValidationError struct {
	Field   string
	Message string
}

// Error returns the error message for a QueryValidationError.
func (ve QueryValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// QueryValidationResult contains the results of a query validation.
type QueryValidationResult struct {
	IsValid bool
	Errors  []QueryValidationError
}

// Validate reports pagination and projection mistakes in the built query.
func (qb *QueryBuilder) Validate() QueryValidationResult {
	var errors []QueryValidationError

	// Validate pagination
	if qb.query.Pagination != nil {
		if qb.query.Pagination.Limit < 0 {
			errors = append(errors, QueryValidationError{
				Field:   "pagination.limit",
				Message: "limit cannot be negative",
			})
		}

		if qb.query.Pagination.Offset < 0 {
			errors = append(errors, QueryValidationError{
				Field:   "pagination.offset",
				Message: "offset cannot be negative",
			})
		}
	}

	// Validate sort
	for i, sort := range qb.query.Sort {
		if sort.Field == "" {
			errors = append(errors, QueryValidationError{
				Field:   fmt.Sprintf("sort[%d].field", i),
				Message: "field cannot be empty",
			})
		}
		if sort.Direction != SortDirectionAsc && sort.Direction != SortDirectionDesc {
			errors = append(errors, QueryValidationError{
				Field:   fmt.Sprintf("sort[%d].direction", i),
				Message: fmt.Sprintf("unknown direction %q", sort.Direction),
			})
		}
	}

	// Validate projections
	if qb.query.Projection != nil {
		if len(qb.query.Projection.Include) > 0 && len(qb.query.Projection.Exclude) > 0 {
			errors = append(errors, QueryValidationError{
				Field:   "projection",
				Message: "cannot have both include and exclude fields",
			})
		}
		for i, computed := range qb.query.Projection.Computed {
			if computed.Alias == "" || computed.Expression == nil {
				errors = append(errors, QueryValidationError{
					Field:   fmt.Sprintf("projection.computed[%d]", i),
					Message: "computed fields need an alias and an expression",
				})
			}
		}
	}

	return QueryValidationResult{
		IsValid: len(errors) == 0,
		Errors:  errors,
	}
}

// String renders the query for logs.
func (qb *QueryBuilder) String() string {
	var parts []string

	if qb.query.Filters != nil {
		parts = append(parts, "FILTERS: present")
	}

	if len(qb.query.Sort) > 0 {
		sortFields := make([]string, len(qb.query.Sort))
		for i, sort := range qb.query.Sort {
			sortFields[i] = fmt.Sprintf("%s %s", sort.Field, sort.Direction)
		}
		parts = append(parts, fmt.Sprintf("ORDER BY: %s", strings.Join(sortFields, ", ")))
	}

	if qb.query.Pagination != nil {
		if qb.query.Pagination.Limit > 0 {
			parts = append(parts, fmt.Sprintf("LIMIT: %d", qb.query.Pagination.Limit))
		}
		if qb.query.Pagination.Offset > 0 {
			parts = append(parts, fmt.Sprintf("OFFSET: %d", qb.query.Pagination.Offset))
		}
	}

	if qb.query.Projection != nil {
		if len(qb.query.Projection.Include) > 0 {
			fields := make([]string, len(qb.query.Projection.Include))
			for i, field := range qb.query.Projection.Include {
				fields[i] = field.Name
			}
			parts = append(parts, fmt.Sprintf("SELECT: %s", strings.Join(fields, ", ")))
		}
		if len(qb.query.Projection.Exclude) > 0 {
			fields := make([]string, len(qb.query.Projection.Exclude))
			for i, field := range qb.query.Projection.Exclude {
				fields[i] = field.Name
			}
			parts = append(parts, fmt.Sprintf("EXCLUDE: %s", strings.Join(fields, ", ")))
		}
	}

	if qb.query.Projection != nil && len(qb.query.Projection.Computed) > 0 {
		parts = append(parts, fmt.Sprintf("COMPUTED: %d", len(qb.query.Projection.Computed)))
	}

	if len(parts) == 0 {
		return "EMPTY QUERY"
	}

	return strings.Join(parts, " | ")
}

// CreateSimpleFilter returns a one-condition filter.
func CreateSimpleFilter(field string, operator ComparisonOperator, value FilterValue) QueryFilter {
	return QueryFilter{
		Condition: &FilterCondition{
			Field:    field,
			Operator: operator,
			Value:    value,
		},
	}
}

// CreateFilterGroup joins filters with op.
func CreateFilterGroup(operator schema.LogicalOperator, conditions ...QueryFilter) QueryFilter {
	return QueryFilter{
		Group: &FilterGroup{
			Operator:   operator,
			Conditions: conditions,
		},
	}
}

// CreateProjectionConfig is a helper function to create a projection configuration.
func CreateProjectionConfig() *ProjectionConfiguration {
	return &ProjectionConfiguration{}
}

// AddIncludeFields adds fields to be included in a projection configuration.
func (pc *ProjectionConfiguration) AddIncludeFields(fields ...string) *ProjectionConfiguration {
	for _, field := range fields {
		pc.Include = append(pc.Include, ProjectionField{Name: field})
	}
	return pc
}

// AddExcludeFields adds fields to be excluded from a projection configuration.
func (pc *ProjectionConfiguration) AddExcludeFields(fields ...string) *ProjectionConfiguration {
	for _, field := range fields {
		pc.Exclude = append(pc.Exclude, ProjectionField{Name: field})
	}
	return pc
}
