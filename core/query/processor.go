package query

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/asaidimu/go-loom/core/schema"
	"go.uber.org/zap"
)

// ComputeFunction is a pure Go function that computes a new value for a
// document. It returns the value stored under the computed field's alias.
type ComputeFunction func(doc schema.Document, args []FilterValue) (any, error)

// PredicateFunction is a pure Go function that performs custom filtering logic
// on a document. It returns true if the document passes the filter.
type PredicateFunction func(doc schema.Document, field string, args FilterValue) (bool, error)

// DataProcessor evaluates filters, ordering, windows and projections against
// documents held in memory. Every store backend funnels its reads through
// one.
type DataProcessor struct {
	goComputeFunctions map[string]ComputeFunction
	goFilterFunctions  map[ComparisonOperator]PredicateFunction
	mu                 sync.RWMutex
	logger             *zap.Logger
}

// NewDataProcessor creates a new DataProcessor instance.
func NewDataProcessor(logger *zap.Logger) *DataProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataProcessor{
		goComputeFunctions: make(map[string]ComputeFunction),
		goFilterFunctions:  make(map[ComparisonOperator]PredicateFunction),
		logger:             logger,
	}
}

// RegisterComputeFunction registers a Go function for computed fields.
func (p *DataProcessor) RegisterComputeFunction(name string, fn ComputeFunction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.goComputeFunctions[name] = fn
	p.logger.Debug("Registered compute function", zap.String("name", name))
}

// RegisterFilterFunction registers a Go function for a custom operator. The
// standard operators cannot be overridden.
func (p *DataProcessor) RegisterFilterFunction(operator ComparisonOperator, fn PredicateFunction) error {
	if operator.IsStandard() {
		return fmt.Errorf("operator %q is built in", operator)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.goFilterFunctions[operator] = fn
	p.logger.Debug("Registered filter function", zap.String("operator", string(operator)))
	return nil
}

// RegisterComputeFunctions registers multiple ComputeFunction functions from a map.
func (p *DataProcessor) RegisterComputeFunctions(functionMap map[string]ComputeFunction) {
	for name, fn := range functionMap {
		p.RegisterComputeFunction(name, fn)
	}
}

// RegisterFilterFunctions registers multiple PredicateFunction functions from a map.
func (p *DataProcessor) RegisterFilterFunctions(functionMap map[ComparisonOperator]PredicateFunction) error {
	for operator, fn := range functionMap {
		if err := p.RegisterFilterFunction(operator, fn); err != nil {
			return err
		}
	}
	return nil
}

// DetermineFieldsToSelect returns the top level fields a query reads: the
// included fields, the string arguments of computed fields and the fields
// referenced by custom filter operators.
func (p *DataProcessor) DetermineFieldsToSelect(dsl *QueryDSL) []ProjectionField {
	requiredFields := make(map[string]struct{})

	if dsl.Projection != nil {
		for _, field := range dsl.Projection.Include {
			if field.Name != "" {
				requiredFields[field.Name] = struct{}{}
			}
		}
		for _, computed := range dsl.Projection.Computed {
			if computed.Expression == nil {
				continue
			}
			for _, arg := range computed.Expression.Arguments {
				if fieldName, ok := arg.(string); ok {
					requiredFields[fieldName] = struct{}{}
				}
			}
		}
	}

	collectCustomFilterFields(dsl.Filters, requiredFields)

	finalFields := make([]ProjectionField, 0, len(requiredFields))
	for fieldName := range requiredFields {
		finalFields = append(finalFields, ProjectionField{Name: fieldName})
	}
	sort.Slice(finalFields, func(i, j int) bool { return finalFields[i].Name < finalFields[j].Name })
	return finalFields
}

func collectCustomFilterFields(filter *QueryFilter, fields map[string]struct{}) {
	if filter == nil {
		return
	}
	if filter.Condition != nil && !filter.Condition.Operator.IsStandard() {
		fields[filter.Condition.Field] = struct{}{}
	}
	if filter.Group != nil {
		for i := range filter.Group.Conditions {
			collectCustomFilterFields(&filter.Group.Conditions[i], fields)
		}
	}
}

// ProcessRows runs a complete query over rows: filter, sort, window, computed
// fields and the final projection. Rows are not modified; projected rows are
// fresh maps.
func (p *DataProcessor) ProcessRows(rows []schema.Document, dsl *QueryDSL) ([]schema.Document, error) {
	processedRows, err := p.Filter(rows, dsl.Filters)
	if err != nil {
		return nil, fmt.Errorf("filter failed: %w", err)
	}
	p.logger.Debug("Rows remaining after filters", zap.Int("count", len(processedRows)))

	Sort(processedRows, dsl.Sort)
	if dsl.Pagination != nil {
		processedRows = Window(processedRows, dsl.Pagination.Offset, dsl.Pagination.Limit)
	}

	processedRows, err = p.applyGoComputeFunctions(processedRows, dsl.Projection)
	if err != nil {
		return nil, fmt.Errorf("computed field failed: %w", err)
	}

	finalResults := applyFinalProjection(processedRows, dsl.Projection)
	p.logger.Debug("Rows returned after final projection", zap.Int("count", len(finalResults)))

	return finalResults, nil
}

// Filter returns the rows that match filter, in their original order. The
// returned slice never aliases rows.
func (p *DataProcessor) Filter(rows []schema.Document, filter *QueryFilter) ([]schema.Document, error) {
	if filter.IsEmpty() {
		return append([]schema.Document(nil), rows...), nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	filteredRows := make([]schema.Document, 0, len(rows))
	for _, row := range rows {
		passes, err := p.evaluate(map[string]any(row), filter)
		if err != nil {
			return nil, err
		}
		if passes {
			filteredRows = append(filteredRows, row)
		}
	}
	return filteredRows, nil
}

// Match evaluates a single document against filter. An empty filter matches
// every document.
func (p *DataProcessor) Match(ctx context.Context, filter *QueryFilter, data schema.Document) (bool, error) {
	if filter.IsEmpty() {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.evaluate(map[string]any(data), filter)
}

// evaluate walks a filter tree against root. Root is normally a document but
// may be any value when the filter is the body of an elemmatch on scalars.
func (p *DataProcessor) evaluate(root any, filter *QueryFilter) (bool, error) {
	if filter.Condition != nil {
		return p.evaluateCondition(root, filter.Condition)
	}
	if filter.Group == nil {
		return true, nil
	}

	switch filter.Group.Operator {
	case schema.LogicalAnd, schema.LogicalNot:
		all := true
		for i := range filter.Group.Conditions {
			passes, err := p.evaluate(root, &filter.Group.Conditions[i])
			if err != nil {
				return false, err
			}
			if !passes {
				all = false
				break
			}
		}
		if filter.Group.Operator == schema.LogicalNot {
			return !all, nil
		}
		return all, nil
	case schema.LogicalOr, schema.LogicalNor:
		some := false
		for i := range filter.Group.Conditions {
			passes, err := p.evaluate(root, &filter.Group.Conditions[i])
			if err != nil {
				return false, err
			}
			if passes {
				some = true
				break
			}
		}
		if filter.Group.Operator == schema.LogicalNor {
			return !some, nil
		}
		return some, nil
	default:
		return false, fmt.Errorf("unsupported logical operator: %s", filter.Group.Operator)
	}
}

func (p *DataProcessor) evaluateCondition(root any, condition *FilterCondition) (bool, error) {
	if !condition.Operator.IsStandard() {
		fn, ok := p.goFilterFunctions[condition.Operator]
		if !ok {
			return false, fmt.Errorf("unregistered filter function for operator: %s", condition.Operator)
		}
		doc, _ := root.(map[string]any)
		return fn(schema.Document(doc), condition.Field, condition.Value)
	}

	var (
		values []any
		found  bool
	)
	if condition.Field == "" {
		values, found = []any{root}, true
	} else if doc, ok := root.(map[string]any); ok {
		values, found = Resolve(doc, condition.Field)
	}

	switch condition.Operator {
	case ComparisonOperatorExists:
		return found, nil
	case ComparisonOperatorNotExists:
		return !found, nil
	case ComparisonOperatorEq:
		return matchEq(values, found, condition.Value), nil
	case ComparisonOperatorNeq:
		return !matchEq(values, found, condition.Value), nil
	case ComparisonOperatorIn:
		return matchIn(values, found, condition.Value)
	case ComparisonOperatorNin:
		in, err := matchIn(values, found, condition.Value)
		return !in, err
	case ComparisonOperatorGt, ComparisonOperatorGte, ComparisonOperatorLt, ComparisonOperatorLte:
		return matchRange(values, condition.Operator, condition.Value), nil
	case ComparisonOperatorContains:
		return matchString(values, condition.Value, strings.Contains), nil
	case ComparisonOperatorNotContains:
		return !matchString(values, condition.Value, strings.Contains), nil
	case ComparisonOperatorStartsWith:
		return matchString(values, condition.Value, strings.HasPrefix), nil
	case ComparisonOperatorEndsWith:
		return matchString(values, condition.Value, strings.HasSuffix), nil
	case ComparisonOperatorRegex:
		return matchRegex(values, condition.Value)
	case ComparisonOperatorSize:
		return matchSize(values, condition.Value)
	case ComparisonOperatorAll:
		return matchAll(values, condition.Value)
	case ComparisonOperatorElemMatch:
		return p.matchElem(values, condition.Value)
	}
	return false, fmt.Errorf("unsupported comparison operator: %s", condition.Operator)
}

// matchEq treats a missing field as equal to null.
func matchEq(values []any, found bool, target any) bool {
	if !found {
		return Normalize(target) == nil
	}
	for _, v := range values {
		if Equal(v, target) {
			return true
		}
	}
	return false
}

func matchIn(values []any, found bool, target any) (bool, error) {
	list, ok := asList(target)
	if !ok {
		return false, fmt.Errorf("in expects an array, got %T", target)
	}
	for _, candidate := range list {
		if matchEq(values, found, candidate) {
			return true, nil
		}
	}
	return false, nil
}

func matchRange(values []any, op ComparisonOperator, target any) bool {
	for _, v := range values {
		c, ok := Compare(v, target)
		if !ok || v == nil {
			continue
		}
		switch op {
		case ComparisonOperatorGt:
			if c > 0 {
				return true
			}
		case ComparisonOperatorGte:
			if c >= 0 {
				return true
			}
		case ComparisonOperatorLt:
			if c < 0 {
				return true
			}
		case ComparisonOperatorLte:
			if c <= 0 {
				return true
			}
		}
	}
	return false
}

func matchString(values []any, target any, fn func(s, sub string) bool) bool {
	sub, ok := target.(string)
	if !ok {
		return false
	}
	for _, v := range values {
		if s, isString := v.(string); isString && fn(s, sub) {
			return true
		}
	}
	return false
}

func matchRegex(values []any, target any) (bool, error) {
	re, ok := target.(*regexp.Regexp)
	if !ok {
		pattern, isString := target.(string)
		if !isString {
			return false, fmt.Errorf("regex expects a pattern, got %T", target)
		}
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return false, err
		}
	}
	for _, v := range values {
		if s, isString := v.(string); isString && re.MatchString(s) {
			return true, nil
		}
	}
	return false, nil
}

func matchSize(values []any, target any) (bool, error) {
	n, ok := number(target)
	if !ok {
		return false, fmt.Errorf("size expects a number, got %T", target)
	}
	for _, v := range values {
		if list, isList := asList(v); isList && float64(len(list)) == n {
			return true, nil
		}
	}
	return false, nil
}

func matchAll(values []any, target any) (bool, error) {
	wanted, ok := asList(target)
	if !ok {
		return false, fmt.Errorf("all expects an array, got %T", target)
	}
	for _, v := range values {
		list, isList := asList(v)
		if !isList {
			continue
		}
		if containsAll(list, wanted) {
			return true, nil
		}
	}
	return false, nil
}

func containsAll(list, wanted []any) bool {
	for _, w := range wanted {
		hit := false
		for _, e := range list {
			if Equal(e, w) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (p *DataProcessor) matchElem(values []any, target any) (bool, error) {
	sub, ok := target.(*QueryFilter)
	if !ok {
		return false, fmt.Errorf("elemmatch expects a filter, got %T", target)
	}
	for _, v := range values {
		list, isList := asList(v)
		if !isList {
			continue
		}
		for _, el := range list {
			if m, isMap := el.(schema.Document); isMap {
				el = map[string]any(m)
			}
			passes, err := p.evaluate(el, sub)
			if err != nil {
				return false, err
			}
			if passes {
				return true, nil
			}
		}
	}
	return false, nil
}

// Sort orders rows in place by the given keys. Missing fields sort as null.
func Sort(rows []schema.Document, keys []SortConfiguration) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range keys {
			a, _ := GetPath(rows[i], key.Field)
			b, _ := GetPath(rows[j], key.Field)
			c := SortCompare(a, b)
			if c == 0 {
				continue
			}
			if key.Direction == SortDirectionDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Window skips offset rows and keeps at most limit of the rest. A zero limit
// keeps everything.
func Window[T any](rows []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (p *DataProcessor) applyGoComputeFunctions(rows []schema.Document, projection *ProjectionConfiguration) ([]schema.Document, error) {
	if projection == nil || len(projection.Computed) == 0 {
		return rows, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]schema.Document, len(rows))
	for i, row := range rows {
		computedRow := maps.Clone(row)
		for _, item := range projection.Computed {
			if item.Expression == nil {
				continue
			}
			funcName := item.Expression.Function
			alias := item.Alias
			if alias == "" {
				alias = funcName
			}

			fn, ok := p.goComputeFunctions[funcName]
			if !ok {
				return nil, fmt.Errorf("unregistered compute function: %s", funcName)
			}

			computedValue, err := fn(row, item.Expression.Arguments)
			if err != nil {
				return nil, fmt.Errorf("error executing compute function '%s': %w", funcName, err)
			}
			computedRow[alias] = computedValue
		}
		out[i] = computedRow
	}
	return out, nil
}

// applyFinalProjection keeps the included top level fields (plus computed
// aliases) or drops the excluded ones. The _id field is kept unless it is
// excluded explicitly.
func applyFinalProjection(rows []schema.Document, projection *ProjectionConfiguration) []schema.Document {
	if projection == nil || (len(projection.Include) == 0 && len(projection.Exclude) == 0) {
		return rows
	}

	excludeSet := make(map[string]struct{}, len(projection.Exclude))
	for _, f := range projection.Exclude {
		excludeSet[f.Name] = struct{}{}
	}

	includeAll := len(projection.Include) == 0
	includeSet := make(map[string]struct{}, len(projection.Include)+1)
	if !includeAll {
		includeSet["_id"] = struct{}{}
		for _, f := range projection.Include {
			includeSet[f.Name] = struct{}{}
		}
		for _, computed := range projection.Computed {
			if computed.Alias != "" {
				includeSet[computed.Alias] = struct{}{}
			}
		}
	}

	finalRows := make([]schema.Document, 0, len(rows))
	for _, originalRow := range rows {
		var newRow schema.Document
		if includeAll {
			newRow = originalRow.Clone()
		} else {
			newRow = make(schema.Document, len(includeSet))
			for name := range includeSet {
				if value, ok := GetPath(originalRow, name); ok {
					if err := SetPath(newRow, name, value); err != nil {
						continue
					}
				}
			}
		}
		for name := range excludeSet {
			UnsetPath(newRow, name)
		}
		finalRows = append(finalRows, newRow)
	}
	return finalRows
}
