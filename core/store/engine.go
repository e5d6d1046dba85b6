package store

import (
	"context"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"go.uber.org/zap"
)

// Engine evaluates filters, updates and pipelines over documents a backend
// has loaded. Backends own storage and candidate selection; the Engine owns
// the query semantics so that every backend answers the same way.
type Engine struct {
	processor *query.DataProcessor
	logger    *zap.Logger
}

// NewEngine creates an Engine with its own DataProcessor.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		processor: query.NewDataProcessor(logger),
		logger:    logger,
	}
}

// Processor exposes the underlying DataProcessor so callers can register
// custom filter operators.
func (e *Engine) Processor() *query.DataProcessor {
	return e.processor
}

// Select filters, sorts and windows docs. The returned documents are deep
// copies.
func (e *Engine) Select(ctx context.Context, docs []schema.Document, filter *query.QueryFilter, opts FindOptions) ([]schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched, err := e.processor.Filter(docs, filter)
	if err != nil {
		return nil, err
	}
	query.Sort(matched, opts.Sort)
	matched = query.Window(matched, opts.Skip, opts.Limit)

	out := make([]schema.Document, len(matched))
	for i, doc := range matched {
		out[i] = doc.Clone()
	}
	e.logger.Debug("Selected documents",
		zap.Int("candidates", len(docs)),
		zap.Int("returned", len(out)),
	)
	return out, nil
}

// Aggregate runs a pipeline over docs.
func (e *Engine) Aggregate(ctx context.Context, docs []schema.Document, pipeline []map[string]any) ([]schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.processor.Aggregate(docs, pipeline)
}

// UpdatePlan lists the documents an update writes.
type UpdatePlan struct {
	// Replace holds matched documents whose content changed, already updated.
	Replace []schema.Document
	// Insert holds the upserted document, if any.
	Insert []schema.Document
	Result UpdateResult
}

// PlanUpdate applies update to the documents of docs that match filter. With
// many unset only the first match is updated. When nothing matches and upsert
// is set, a new document is seeded from the filter's equality conditions.
func (e *Engine) PlanUpdate(ctx context.Context, docs []schema.Document, filter *query.QueryFilter, update map[string]any, upsert, many bool) (UpdatePlan, error) {
	var plan UpdatePlan
	if err := ctx.Err(); err != nil {
		return plan, err
	}

	matched, err := e.processor.Filter(docs, filter)
	if err != nil {
		return plan, err
	}
	if !many && len(matched) > 1 {
		matched = matched[:1]
	}
	plan.Result.Matched = int64(len(matched))

	for _, doc := range matched {
		updated, changed, err := query.ApplyUpdate(doc, update)
		if err != nil {
			return plan, err
		}
		if changed {
			plan.Replace = append(plan.Replace, updated)
			plan.Result.Modified++
		}
	}

	if len(matched) == 0 && upsert {
		doc, _, err := query.ApplyUpdate(query.SeedFromFilter(filter), update)
		if err != nil {
			return plan, err
		}
		id, err := DocumentID(doc)
		if err != nil {
			id = schema.NewID().String()
		}
		doc["_id"] = id
		plan.Insert = append(plan.Insert, doc)
		plan.Result.UpsertedID = id
	}
	return plan, nil
}

// IDsOf returns the _id of every document.
func IDsOf(docs []schema.Document) ([]string, error) {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id, err := DocumentID(doc)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IDPushdown reports the set of _id values a filter is restricted to, when
// the filter pins _id with an equality or $in at its top level. Backends use
// it to fetch candidates by key instead of scanning.
func IDPushdown(filter *query.QueryFilter) ([]string, bool) {
	if filter.IsEmpty() {
		return nil, false
	}
	conditions := []query.QueryFilter{*filter}
	if filter.Group != nil {
		if filter.Group.Operator != query.LogicalOperatorAnd {
			return nil, false
		}
		conditions = filter.Group.Conditions
	}

	for _, c := range conditions {
		if c.Condition == nil || c.Condition.Field != "_id" {
			continue
		}
		switch c.Condition.Operator {
		case query.ComparisonOperatorEq:
			if s, ok := idString(c.Condition.Value); ok {
				return []string{s}, true
			}
		case query.ComparisonOperatorIn:
			values, ok := query.Normalize(c.Condition.Value).([]any)
			if !ok {
				continue
			}
			ids := make([]string, 0, len(values))
			for _, v := range values {
				if s, ok := idString(v); ok {
					ids = append(ids, s)
				}
			}
			return ids, true
		}
	}
	return nil, false
}

func idString(v any) (string, bool) {
	s, ok := query.Normalize(v).(string)
	return s, ok
}
