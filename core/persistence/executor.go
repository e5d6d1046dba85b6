package persistence

import (
	"context"
	"time"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/store"
	"go.uber.org/zap"
)

// Executor runs the store calls of one collection, logging and metering
// each of them.
type Executor struct {
	store      store.Store
	collection string
	metrics    *Metrics
	logger     *zap.Logger
}

func NewExecutor(s store.Store, collection string, metrics *Metrics, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:      s,
		collection: collection,
		metrics:    metrics,
		logger:     logger,
	}
}

func (e *Executor) observe(call string, start time.Time, err error) {
	if e.metrics != nil {
		e.metrics.ObserveStoreCall(e.collection, call, err, start)
	}
	if err != nil {
		e.logger.Error("Store call failed",
			zap.String("collection", e.collection),
			zap.String("call", call),
			zap.Error(err),
		)
		return
	}
	e.logger.Debug("Store call completed",
		zap.String("collection", e.collection),
		zap.String("call", call),
		zap.Duration("duration", time.Since(start)),
	)
}

// Insert stores docs, using InsertOne for a single document.
func (e *Executor) Insert(ctx context.Context, docs []schema.Document) (err error) {
	start := time.Now()
	if len(docs) == 1 {
		defer func() { e.observe("insertOne", start, err) }()
		return e.store.InsertOne(ctx, docs[0])
	}
	defer func() { e.observe("insertMany", start, err) }()
	return e.store.InsertMany(ctx, docs)
}

// Find parses a Mongo-style filter and runs it.
func (e *Executor) Find(ctx context.Context, find map[string]any, opts store.FindOptions) ([]schema.Document, error) {
	filter, err := query.ParseFilter(find)
	if err != nil {
		return nil, err
	}
	return e.FindFilter(ctx, filter, opts)
}

// FindFilter runs an already parsed filter.
func (e *Executor) FindFilter(ctx context.Context, filter *query.QueryFilter, opts store.FindOptions) (docs []schema.Document, err error) {
	start := time.Now()
	defer func() { e.observe("find", start, err) }()
	docs, err = e.store.Find(ctx, filter, opts)
	if err == nil {
		e.logger.Debug("Fetched documents",
			zap.String("collection", e.collection),
			zap.Int("count", len(docs)),
		)
	}
	return docs, err
}

func (e *Executor) Aggregate(ctx context.Context, pipeline []map[string]any) (docs []schema.Document, err error) {
	start := time.Now()
	defer func() { e.observe("aggregate", start, err) }()
	return e.store.Aggregate(ctx, pipeline)
}

func (e *Executor) UpdateOne(ctx context.Context, find map[string]any, update map[string]any) (result store.UpdateResult, err error) {
	filter, err := query.ParseFilter(find)
	if err != nil {
		return result, err
	}
	start := time.Now()
	defer func() { e.observe("updateOne", start, err) }()
	return e.store.UpdateOne(ctx, filter, update)
}

func (e *Executor) Update(ctx context.Context, filter *query.QueryFilter, update map[string]any, upsert bool) (result store.UpdateResult, err error) {
	start := time.Now()
	defer func() { e.observe("update", start, err) }()
	return e.store.Update(ctx, filter, update, upsert)
}

func (e *Executor) DeleteMany(ctx context.Context, filter *query.QueryFilter) (deleted int64, err error) {
	start := time.Now()
	defer func() { e.observe("deleteMany", start, err) }()
	return e.store.DeleteMany(ctx, filter)
}
