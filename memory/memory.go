// Package memory implements the loom store contract in process memory.
// Databases opened under the same name on one Driver share their contents,
// the way connections to one server would.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/store"
	"go.uber.org/zap"
)

// Driver opens in-memory databases.
type Driver struct {
	mu        sync.Mutex
	databases map[string]*state
	engine    *store.Engine
	logger    *zap.Logger
}

var _ store.Driver = (*Driver)(nil)

// NewDriver creates an empty in-memory driver.
func NewDriver(logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		databases: make(map[string]*state),
		engine:    store.NewEngine(logger),
		logger:    logger,
	}
}

// Engine returns the engine the driver evaluates queries with.
func (d *Driver) Engine() *store.Engine {
	return d.engine
}

// Open returns a handle on the named database, creating it on first use.
func (d *Driver) Open(ctx context.Context, name string) (store.Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.databases[name]
	if !ok {
		s = &state{collections: make(map[string]*table)}
		d.databases[name] = s
		d.logger.Debug("Created in-memory database", zap.String("database", name))
	}
	return &Database{name: name, state: s, engine: d.engine, logger: d.logger}, nil
}

type state struct {
	mu          sync.RWMutex
	collections map[string]*table
}

// table keeps documents in insertion order.
type table struct {
	ids  []string
	docs map[string]schema.Document
}

func (t *table) all() []schema.Document {
	out := make([]schema.Document, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.docs[id])
	}
	return out
}

func (t *table) remove(ids map[string]struct{}) {
	kept := t.ids[:0]
	for _, id := range t.ids {
		if _, ok := ids[id]; ok {
			delete(t.docs, id)
			continue
		}
		kept = append(kept, id)
	}
	t.ids = kept
}

// Database is a handle on one in-memory database.
type Database struct {
	name   string
	state  *state
	engine *store.Engine
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ store.Database = (*Database)(nil)

func (db *Database) Name() string { return db.name }

// Collection returns the store for a collection. The collection exists once
// a document has been written to it.
func (db *Database) Collection(name string) store.Store {
	return &Collection{db: db, name: name}
}

// Close invalidates the handle. The contents stay with the driver.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

func (db *Database) isClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Collection is the store for one collection of an in-memory database.
type Collection struct {
	db   *Database
	name string
}

var _ store.Store = (*Collection)(nil)

// read runs fn with a snapshot of the collection's documents under the read
// lock. fn must not retain or modify them.
func (c *Collection) read(ctx context.Context, fn func(docs []schema.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.db.isClosed() {
		return store.ErrClosed
	}
	s := c.db.state
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []schema.Document
	if t, ok := s.collections[c.name]; ok {
		docs = t.all()
	}
	return fn(docs)
}

func (c *Collection) write(ctx context.Context, fn func(t *table) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.db.isClosed() {
		return store.ErrClosed
	}
	s := c.db.state
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.collections[c.name]
	if !ok {
		t = &table{docs: make(map[string]schema.Document)}
		s.collections[c.name] = t
	}
	return fn(t)
}

func (c *Collection) InsertOne(ctx context.Context, doc schema.Document) error {
	return c.InsertMany(ctx, []schema.Document{doc})
}

// InsertMany inserts every document or none of them.
func (c *Collection) InsertMany(ctx context.Context, docs []schema.Document) error {
	prepared := make([]schema.Document, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		id, err := store.DocumentID(doc)
		if err != nil {
			return err
		}
		prepared[i] = storable(doc)
		prepared[i]["_id"] = id
		ids[i] = id
	}

	return c.write(ctx, func(t *table) error {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := t.docs[id]; ok {
				return fmt.Errorf("%w: %s/%s", store.ErrDuplicateID, c.name, id)
			}
			if _, ok := seen[id]; ok {
				return fmt.Errorf("%w: %s/%s", store.ErrDuplicateID, c.name, id)
			}
			seen[id] = struct{}{}
		}
		for i, id := range ids {
			t.ids = append(t.ids, id)
			t.docs[id] = prepared[i]
		}
		c.db.logger.Debug("Inserted documents",
			zap.String("collection", c.name),
			zap.Int("count", len(ids)),
		)
		return nil
	})
}

func (c *Collection) Find(ctx context.Context, filter *query.QueryFilter, opts store.FindOptions) ([]schema.Document, error) {
	var out []schema.Document
	err := c.read(ctx, func(docs []schema.Document) error {
		var err error
		out, err = c.db.engine.Select(ctx, docs, filter, opts)
		return err
	})
	return out, err
}

func (c *Collection) Aggregate(ctx context.Context, pipeline []map[string]any) ([]schema.Document, error) {
	var out []schema.Document
	err := c.read(ctx, func(docs []schema.Document) error {
		var err error
		out, err = c.db.engine.Aggregate(ctx, docs, pipeline)
		return err
	})
	return out, err
}

func (c *Collection) UpdateOne(ctx context.Context, filter *query.QueryFilter, update map[string]any) (store.UpdateResult, error) {
	return c.update(ctx, filter, update, false, false)
}

func (c *Collection) Update(ctx context.Context, filter *query.QueryFilter, update map[string]any, upsert bool) (store.UpdateResult, error) {
	return c.update(ctx, filter, update, upsert, true)
}

func (c *Collection) update(ctx context.Context, filter *query.QueryFilter, update map[string]any, upsert, many bool) (store.UpdateResult, error) {
	var result store.UpdateResult
	err := c.write(ctx, func(t *table) error {
		plan, err := c.db.engine.PlanUpdate(ctx, t.all(), filter, update, upsert, many)
		if err != nil {
			return err
		}
		for _, doc := range plan.Replace {
			id, err := store.DocumentID(doc)
			if err != nil {
				return err
			}
			t.docs[id] = storable(doc)
		}
		for _, doc := range plan.Insert {
			id := plan.Result.UpsertedID
			if _, exists := t.docs[id]; exists {
				return fmt.Errorf("%w: %s/%s", store.ErrDuplicateID, c.name, id)
			}
			t.ids = append(t.ids, id)
			t.docs[id] = storable(doc)
		}
		result = plan.Result
		return nil
	})
	return result, err
}

func (c *Collection) DeleteMany(ctx context.Context, filter *query.QueryFilter) (int64, error) {
	var deleted int64
	err := c.write(ctx, func(t *table) error {
		matched, err := c.db.engine.Processor().Filter(t.all(), filter)
		if err != nil {
			return err
		}
		ids, err := store.IDsOf(matched)
		if err != nil {
			return err
		}
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		t.remove(set)
		deleted = int64(len(set))
		return nil
	})
	return deleted, err
}

// storable copies a document into the shape every backend stores: ids as
// strings, pointers as maps, numbers as float64.
func storable(doc schema.Document) schema.Document {
	normalized, _ := query.Normalize(doc).(map[string]any)
	return schema.Document(normalized)
}
