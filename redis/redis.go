// Package redis implements the loom store contract on Redis. A collection is
// a hash of JSON documents keyed by _id plus a sorted set recording
// insertion order. Writes run as optimistic transactions over both keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/store"
	"github.com/asaidimu/go-loom/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPrefix = "loom:"
	maxTxRetries  = 16
)

// ErrConflict is returned when a write keeps losing optimistic transaction
// races.
var ErrConflict = errors.New("loom: redis transaction conflict")

// Driver opens databases as key namespaces on one Redis client.
type Driver struct {
	client *Client
	prefix string
	engine *store.Engine
	logger *zap.Logger
}

var _ store.Driver = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithPrefix sets the prefix of every key the driver writes.
func WithPrefix(prefix string) Option {
	return func(d *Driver) {
		d.prefix = prefix
	}
}

// WithLogger sets the driver's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDriver creates a Driver over client. The client stays owned by the
// caller unless Close is called on the driver.
func NewDriver(client *Client, opts ...Option) *Driver {
	d := &Driver{
		client: client,
		prefix: defaultPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.engine = store.NewEngine(d.logger)
	return d
}

// Engine returns the engine the driver evaluates queries with.
func (d *Driver) Engine() *store.Engine {
	return d.engine
}

// Open checks the connection and returns a handle on the named database.
func (d *Driver) Open(ctx context.Context, name string) (store.Database, error) {
	if name == "" {
		return nil, fmt.Errorf("redis: database name is required")
	}
	if err := d.client.Health(ctx); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	d.logger.Debug("Opened Redis database", zap.String("database", name), zap.String("prefix", d.prefix))
	return &Database{
		name:   name,
		driver: d,
		logger: d.logger.With(zap.String("database", name)),
	}, nil
}

// Close closes the underlying client.
func (d *Driver) Close() error {
	return d.client.Close()
}

// Database is a key namespace for one loom database.
type Database struct {
	name   string
	driver *Driver
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ store.Database = (*Database)(nil)

func (db *Database) Name() string { return db.name }

func (db *Database) Collection(name string) store.Store {
	base := db.driver.prefix + db.name + ":" + name
	return &Collection{
		db:   db,
		name: name,
		keys: keys{docs: base + ":docs", order: base + ":order", seq: base + ":seq"},
	}
}

// Close invalidates the handle. The client is left open.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

func (db *Database) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return store.ErrClosed
	}
	return nil
}

type keys struct {
	docs  string
	order string
	seq   string
}

// Collection is the store for one collection.
type Collection struct {
	db   *Database
	name string
	keys keys
}

var _ store.Store = (*Collection)(nil)

func (c *Collection) client() *Client {
	return c.db.driver.client
}

func (c *Collection) engine() *store.Engine {
	return c.db.driver.engine
}

func (c *Collection) prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.checkOpen()
}

// load reads candidate documents in insertion order, fetching only the
// pinned ids when the filter restricts _id.
func (c *Collection) load(ctx context.Context, r redis.Cmdable, filter *query.QueryFilter) ([]schema.Document, error) {
	order, err := r.ZRange(ctx, c.keys.order, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read order of %s: %w", c.name, err)
	}

	ids := order
	if pinned, ok := store.IDPushdown(filter); ok {
		wanted := make(map[string]struct{}, len(pinned))
		for _, id := range pinned {
			wanted[id] = struct{}{}
		}
		ids = ids[:0:0]
		for _, id := range order {
			if _, ok := wanted[id]; ok {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raw, err := r.HMGet(ctx, c.keys.docs, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read documents of %s: %w", c.name, err)
	}

	docs := make([]schema.Document, 0, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := utils.DecodeDocument([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("redis: %s/%s: %w", c.name, ids[i], err)
		}
		doc["_id"] = ids[i]
		docs = append(docs, doc)
	}
	return docs, nil
}

// transact runs fn in an optimistic transaction over the collection's keys,
// retrying when another client wrote them concurrently.
func (c *Collection) transact(ctx context.Context, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := c.client().Watch(ctx, fn, c.keys.docs, c.keys.order, c.keys.seq)
		if errors.Is(err, redis.TxFailedErr) {
			c.db.logger.Debug("Retrying Redis transaction", zap.String("collection", c.name), zap.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrConflict, c.name)
}

type entry struct {
	id  string
	raw string
}

func encodeAll(docs []schema.Document) ([]entry, error) {
	out := make([]entry, 0, len(docs))
	for _, doc := range docs {
		id, err := store.DocumentID(doc)
		if err != nil {
			return nil, err
		}
		doc = doc.Clone()
		doc["_id"] = id
		raw, err := utils.EncodeDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, entry{id: id, raw: string(raw)})
	}
	return out, nil
}

// queueInserts checks that no entry collides and queues the writes that add
// them to the end of the insertion order.
func (c *Collection) queueInserts(ctx context.Context, tx *redis.Tx, entries []entry) (func(pipe redis.Pipeliner), error) {
	if len(entries) == 0 {
		return func(redis.Pipeliner) {}, nil
	}

	ids := make([]string, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if _, dup := seen[e.id]; dup {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrDuplicateID, c.name, e.id)
		}
		seen[e.id] = struct{}{}
		ids[i] = e.id
	}
	existing, err := tx.HMGet(ctx, c.keys.docs, ids...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range existing {
		if v != nil {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrDuplicateID, c.name, ids[i])
		}
	}

	seq, err := tx.Get(ctx, c.keys.seq).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	return func(pipe redis.Pipeliner) {
		for _, e := range entries {
			seq++
			pipe.HSet(ctx, c.keys.docs, e.id, e.raw)
			pipe.ZAdd(ctx, c.keys.order, redis.Z{Score: float64(seq), Member: e.id})
		}
		pipe.Set(ctx, c.keys.seq, strconv.FormatInt(seq, 10), 0)
	}, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc schema.Document) error {
	return c.InsertMany(ctx, []schema.Document{doc})
}

// InsertMany inserts every document or none of them.
func (c *Collection) InsertMany(ctx context.Context, docs []schema.Document) error {
	if err := c.prepare(ctx); err != nil {
		return err
	}
	entries, err := encodeAll(docs)
	if err != nil {
		return err
	}

	return c.transact(ctx, func(tx *redis.Tx) error {
		queue, err := c.queueInserts(ctx, tx, entries)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			queue(pipe)
			return nil
		})
		if err == nil {
			c.db.logger.Debug("Inserted documents", zap.String("collection", c.name), zap.Int("count", len(entries)))
		}
		return err
	})
}

func (c *Collection) Find(ctx context.Context, filter *query.QueryFilter, opts store.FindOptions) ([]schema.Document, error) {
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}
	docs, err := c.load(ctx, c.client(), filter)
	if err != nil {
		return nil, err
	}
	return c.engine().Select(ctx, docs, filter, opts)
}

func (c *Collection) Aggregate(ctx context.Context, pipeline []map[string]any) ([]schema.Document, error) {
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}
	docs, err := c.load(ctx, c.client(), nil)
	if err != nil {
		return nil, err
	}
	return c.engine().Aggregate(ctx, docs, pipeline)
}

func (c *Collection) UpdateOne(ctx context.Context, filter *query.QueryFilter, update map[string]any) (store.UpdateResult, error) {
	return c.update(ctx, filter, update, false, false)
}

func (c *Collection) Update(ctx context.Context, filter *query.QueryFilter, update map[string]any, upsert bool) (store.UpdateResult, error) {
	return c.update(ctx, filter, update, upsert, true)
}

func (c *Collection) update(ctx context.Context, filter *query.QueryFilter, update map[string]any, upsert, many bool) (store.UpdateResult, error) {
	var result store.UpdateResult
	if err := c.prepare(ctx); err != nil {
		return result, err
	}

	err := c.transact(ctx, func(tx *redis.Tx) error {
		docs, err := c.load(ctx, tx, filter)
		if err != nil {
			return err
		}
		plan, err := c.engine().PlanUpdate(ctx, docs, filter, update, upsert, many)
		if err != nil {
			return err
		}
		replaced, err := encodeAll(plan.Replace)
		if err != nil {
			return err
		}
		inserted, err := encodeAll(plan.Insert)
		if err != nil {
			return err
		}
		queue, err := c.queueInserts(ctx, tx, inserted)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, e := range replaced {
				pipe.HSet(ctx, c.keys.docs, e.id, e.raw)
			}
			queue(pipe)
			return nil
		})
		if err != nil {
			return err
		}
		result = plan.Result
		return nil
	})
	return result, err
}

func (c *Collection) DeleteMany(ctx context.Context, filter *query.QueryFilter) (int64, error) {
	var deleted int64
	if err := c.prepare(ctx); err != nil {
		return 0, err
	}

	err := c.transact(ctx, func(tx *redis.Tx) error {
		docs, err := c.load(ctx, tx, filter)
		if err != nil {
			return err
		}
		matched, err := c.engine().Processor().Filter(docs, filter)
		if err != nil {
			return err
		}
		ids, err := store.IDsOf(matched)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			deleted = 0
			return nil
		}
		members := make([]any, len(ids))
		for i, id := range ids {
			members[i] = id
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, c.keys.docs, ids...)
			pipe.ZRem(ctx, c.keys.order, members...)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = int64(len(ids))
		return nil
	})
	return deleted, err
}
