// Package persistence is the orchestration layer of loom. A Directory holds
// the registered schemas of an application, each bound to a Collection that
// validates, stores, resolves and hooks the documents passed through its
// add, get, edit, del and erase operations.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/go-loom/core/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultDatabase is the database a directory opens when none is named.
const DefaultDatabase = "loom"

// Directory is the registry of schemas. It opens databases through a
// store.Driver, binds each registered schema to its collection, and
// publishes an event around every collection operation.
type Directory struct {
	driver   store.Driver
	database string
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	bus      *events.TypedEventBus[Event]

	mu          sync.RWMutex
	collections map[string]*Collection

	dbMu      sync.Mutex
	databases map[string]store.Database

	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the directory logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDatabase names the default database.
func WithDatabase(name string) Option {
	return func(d *Directory) {
		if name != "" {
			d.database = name
		}
	}
}

// WithRegistry registers the directory metrics with reg instead of a
// private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *Directory) {
		if reg != nil {
			d.registry = reg
		}
	}
}

// NewDirectory creates a directory over driver. No database is opened until
// Open or the first operation that needs one.
func NewDirectory(driver store.Driver, opts ...Option) (*Directory, error) {
	if driver == nil {
		return nil, errors.New("persistence: a store driver is required")
	}

	bus, err := events.NewTypedEventBus[Event](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	d := &Directory{
		driver:        driver,
		database:      DefaultDatabase,
		logger:        zap.NewNop(),
		bus:           bus,
		collections:   make(map[string]*Collection),
		databases:     make(map[string]store.Database),
		subscriptions: make(map[string]*SubscriptionInfo),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = prometheus.NewRegistry()
	}
	d.metrics = NewMetrics(d.registry)
	d.logger = d.logger.Named("loom")
	return d, nil
}

// Database returns the name of the default database.
func (d *Directory) Database() string { return d.database }

// Registry returns the Prometheus registry holding the directory metrics.
func (d *Directory) Registry() *prometheus.Registry { return d.registry }

// Metrics returns the directory metrics.
func (d *Directory) Metrics() *Metrics { return d.metrics }

// Logger returns the directory logger.
func (d *Directory) Logger() *zap.Logger { return d.logger }

// Open opens the default database.
func (d *Directory) Open(ctx context.Context) error {
	_, err := d.open(ctx, d.database)
	return err
}

// open returns the named database, opening it on first use.
func (d *Directory) open(ctx context.Context, name string) (store.Database, error) {
	d.dbMu.Lock()
	defer d.dbMu.Unlock()

	if db, ok := d.databases[name]; ok {
		return db, nil
	}
	db, err := d.driver.Open(ctx, name)
	if err != nil {
		d.logger.Error("Failed to open database", zap.String("database", name), zap.Error(err))
		return nil, fmt.Errorf("open database %s: %w", name, err)
	}
	d.databases[name] = db
	d.logger.Info("Database opened", zap.String("database", name))
	return db, nil
}

// CloseAll closes every database the directory opened. The directory can
// open them again afterwards.
func (d *Directory) CloseAll() error {
	d.dbMu.Lock()
	defer d.dbMu.Unlock()

	var errs []error
	for name, db := range d.databases {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database %s: %w", name, err))
		}
		delete(d.databases, name)
	}
	return errors.Join(errs...)
}

// executor returns the store executor of a collection of the named
// database.
func (d *Directory) executor(ctx context.Context, database, collection string) (*Executor, error) {
	db, err := d.open(ctx, database)
	if err != nil {
		return nil, err
	}
	return NewExecutor(db.Collection(collection), collection, d.metrics, d.logger), nil
}

// emit publishes an event on the bus.
func (d *Directory) emit(event Event) {
	if d.bus != nil {
		d.bus.Emit(string(event.Type), event)
	}
}

// LookupSchema returns the collection registered under name.
func (d *Directory) LookupSchema(name string) (*Collection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collections[name]
	return c, ok
}

// Schemas returns the registered schema names in sorted order.
func (d *Directory) Schemas() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registered returns a snapshot of every registered collection.
func (d *Directory) registered() []*Collection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Collection, 0, len(d.collections))
	for _, c := range d.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// RegisterSubscription registers a callback for an event type. It returns
// an ID for UnregisterSubscription.
func (d *Directory) RegisterSubscription(options RegisterSubscriptionOptions) string {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	callback := options.Callback
	unsubscribe := d.bus.Subscribe(string(options.Event), func(ctx context.Context, event Event) error {
		return callback(ctx, event)
	})
	id := uuid.New().String()

	d.subscriptions[id] = &SubscriptionInfo{
		ID:          id,
		Event:       options.Event,
		Label:       options.Label,
		Description: options.Description,
		Unsubscribe: unsubscribe,
	}
	return id
}

// UnregisterSubscription removes a subscription by its ID.
func (d *Directory) UnregisterSubscription(id string) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	if info, ok := d.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(d.subscriptions, id)
	}
}

// Subscriptions returns the active subscriptions.
func (d *Directory) Subscriptions() []SubscriptionInfo {
	d.subMu.RLock()
	defer d.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(d.subscriptions))
	for _, sub := range d.subscriptions {
		subs = append(subs, *sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}
