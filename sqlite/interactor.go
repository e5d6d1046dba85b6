// Package sqlite implements the loom store contract on SQLite. Each
// collection is a table of JSON documents keyed by _id. Filters, sorting,
// updates and pipelines are evaluated by the shared store engine; lookups
// pinned to _id are pushed down to the table's unique index.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/store"
	"github.com/asaidimu/go-loom/utils"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// dbRunner is an interface that abstracts the common methods of *sql.DB and *sql.Tx,
// allowing for the same code to be used for both transactional and non-transactional
// database operations.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database is an open SQLite database.
type Database struct {
	name    string
	db      *sql.DB
	options Options
	engine  *store.Engine
	logger  *zap.Logger

	mu     sync.RWMutex
	tables map[string]struct{}
	closed bool
}

var _ store.Database = (*Database)(nil)

func newDatabase(name string, db *sql.DB, options Options, engine *store.Engine, logger *zap.Logger) *Database {
	return &Database{
		name:    name,
		db:      db,
		options: options,
		engine:  engine,
		logger:  logger.With(zap.String("database", name)),
		tables:  make(map[string]struct{}),
	}
}

func (db *Database) Name() string { return db.name }

// DB returns the underlying sql.DB for direct queries.
func (db *Database) DB() *sql.DB { return db.db }

func (db *Database) Collection(name string) store.Store {
	return &Collection{
		db:         db,
		name:       name,
		statements: newStatements(db.tableName(name)),
	}
}

// Close closes the database connection. Further operations fail with
// store.ErrClosed.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.db.Close()
}

func (db *Database) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return store.ErrClosed
	}
	return nil
}

// withTx runs fn inside a transaction, committing when fn succeeds.
func (db *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Collection is the store for one collection table.
type Collection struct {
	db         *Database
	name       string
	statements statements
}

var _ store.Store = (*Collection)(nil)

func (c *Collection) prepare(ctx context.Context, r dbRunner) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.db.checkOpen(); err != nil {
		return err
	}
	return c.db.ensureCollection(ctx, r, c.name)
}

// load reads the candidate documents for filter, using the _id index when
// the filter pins _id.
func (c *Collection) load(ctx context.Context, r dbRunner, filter *query.QueryFilter) ([]schema.Document, error) {
	ids, restrict := store.IDPushdown(filter)
	q, args := c.statements.selectSQL(ids, restrict)

	c.db.logger.Debug("Executing SQL SELECT", zap.String("sql", q), zap.Int("params", len(args)))

	rows, err := r.QueryContext(ctx, q, args...)
	if err != nil {
		c.db.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", q))
		return nil, fmt.Errorf("failed to execute SELECT query: %w", err)
	}
	defer rows.Close()
	return readRows(rows)
}

// readRows decodes every (id, doc) row.
func readRows(rows *sql.Rows) ([]schema.Document, error) {
	var results []schema.Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc, err := utils.DecodeDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", id, err)
		}
		doc["_id"] = id
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc schema.Document) error {
	return c.InsertMany(ctx, []schema.Document{doc})
}

// InsertMany inserts every document in one transaction.
func (c *Collection) InsertMany(ctx context.Context, docs []schema.Document) error {
	if err := c.prepare(ctx, c.db.db); err != nil {
		return err
	}
	return c.db.withTx(ctx, func(tx *sql.Tx) error {
		return c.insert(ctx, tx, docs)
	})
}

func (c *Collection) insert(ctx context.Context, r dbRunner, docs []schema.Document) error {
	stmt := c.statements.insertSQL()
	for _, doc := range docs {
		id, err := store.DocumentID(doc)
		if err != nil {
			return err
		}
		raw, err := utils.EncodeDocument(withID(doc, id))
		if err != nil {
			return err
		}
		if _, err := r.ExecContext(ctx, stmt, id, string(raw)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%s", store.ErrDuplicateID, c.name, id)
			}
			c.db.logger.Error("Failed to execute INSERT", zap.Error(err), zap.String("collection", c.name))
			return fmt.Errorf("failed to insert document %s: %w", id, err)
		}
	}
	c.db.logger.Debug("Inserted documents", zap.String("collection", c.name), zap.Int("count", len(docs)))
	return nil
}

func (c *Collection) Find(ctx context.Context, filter *query.QueryFilter, opts store.FindOptions) ([]schema.Document, error) {
	if err := c.prepare(ctx, c.db.db); err != nil {
		return nil, err
	}
	docs, err := c.load(ctx, c.db.db, filter)
	if err != nil {
		return nil, err
	}
	return c.db.engine.Select(ctx, docs, filter, opts)
}

func (c *Collection) Aggregate(ctx context.Context, pipeline []map[string]any) ([]schema.Document, error) {
	if err := c.prepare(ctx, c.db.db); err != nil {
		return nil, err
	}
	docs, err := c.load(ctx, c.db.db, nil)
	if err != nil {
		return nil, err
	}
	return c.db.engine.Aggregate(ctx, docs, pipeline)
}

func (c *Collection) UpdateOne(ctx context.Context, filter *query.QueryFilter, update map[string]any) (store.UpdateResult, error) {
	return c.update(ctx, filter, update, false, false)
}

func (c *Collection) Update(ctx context.Context, filter *query.QueryFilter, update map[string]any, upsert bool) (store.UpdateResult, error) {
	return c.update(ctx, filter, update, upsert, true)
}

func (c *Collection) update(ctx context.Context, filter *query.QueryFilter, update map[string]any, upsert, many bool) (store.UpdateResult, error) {
	var result store.UpdateResult
	if err := c.prepare(ctx, c.db.db); err != nil {
		return result, err
	}

	err := c.db.withTx(ctx, func(tx *sql.Tx) error {
		docs, err := c.load(ctx, tx, filter)
		if err != nil {
			return err
		}
		plan, err := c.db.engine.PlanUpdate(ctx, docs, filter, update, upsert, many)
		if err != nil {
			return err
		}

		stmt := c.statements.replaceSQL()
		for _, doc := range plan.Replace {
			id, err := store.DocumentID(doc)
			if err != nil {
				return err
			}
			raw, err := utils.EncodeDocument(doc)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, stmt, string(raw), id); err != nil {
				c.db.logger.Error("Failed to execute UPDATE", zap.Error(err), zap.String("collection", c.name))
				return fmt.Errorf("failed to update document %s: %w", id, err)
			}
		}
		if err := c.insert(ctx, tx, plan.Insert); err != nil {
			return err
		}
		result = plan.Result
		return nil
	})
	return result, err
}

func (c *Collection) DeleteMany(ctx context.Context, filter *query.QueryFilter) (int64, error) {
	var deleted int64
	if err := c.prepare(ctx, c.db.db); err != nil {
		return 0, err
	}

	err := c.db.withTx(ctx, func(tx *sql.Tx) error {
		docs, err := c.load(ctx, tx, filter)
		if err != nil {
			return err
		}
		matched, err := c.db.engine.Processor().Filter(docs, filter)
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			return nil
		}
		ids, err := store.IDsOf(matched)
		if err != nil {
			return err
		}
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}

		q := c.statements.deleteSQL(len(ids))
		c.db.logger.Debug("Executing SQL DELETE", zap.String("sql", q), zap.Int("params", len(args)))
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			c.db.logger.Error("Failed to execute DELETE query", zap.Error(err), zap.String("sql", q))
			return fmt.Errorf("failed to execute DELETE query: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func withID(doc schema.Document, id string) schema.Document {
	out := make(schema.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	out["_id"] = id
	return out
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
