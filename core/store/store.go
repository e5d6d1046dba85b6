// Package store defines the contract between loom collections and the
// document stores that hold them. A Driver opens named databases, a Database
// hands out one Store per collection, and a Store performs the primitive
// document operations the orchestrator is built from.
package store

import (
	"context"
	"errors"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
)

// Sentinel errors shared by every backend.
var (
	ErrDuplicateID   = errors.New("loom: duplicate document id")
	ErrMissingID     = errors.New("loom: document has no _id")
	ErrClosed        = errors.New("loom: database is closed")
	ErrUnknownDriver = errors.New("loom: unknown driver")
)

// Driver opens databases by name.
type Driver interface {
	Open(ctx context.Context, database string) (Database, error)
}

// Database is an open handle on one named database.
type Database interface {
	Name() string
	Collection(name string) Store
	Close() error
}

// FindOptions orders and windows a Find.
type FindOptions struct {
	Sort  []query.SortConfiguration
	Skip  int
	Limit int
}

// UpdateResult reports the effect of an update.
type UpdateResult struct {
	Matched    int64
	Modified   int64
	UpsertedID string
}

// Store performs document operations on one collection. Documents passed in
// and returned are owned by the caller; implementations copy as needed.
type Store interface {
	InsertOne(ctx context.Context, doc schema.Document) error
	InsertMany(ctx context.Context, docs []schema.Document) error
	Find(ctx context.Context, filter *query.QueryFilter, opts FindOptions) ([]schema.Document, error)
	Aggregate(ctx context.Context, pipeline []map[string]any) ([]schema.Document, error)
	UpdateOne(ctx context.Context, filter *query.QueryFilter, update map[string]any) (UpdateResult, error)
	Update(ctx context.Context, filter *query.QueryFilter, update map[string]any, upsert bool) (UpdateResult, error)
	DeleteMany(ctx context.Context, filter *query.QueryFilter) (int64, error)
}

// DocumentID returns the string _id of a document.
func DocumentID(doc schema.Document) (string, error) {
	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		if parsed, valid := schema.ParseID(doc["_id"]); valid {
			return parsed.String(), nil
		}
		return "", ErrMissingID
	}
	return id, nil
}
