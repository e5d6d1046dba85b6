// Package storetest holds the behavior every store backend shares, written
// once and run against each implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty database for one subtest.
type Opener func(t *testing.T) store.Database

// Run exercises a backend against the store contract.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, db store.Database)
	}{
		{"insert and find", testInsertFind},
		{"duplicate id", testDuplicateID},
		{"insert many is atomic", testInsertManyAtomic},
		{"find options", testFindOptions},
		{"nested and array paths", testPaths},
		{"update one", testUpdateOne},
		{"update many and upsert", testUpdateMany},
		{"delete", testDelete},
		{"aggregate", testAggregate},
		{"collections are separate", testSeparateCollections},
		{"results are copies", testCopies},
		{"closed database", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := open(t)
			tt.fn(t, db)
		})
	}
}

func filter(m map[string]any) *query.QueryFilter {
	return query.MustParseFilter(m)
}

func seed(t *testing.T, s store.Store) {
	t.Helper()
	require.NoError(t, s.InsertMany(context.Background(), []schema.Document{
		{"_id": "a", "name": "bmw", "code": 3, "engine": map[string]any{"power": 250}, "tags": []any{"fast", "german"}},
		{"_id": "b", "name": "audi", "code": 1, "engine": map[string]any{"power": 150}, "tags": []any{"german"}},
		{"_id": "c", "name": "fiat", "code": 2, "tags": []any{}},
	}))
}

func ids(docs []schema.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["_id"]
	}
	return out
}

func testInsertFind(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	id := schema.NewID()
	require.NoError(t, s.InsertOne(ctx, schema.Document{"_id": id, "name": "bmw", "code": 7}))

	got, err := s.Find(ctx, filter(map[string]any{"_id": id.String()}), store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.Document{"_id": id.String(), "name": "bmw", "code": float64(7)}, got[0])

	got, err = s.Find(ctx, filter(map[string]any{"name": "audi"}), store.FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, s.InsertOne(ctx, schema.Document{"name": "no id"}), store.ErrMissingID)
}

func testDuplicateID(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	require.NoError(t, s.InsertOne(ctx, schema.Document{"_id": "a"}))
	assert.ErrorIs(t, s.InsertOne(ctx, schema.Document{"_id": "a"}), store.ErrDuplicateID)
}

func testInsertManyAtomic(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	require.NoError(t, s.InsertOne(ctx, schema.Document{"_id": "b"}))

	err := s.InsertMany(ctx, []schema.Document{{"_id": "a"}, {"_id": "b"}})
	assert.ErrorIs(t, err, store.ErrDuplicateID)

	err = s.InsertMany(ctx, []schema.Document{{"_id": "x"}, {"_id": "x"}})
	assert.ErrorIs(t, err, store.ErrDuplicateID)

	got, err := s.Find(ctx, nil, store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, ids(got))
}

func testFindOptions(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	seed(t, s)

	got, err := s.Find(ctx, nil, store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, ids(got), "insertion order without a sort")

	got, err = s.Find(ctx, nil, store.FindOptions{
		Sort:  []query.SortConfiguration{{Field: "code", Direction: query.SortDirectionDesc}},
		Skip:  1,
		Limit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, ids(got))

	got, err = s.Find(ctx, filter(map[string]any{"_id": map[string]any{"$in": []any{"c", "a", "zz"}}}), store.FindOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"a", "c"}, ids(got))

	got, err = s.Find(ctx, filter(map[string]any{"_id": "a", "code": 99}), store.FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testPaths(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	seed(t, s)

	got, err := s.Find(ctx, filter(map[string]any{"engine.power": map[string]any{"$gt": 200}}), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, ids(got))

	got, err = s.Find(ctx, filter(map[string]any{"tags": "german"}), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, ids(got))

	got, err = s.Find(ctx, filter(map[string]any{"tags": map[string]any{"$size": 0}}), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, ids(got))
}

func testUpdateOne(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	seed(t, s)

	res, err := s.UpdateOne(ctx, filter(map[string]any{"tags": "german"}), map[string]any{"$set": map[string]any{"name": "lada"}})
	require.NoError(t, err)
	assert.Equal(t, store.UpdateResult{Matched: 1, Modified: 1}, res)

	got, err := s.Find(ctx, filter(map[string]any{"name": "lada"}), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, ids(got))

	_, err = s.UpdateOne(ctx, nil, map[string]any{"$set": map[string]any{"_id": "zz"}})
	assert.ErrorIs(t, err, query.ErrInvalidUpdate)
}

func testUpdateMany(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	seed(t, s)

	res, err := s.Update(ctx, nil, map[string]any{"$inc": map[string]any{"code": 10}}, false)
	require.NoError(t, err)
	assert.Equal(t, store.UpdateResult{Matched: 3, Modified: 3}, res)

	got, err := s.Find(ctx, filter(map[string]any{"code": map[string]any{"$gte": 11}}), store.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	res, err = s.Update(ctx, filter(map[string]any{"name": "volvo"}), map[string]any{"$set": map[string]any{"code": 5}}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Matched)
	require.NotEmpty(t, res.UpsertedID)

	got, err = s.Find(ctx, filter(map[string]any{"_id": res.UpsertedID}), store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "volvo", got[0]["name"])
	assert.Equal(t, float64(5), got[0]["code"])

	res, err = s.Update(ctx, filter(map[string]any{"_id": "b"}), map[string]any{"name": "replaced"}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Modified)
	got, err = s.Find(ctx, filter(map[string]any{"_id": "b"}), store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.Document{"_id": "b", "name": "replaced"}, got[0])
}

func testDelete(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	seed(t, s)

	n, err := s.DeleteMany(ctx, filter(map[string]any{"code": map[string]any{"$lt": 3}}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteMany(ctx, filter(map[string]any{"name": "nothing"}))
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.Find(ctx, nil, store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, ids(got))

	n, err = s.DeleteMany(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testAggregate(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	seed(t, s)

	got, err := s.Aggregate(ctx, []map[string]any{
		{"$unwind": "$tags"},
		{"$match": map[string]any{"tags": "german"}},
		{"$count": "n"},
	})
	require.NoError(t, err)
	assert.Equal(t, []schema.Document{{"n": float64(2)}}, got)
}

func testSeparateCollections(t *testing.T, db store.Database) {
	ctx := context.Background()
	require.NoError(t, db.Collection("cars").InsertOne(ctx, schema.Document{"_id": "a"}))
	require.NoError(t, db.Collection("wheels").InsertOne(ctx, schema.Document{"_id": "a"}))

	got, err := db.Collection("engines").Find(ctx, nil, store.FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testCopies(t *testing.T, db store.Database) {
	ctx := context.Background()
	s := db.Collection("cars")
	doc := schema.Document{"_id": "a", "engine": map[string]any{"power": 1}}
	require.NoError(t, s.InsertOne(ctx, doc))
	doc["engine"].(map[string]any)["power"] = 2

	got, err := s.Find(ctx, nil, store.FindOptions{})
	require.NoError(t, err)
	got[0]["engine"].(map[string]any)["power"] = 3

	again, err := s.Find(ctx, nil, store.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), again[0]["engine"].(map[string]any)["power"])
}

func testClosed(t *testing.T, db store.Database) {
	ctx := context.Background()
	require.NoError(t, db.Close())
	_, err := db.Collection("cars").Find(ctx, nil, store.FindOptions{})
	assert.ErrorIs(t, err, store.ErrClosed)
}
