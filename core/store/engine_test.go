package store

import (
	"context"
	"testing"

	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cars() []schema.Document {
	return []schema.Document{
		{"_id": "a", "name": "bmw", "code": float64(3)},
		{"_id": "b", "name": "audi", "code": float64(1)},
		{"_id": "c", "name": "fiat", "code": float64(2)},
	}
}

func TestEngine_Select(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()

	docs := cars()
	got, err := e.Select(ctx, docs, query.MustParseFilter(map[string]any{"code": map[string]any{"$gte": 2}}), FindOptions{
		Sort: []query.SortConfiguration{{Field: "code", Direction: query.SortDirectionAsc}},
	})
	require.NoError(t, err)
	assert.Equal(t, []schema.Document{
		{"_id": "c", "name": "fiat", "code": float64(2)},
		{"_id": "a", "name": "bmw", "code": float64(3)},
	}, got)

	got[0]["name"] = "changed"
	assert.Equal(t, "fiat", docs[2]["name"], "results are copies")

	got, err = e.Select(ctx, cars(), nil, FindOptions{Skip: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0]["_id"])

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Select(cancelled, cars(), nil, FindOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_PlanUpdate(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()
	set := map[string]any{"$set": map[string]any{"name": "lada"}}

	t.Run("one", func(t *testing.T) {
		plan, err := e.PlanUpdate(ctx, cars(), nil, set, false, false)
		require.NoError(t, err)
		assert.Equal(t, UpdateResult{Matched: 1, Modified: 1}, plan.Result)
		require.Len(t, plan.Replace, 1)
		assert.Equal(t, "lada", plan.Replace[0]["name"])
		assert.Empty(t, plan.Insert)
	})

	t.Run("many", func(t *testing.T) {
		plan, err := e.PlanUpdate(ctx, cars(), nil, set, false, true)
		require.NoError(t, err)
		assert.Equal(t, UpdateResult{Matched: 3, Modified: 3}, plan.Result)
	})

	t.Run("unchanged documents are not rewritten", func(t *testing.T) {
		plan, err := e.PlanUpdate(ctx, cars(), query.MustParseFilter(map[string]any{"_id": "a"}),
			map[string]any{"$set": map[string]any{"name": "bmw"}}, false, true)
		require.NoError(t, err)
		assert.Equal(t, UpdateResult{Matched: 1}, plan.Result)
		assert.Empty(t, plan.Replace)
	})

	t.Run("upsert seeds from the filter", func(t *testing.T) {
		plan, err := e.PlanUpdate(ctx, cars(), query.MustParseFilter(map[string]any{"name": "volvo"}),
			map[string]any{"$set": map[string]any{"code": 9}}, true, true)
		require.NoError(t, err)
		require.Len(t, plan.Insert, 1)
		doc := plan.Insert[0]
		assert.Equal(t, "volvo", doc["name"])
		assert.Equal(t, 9, doc["code"])
		assert.Equal(t, plan.Result.UpsertedID, doc["_id"])
		_, ok := schema.ParseID(doc["_id"])
		assert.True(t, ok)
	})

	t.Run("upsert keeps a pinned id", func(t *testing.T) {
		plan, err := e.PlanUpdate(ctx, cars(), query.MustParseFilter(map[string]any{"_id": "z"}), set, true, false)
		require.NoError(t, err)
		assert.Equal(t, "z", plan.Result.UpsertedID)
	})

	t.Run("bad update", func(t *testing.T) {
		_, err := e.PlanUpdate(ctx, cars(), nil, map[string]any{"$bogus": map[string]any{}}, false, true)
		assert.ErrorIs(t, err, query.ErrInvalidUpdate)
	})
}

func TestIDPushdown(t *testing.T) {
	tests := []struct {
		name   string
		filter map[string]any
		want   []string
		ok     bool
	}{
		{"equality", map[string]any{"_id": "a"}, []string{"a"}, true},
		{"in", map[string]any{"_id": map[string]any{"$in": []any{"a", "b"}}}, []string{"a", "b"}, true},
		{"and with other fields", map[string]any{"_id": "a", "name": "bmw"}, []string{"a"}, true},
		{"or", map[string]any{"$or": []any{map[string]any{"_id": "a"}}}, nil, false},
		{"other field", map[string]any{"name": "bmw"}, nil, false},
		{"empty", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IDPushdown(query.MustParseFilter(tt.filter))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocumentID(t *testing.T) {
	id, err := DocumentID(schema.Document{"_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", id)

	n := schema.NewID()
	id, err = DocumentID(schema.Document{"_id": n})
	require.NoError(t, err)
	assert.Equal(t, n.String(), id)

	_, err = DocumentID(schema.Document{})
	assert.ErrorIs(t, err, ErrMissingID)
}
