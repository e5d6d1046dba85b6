package redis

import (
	"context"
	"os"
	"testing"

	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/store"
	"github.com/asaidimu/go-loom/core/store/storetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to the server named by LOOM_REDIS_URL, skipping
// the test when it is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("LOOM_REDIS_URL")
	if url == "" {
		t.Skip("LOOM_REDIS_URL not set")
	}
	client, err := NewClient(context.Background(), ClientConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// cleanupPrefix removes every key under prefix.
func cleanupPrefix(t *testing.T, client *Client, prefix string) {
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
}

func TestStoreContract(t *testing.T) {
	client := newTestClient(t)
	storetest.Run(t, func(t *testing.T) store.Database {
		prefix := "loomtest:" + uuid.NewString() + ":"
		cleanupPrefix(t, client, prefix)
		db, err := NewDriver(client, WithPrefix(prefix)).Open(context.Background(), "test")
		require.NoError(t, err)
		return db
	})
}

func TestCollection_Keys(t *testing.T) {
	d := NewDriver(nil, WithPrefix("p:"))
	db := &Database{name: "app", driver: d}
	c := db.Collection("cars").(*Collection)
	assert.Equal(t, keys{docs: "p:app:cars:docs", order: "p:app:cars:order", seq: "p:app:cars:seq"}, c.keys)

	require.NoError(t, db.Close())
	_, err := c.Find(context.Background(), nil, store.FindOptions{})
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestNewClient_Rejects(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(context.Background(), ClientConfig{URL: "://bad"})
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestEncodeAll(t *testing.T) {
	id := schema.NewID()
	entries, err := encodeAll([]schema.Document{{"_id": id, "n": 1}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id.String(), entries[0].id)
	assert.JSONEq(t, `{"_id":"`+id.String()+`","n":1}`, entries[0].raw)

	_, err = encodeAll([]schema.Document{{"n": 1}})
	assert.ErrorIs(t, err, store.ErrMissingID)
}
