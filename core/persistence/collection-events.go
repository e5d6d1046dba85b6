package persistence

import (
	"context"
)

// Add validates and inserts req.Docs. The batch is rejected as a whole on
// the first invalid document. Output holds the stored documents.
func (c *Collection) Add(ctx context.Context, req AddRequest) *Envelope {
	return c.withEventEmission("add", req, nil, func() *Envelope {
		return c.add(ctx, req)
	})
}

// Get reads documents, resolving references unless the query disables it.
func (c *Collection) Get(ctx context.Context, req GetRequest) *Envelope {
	return c.withEventEmission("get", req, req.Query, func() *Envelope {
		return c.get(ctx, req)
	})
}

// Edit updates documents. Output holds the edited documents as stored
// after the write.
func (c *Collection) Edit(ctx context.Context, req EditRequest) *Envelope {
	return c.withEventEmission("edit", req, req.Filter, func() *Envelope {
		return c.edit(ctx, req)
	})
}

// Del deletes documents. Output holds the deleted documents.
func (c *Collection) Del(ctx context.Context, req DelRequest) *Envelope {
	return c.withEventEmission("del", req, req.Filter, func() *Envelope {
		return c.del(ctx, req)
	})
}

// Erase deletes every document of the collection, references or not.
func (c *Collection) Erase(ctx context.Context) *Envelope {
	return c.withEventEmission("erase", nil, nil, func() *Envelope {
		return c.erase(ctx)
	})
}
