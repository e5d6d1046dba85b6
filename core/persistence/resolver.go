package persistence

import (
	"context"
	"strings"

	"github.com/asaidimu/go-loom/core/schema"
	"go.uber.org/zap"
)

// resolver replaces stored pointers with the documents they point at.
// A lookup that fails or finds nothing leaves the pointer in place.
type resolver struct {
	dir    *Directory
	logger *zap.Logger
	// visited holds the collection/id keys of the documents on the current
	// resolution path, the root included.
	visited map[string]bool
}

// resolve walks refs through doc in place. With idOnly set each pointer
// becomes its id string.
func (c *Collection) resolve(ctx context.Context, doc schema.Document, idOnly bool) {
	r := &resolver{dir: c.dir, logger: c.logger, visited: make(map[string]bool)}
	if id, ok := doc["_id"].(string); ok {
		r.visited[visitKey(c.Name(), id)] = true
	}
	r.document(ctx, doc, c.def.Refs, idOnly)
}

func visitKey(collection, id string) string {
	return collection + "/" + id
}

func (r *resolver) document(ctx context.Context, doc map[string]any, refs []schema.RefPath, idOnly bool) {
	for _, ref := range refs {
		r.walk(ctx, doc, strings.Split(ref.Path, "."), ref.Scheme, idOnly)
	}
}

func (r *resolver) walk(ctx context.Context, node map[string]any, segments []string, scheme string, idOnly bool) {
	key := segments[0]
	val, ok := node[key]
	if !ok || val == nil {
		return
	}

	if len(segments) > 1 {
		switch v := val.(type) {
		case map[string]any:
			r.walk(ctx, v, segments[1:], scheme, idOnly)
		case schema.Document:
			r.walk(ctx, v, segments[1:], scheme, idOnly)
		case []any:
			for _, elem := range v {
				if m, isMap := elem.(map[string]any); isMap {
					r.walk(ctx, m, segments[1:], scheme, idOnly)
				}
			}
		}
		return
	}

	switch v := val.(type) {
	case map[string]any:
		node[key] = r.replace(ctx, v, scheme, idOnly)
	case []any:
		for i, elem := range v {
			if m, isMap := elem.(map[string]any); isMap {
				v[i] = r.replace(ctx, m, scheme, idOnly)
			}
		}
	}
}

// replace returns what a pointer resolves to: the id string, the fetched
// document, or the pointer itself.
func (r *resolver) replace(ctx context.Context, ptr map[string]any, scheme string, idOnly bool) any {
	ref, ok := schema.RefFromValue(ptr)
	if !ok {
		return ptr
	}
	id := ref.ID.String()

	target, ok := r.dir.LookupSchema(scheme)
	if !ok {
		r.logger.Warn("Reference target schema not registered",
			zap.String("scheme", scheme),
			zap.String("id", id),
		)
		return ptr
	}
	if idOnly {
		return id
	}

	key := visitKey(target.Name(), id)
	if r.visited[key] {
		return id
	}

	doc, err := target.fetch(ctx, ref.ID)
	if err != nil {
		r.logger.Warn("Reference lookup failed",
			zap.String("scheme", scheme),
			zap.String("id", id),
			zap.Error(err),
		)
		return ptr
	}
	if doc == nil {
		return ptr
	}

	r.visited[key] = true
	r.document(ctx, doc, target.def.Refs, false)
	delete(r.visited, key)
	return map[string]any(doc)
}
