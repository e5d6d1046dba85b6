package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/asaidimu/go-loom/core/hooks"
	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/store"
	"go.uber.org/zap"
)

// rejected fails env with a validation error, or with a store error when
// the validator could not reach the store.
func (c *Collection) rejected(env *Envelope, err error) *Envelope {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		c.dir.metrics.IncrementValidationFailures(c.Name())
		return env.invalid(verr.Description, verr.Description)
	}
	return env.fail(err)
}

// parseFind parses a find document with its _id operands canonicalized.
func parseFind(env *Envelope, find map[string]any) (*query.QueryFilter, bool) {
	filter, err := query.ParseFilter(canonicalIDs(find))
	if err != nil {
		env.Error = err
		env.invalid("invalid filter", err.Error())
		return nil, false
	}
	return filter, true
}

// read runs get for find and returns its output. A failed read fails env.
func (c *Collection) read(ctx context.Context, env *Envelope, find map[string]any) ([]schema.Document, bool) {
	res := c.get(ctx, GetRequest{Query: &Query{Find: find}})
	if !res.OK {
		env.OK = false
		env.Error = res.Error
		env.ValidationMessages = append(env.ValidationMessages, res.ValidationMessages...)
		return nil, false
	}
	return res.Output, true
}

func (c *Collection) add(ctx context.Context, req AddRequest) *Envelope {
	env := newEnvelope(req)
	if len(req.Docs) == 0 {
		return env.invalid("invalid obj", "obj not docs")
	}
	pending := make([]schema.Document, len(req.Docs))
	for i, doc := range req.Docs {
		if doc == nil {
			return env.invalid("invalid docs", "docs not object")
		}
		pending[i] = doc.Clone()
	}

	r, ok := runBefore(ctx, c, hooks.BeforeAdd, env, &AddRequest{Docs: pending})
	if !ok {
		return env
	}
	if len(r.Docs) == 0 {
		return env.invalid("invalid obj", "obj not docs")
	}

	// Hooks see the documents as sent; what they return is what gets
	// validated and stored.
	b := c.newBatch()
	docs := make([]schema.Document, len(r.Docs))
	for i, doc := range r.Docs {
		if doc == nil {
			return env.invalid("invalid docs", "docs not object")
		}
		out, err := b.validate(ctx, doc)
		if err != nil {
			return c.rejected(env, err)
		}
		if _, ok := out["_id"]; !ok {
			out["_id"] = schema.NewID().String()
		}
		docs[i] = out
	}

	exec, err := c.executor(ctx)
	if err != nil {
		return env.fail(err)
	}
	if err := exec.Insert(ctx, docs); err != nil {
		return env.fail(err)
	}

	ids, err := store.IDsOf(docs)
	if err != nil {
		return env.fail(err)
	}
	out, ok := c.read(ctx, env, idFilter(ids))
	if !ok {
		return env
	}
	env.Output = out

	return c.runAfter(ctx, hooks.AfterAdd, env)
}

func (c *Collection) get(ctx context.Context, req GetRequest) *Envelope {
	env := newEnvelope(req)
	if req.Query == nil {
		return env.invalid("invalid obj", "obj not query")
	}
	if req.Query.Aggregate != nil && len(req.Query.Aggregate) == 0 {
		return env.invalid("invalid aggregate", "aggregate array not length")
	}

	q := *req.Query
	r, ok := runBefore(ctx, c, hooks.BeforeGet, env, &GetRequest{Query: &q})
	if !ok {
		return env
	}
	if r.Query == nil {
		return env.invalid("invalid obj", "obj not query")
	}
	q = *r.Query

	exec, err := c.executor(ctx)
	if err != nil {
		return env.fail(err)
	}

	var docs []schema.Document
	if q.Aggregate != nil {
		docs, err = exec.Aggregate(ctx, q.Aggregate)
		if err != nil {
			return env.fail(err)
		}
	} else {
		filter, ok := parseFind(env, q.Find)
		if !ok {
			return env
		}
		if q.Where != nil && !q.Where.IsEmpty() {
			if filter.IsEmpty() {
				filter = q.Where
			} else {
				both := query.CreateFilterGroup(query.LogicalOperatorAnd, *filter, *q.Where)
				filter = &both
			}
		}
		docs, err = exec.FindFilter(ctx, filter, store.FindOptions{Sort: q.Sort, Skip: q.Skip, Limit: q.Limit})
		if err != nil {
			return env.fail(err)
		}
		if !q.NoRefDocs {
			for _, doc := range docs {
				c.resolve(ctx, doc, q.RefIDOnly)
			}
		}
	}
	if docs != nil {
		env.Output = docs
	}

	return c.runAfter(ctx, hooks.AfterGet, env)
}

func (c *Collection) edit(ctx context.Context, req EditRequest) *Envelope {
	if req.Original {
		return c.editOriginal(ctx, req)
	}
	return c.editManaged(ctx, req)
}

// editOriginal applies a raw update to every matching document, without
// validation.
func (c *Collection) editOriginal(ctx context.Context, req EditRequest) *Envelope {
	env := newEnvelope(req)
	if req.Filter == nil {
		return env.invalid("invalid filter", "filter not found")
	}
	if req.Update == nil {
		return env.invalid("invalid update", "update not found")
	}

	rq := req
	r, ok := runBefore(ctx, c, hooks.BeforeEdit, env, &rq)
	if !ok {
		return env
	}
	filter, ok := parseFind(env, r.Filter)
	if !ok {
		return env
	}

	exec, err := c.executor(ctx)
	if err != nil {
		return env.fail(err)
	}
	matched, err := exec.FindFilter(ctx, filter, store.FindOptions{})
	if err != nil {
		return env.fail(err)
	}
	ids, err := store.IDsOf(matched)
	if err != nil {
		return env.fail(err)
	}

	if _, err := exec.Update(ctx, filter, r.Update, r.Upsert); err != nil {
		return env.fail(err)
	}

	if len(ids) > 0 {
		out, ok := c.read(ctx, env, idFilter(ids))
		if !ok {
			return env
		}
		env.Output = out
	}

	return c.runAfter(ctx, hooks.AfterEdit, env)
}

// editManaged validates and writes each document matched by the edit specs.
// A document that fails validation is reported and skipped.
func (c *Collection) editManaged(ctx context.Context, req EditRequest) *Envelope {
	env := newEnvelope(req)
	if len(req.Docs) == 0 {
		return env.invalid("invalid docs", "docs not found")
	}
	for i, spec := range req.Docs {
		suffix := fmt.Sprintf(" index %d", i)
		if spec.Filter == nil {
			env.invalid("invalid filter"+suffix, "not found filter in doc"+suffix)
			continue
		}
		if spec.Obj == nil && spec.Fields == nil {
			msg := "invalid not found obj and fields in doc" + suffix
			env.invalid(msg, msg)
		}
	}
	if !env.OK {
		return env
	}

	rq := req
	r, ok := runBefore(ctx, c, hooks.BeforeEdit, env, &rq)
	if !ok {
		return env
	}

	exec, err := c.executor(ctx)
	if err != nil {
		return env.fail(err)
	}

	var ids []string
	seen := make(map[string]bool)
	for i, spec := range r.Docs {
		if spec.Filter == nil {
			msg := fmt.Sprintf("not found filter in doc index %d", i)
			env.invalid(fmt.Sprintf("invalid filter index %d", i), msg)
			continue
		}
		filter, ok := parseFind(env, spec.Filter)
		if !ok {
			continue
		}
		docs, err := exec.FindFilter(ctx, filter, store.FindOptions{})
		if err != nil {
			return env.fail(err)
		}
		for _, doc := range docs {
			id, err := store.DocumentID(doc)
			if err != nil {
				return env.fail(err)
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
			if err := c.editOne(ctx, exec, doc, spec); err != nil {
				c.rejected(env, err)
			}
		}
	}

	if len(ids) > 0 {
		out, ok := c.read(ctx, env, idFilter(ids))
		if ok {
			env.Output = out
		}
	}

	return c.runAfter(ctx, hooks.AfterEdit, env)
}

// editOne validates the edited form of doc and writes it with $set. Obj
// replaces the set fields; Fields are merged onto the stored document.
func (c *Collection) editOne(ctx context.Context, exec *Executor, doc schema.Document, spec EditSpec) error {
	id, ok := doc.ID()
	if !ok {
		return store.ErrMissingID
	}

	var candidate schema.Document
	if spec.Obj != nil {
		candidate = schema.Document(spec.Obj)
	} else {
		candidate = doc.Clone()
		for k, v := range spec.Fields {
			candidate[k] = v
		}
	}

	validated, err := c.validator.Validate(ctx, candidate, id)
	if err != nil {
		return err
	}
	delete(validated, "_id")
	if len(validated) == 0 {
		return nil
	}

	_, err = exec.UpdateOne(ctx,
		map[string]any{"_id": id.String()},
		map[string]any{"$set": map[string]any(validated)},
	)
	return err
}

func (c *Collection) del(ctx context.Context, req DelRequest) *Envelope {
	env := newEnvelope(req)
	if req.Filter == nil {
		return env.invalid("invalid filter", "filter not found")
	}

	rq := req
	r, ok := runBefore(ctx, c, hooks.BeforeDel, env, &rq)
	if !ok {
		return env
	}
	if _, ok := parseFind(env, r.Filter); !ok {
		return env
	}

	found, ok := c.read(ctx, env, r.Filter)
	if !ok {
		return env
	}

	exec, err := c.executor(ctx)
	if err != nil {
		return env.fail(err)
	}

	if r.Original {
		filter, _ := parseFind(env, r.Filter)
		if _, err := exec.DeleteMany(ctx, filter); err != nil {
			return env.fail(err)
		}
		env.Output = found
		return c.runAfter(ctx, hooks.AfterDel, env)
	}

	survivors := make([]schema.Document, 0, len(found))
	for _, doc := range found {
		id, err := store.DocumentID(doc)
		if err != nil {
			return env.fail(err)
		}
		held, err := c.referenced(ctx, id)
		if err != nil {
			return env.fail(err)
		}
		if held {
			c.logger.Debug("Document kept, still referenced", zap.String("id", id))
			continue
		}
		survivors = append(survivors, doc)
	}

	if len(survivors) > 0 {
		ids, err := store.IDsOf(survivors)
		if err != nil {
			return env.fail(err)
		}
		filter, _ := parseFind(env, idFilter(ids))
		if _, err := exec.DeleteMany(ctx, filter); err != nil {
			return env.fail(err)
		}
	}
	env.Output = survivors

	return c.runAfter(ctx, hooks.AfterDel, env)
}

// referenced reports whether any registered schema holds a pointer to the
// document id of this collection.
func (c *Collection) referenced(ctx context.Context, id string) (bool, error) {
	for _, other := range c.dir.registered() {
		refs := other.def.RefsTo(c.Name())
		if len(refs) == 0 {
			continue
		}
		exec, err := other.executor(ctx)
		if err != nil {
			return false, err
		}
		for _, ref := range refs {
			docs, err := exec.Find(ctx, map[string]any{ref.Path + ".$id": id}, store.FindOptions{Limit: 1})
			if err != nil {
				return false, err
			}
			if len(docs) > 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Collection) erase(ctx context.Context) *Envelope {
	env := newEnvelope(nil)
	name := c.Name()
	if _, ok := runBefore(ctx, c, hooks.BeforeErase, env, &name); !ok {
		return env
	}

	exec, err := c.executor(ctx)
	if err != nil {
		return env.fail(err)
	}
	docs, err := exec.FindFilter(ctx, nil, store.FindOptions{})
	if err != nil {
		return env.fail(err)
	}
	if _, err := exec.DeleteMany(ctx, nil); err != nil {
		return env.fail(err)
	}
	if docs != nil {
		env.Output = docs
	}

	return c.runAfter(ctx, hooks.AfterErase, env)
}
