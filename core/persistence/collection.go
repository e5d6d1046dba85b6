package persistence

import (
	"context"

	"github.com/asaidimu/go-loom/core/hooks"
	"github.com/asaidimu/go-loom/core/query"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/store"
	"go.uber.org/zap"
)

// Collection is a registered schema bound to its backing collection.
type Collection struct {
	dir       *Directory
	def       *schema.Definition
	hooks     *hooks.Registry
	validator *schema.Validator
	logger    *zap.Logger
}

var _ schema.Env = (*Collection)(nil)

func newCollection(dir *Directory, def *schema.Definition, registry *hooks.Registry) *Collection {
	c := &Collection{
		dir:    dir,
		def:    def,
		hooks:  registry,
		logger: dir.logger.With(zap.String("collection", def.Name)),
	}
	c.validator = schema.NewValidator(def, c)
	return c
}

// Name returns the schema name, which is also the collection name.
func (c *Collection) Name() string { return c.def.Name }

// DB returns the database the collection lives in.
func (c *Collection) DB() string {
	if c.def.DB != "" {
		return c.def.DB
	}
	return c.dir.database
}

// Definition returns the registered schema definition.
func (c *Collection) Definition() *schema.Definition { return c.def }

// Refs returns the reference paths of the schema.
func (c *Collection) Refs() []schema.RefPath {
	out := make([]schema.RefPath, len(c.def.Refs))
	copy(out, c.def.Refs)
	return out
}

// Hooks returns the collection's hook registry.
func (c *Collection) Hooks() *hooks.Registry { return c.hooks }

func (c *Collection) HooksAdd(phase hooks.Phase, name string, fn hooks.Func, priority int, description string) error {
	return c.hooks.Add(phase, name, fn, priority, description)
}

func (c *Collection) HooksGet(phase hooks.Phase, name string) (hooks.Entry, bool) {
	return c.hooks.Get(phase, name)
}

func (c *Collection) HooksList(phase hooks.Phase) ([]hooks.Entry, error) {
	return c.hooks.List(phase)
}

func (c *Collection) HooksDel(phase hooks.Phase, name string) error {
	return c.hooks.Delete(phase, name)
}

func (c *Collection) HooksClear(phase hooks.Phase) error {
	return c.hooks.Clear(phase)
}

func (c *Collection) HooksRun(ctx context.Context, phase hooks.Phase, param any) (hooks.Result, error) {
	return c.hooks.Run(ctx, phase, param)
}

// Validate checks doc against the schema without storing it. current is
// the id of the document being edited, or schema.Nil.
func (c *Collection) Validate(ctx context.Context, doc schema.Document, current schema.ID) (schema.Document, error) {
	return c.validator.Validate(ctx, doc, current)
}

func (c *Collection) executor(ctx context.Context) (*Executor, error) {
	return c.dir.executor(ctx, c.DB(), c.Name())
}

// Taken reports whether a document other than exclude holds value at path.
func (c *Collection) Taken(ctx context.Context, path string, value any, exclude schema.ID) (bool, error) {
	exec, err := c.executor(ctx)
	if err != nil {
		return false, err
	}
	find := map[string]any{path: value}
	if !exclude.IsNil() {
		find = map[string]any{"$and": []any{
			map[string]any{path: value},
			map[string]any{"_id": map[string]any{"$ne": exclude.String()}},
		}}
	}
	docs, err := exec.Find(ctx, find, store.FindOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// batch validates the documents of one add. A unique value is taken when
// the store holds it or an earlier document of the batch does.
type batch struct {
	*Collection
	validator *schema.Validator
	processor *query.DataProcessor
	accepted  []schema.Document
}

func (c *Collection) newBatch() *batch {
	b := &batch{Collection: c, processor: query.NewDataProcessor(c.logger)}
	b.validator = schema.NewValidator(c.def, b)
	return b
}

func (b *batch) validate(ctx context.Context, doc schema.Document) (schema.Document, error) {
	out, err := b.validator.Validate(ctx, doc, schema.Nil)
	if err != nil {
		return nil, err
	}
	b.accepted = append(b.accepted, out)
	return out, nil
}

func (b *batch) Taken(ctx context.Context, path string, value any, exclude schema.ID) (bool, error) {
	if len(b.accepted) > 0 {
		filter, err := query.ParseFilter(map[string]any{path: value})
		if err != nil {
			return false, err
		}
		for _, doc := range b.accepted {
			matched, err := b.processor.Match(ctx, filter, doc)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
	}
	return b.Collection.Taken(ctx, path, value, exclude)
}

// Target looks a reference target up by schema name.
func (c *Collection) Target(ctx context.Context, scheme string) (schema.Target, bool) {
	t, ok := c.dir.LookupSchema(scheme)
	if !ok {
		return nil, false
	}
	return target{t}, true
}

// target adapts a Collection to schema.Target.
type target struct {
	c *Collection
}

func (t target) Collection() string { return t.c.Name() }
func (t target) Database() string   { return t.c.DB() }

func (t target) Exists(ctx context.Context, id schema.ID) (bool, error) {
	doc, err := t.c.fetch(ctx, id)
	return doc != nil, err
}

// fetch loads one document by id, or nil when there is none.
func (c *Collection) fetch(ctx context.Context, id schema.ID) (schema.Document, error) {
	exec, err := c.executor(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := exec.Find(ctx, map[string]any{"_id": id.String()}, store.FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}
