package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asaidimu/go-loom/core/hooks"
	"github.com/asaidimu/go-loom/core/schema"
	"go.uber.org/zap"
)

// ErrUnboundHook is returned when a schema declares a hook whose function
// was neither embedded in the descriptor nor supplied with WithHooks.
var ErrUnboundHook = errors.New("persistence: hook has no function")

// RegisterOption configures a single registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	hooks map[string]hooks.Func
}

// WithHooks binds hook functions by name to the hooks a schema declares.
// Descriptors read from YAML or JSON can only name their hooks; their
// functions are supplied here.
func WithHooks(fns map[string]hooks.Func) RegisterOption {
	return func(o *registerOptions) {
		if o.hooks == nil {
			o.hooks = make(map[string]hooks.Func, len(fns))
		}
		for name, fn := range fns {
			o.hooks[name] = fn
		}
	}
}

// RegisterSchema binds def to a collection. The declared hooks are added
// through the collection's hook registry. Registering a name again
// replaces the previous collection.
func (d *Directory) RegisterSchema(def *schema.Definition, opts ...RegisterOption) (*Collection, error) {
	if def == nil {
		return nil, errors.New("persistence: nil schema definition")
	}
	if def.Name == "" {
		return nil, fmt.Errorf("%w: name not found", schema.ErrInvalidDescriptor)
	}

	var options registerOptions
	for _, opt := range opts {
		opt(&options)
	}

	registry := hooks.NewRegistry(d.logger.With(zap.String("collection", def.Name)))
	for phaseName, specs := range def.Hooks {
		phase, ok := hooks.ParsePhase(phaseName)
		if !ok {
			return nil, fmt.Errorf("schema %s: %w: %q", def.Name, hooks.ErrUnknownPhase, phaseName)
		}
		for _, spec := range specs {
			fn, err := bindHook(spec, options.hooks)
			if err != nil {
				return nil, fmt.Errorf("schema %s, %s hook %q: %w", def.Name, phaseName, spec.Name, err)
			}
			if err := registry.Add(phase, spec.Name, fn, spec.Priority, spec.Description); err != nil {
				return nil, fmt.Errorf("schema %s: %w", def.Name, err)
			}
		}
	}

	c := newCollection(d, def, registry)

	d.mu.Lock()
	_, replaced := d.collections[def.Name]
	d.collections[def.Name] = c
	d.mu.Unlock()

	d.logger.Info("Schema registered",
		zap.String("collection", def.Name),
		zap.String("database", c.DB()),
		zap.Int("refs", len(def.Refs)),
		zap.Bool("replaced", replaced),
	)
	d.emit(createEvent(CollectionRegister, "register", def.Name, def, nil, nil, nil, nil, time.Time{}))
	return c, nil
}

func bindHook(spec schema.HookSpec, bound map[string]hooks.Func) (hooks.Func, error) {
	switch fn := spec.Func.(type) {
	case hooks.Func:
		if fn != nil {
			return fn, nil
		}
	case func(context.Context, any) hooks.Outcome:
		if fn != nil {
			return fn, nil
		}
	}
	if fn, ok := bound[spec.Name]; ok && fn != nil {
		return fn, nil
	}
	return nil, ErrUnboundHook
}

// RegisterDescriptor parses a descriptor map and registers it.
func (d *Directory) RegisterDescriptor(descriptor map[string]any, opts ...RegisterOption) (*Collection, error) {
	def, err := schema.FromMap(descriptor)
	if err != nil {
		return nil, err
	}
	return d.RegisterSchema(def, opts...)
}

// LoadDir registers every descriptor file under dir. All files are parsed
// before any is registered, so a broken file registers nothing.
func (d *Directory) LoadDir(dir string, opts ...RegisterOption) ([]*Collection, error) {
	defs, err := schema.ParseDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Collection, 0, len(defs))
	for _, def := range defs {
		c, err := d.RegisterSchema(def, opts...)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

// RemoveSchema unregisters a schema. Its documents stay in the store.
func (d *Directory) RemoveSchema(name string) bool {
	d.mu.Lock()
	_, ok := d.collections[name]
	delete(d.collections, name)
	d.mu.Unlock()

	if ok {
		d.logger.Info("Schema removed", zap.String("collection", name))
		d.emit(createEvent(CollectionRemove, "remove", name, nil, nil, nil, nil, nil, time.Time{}))
	}
	return ok
}
