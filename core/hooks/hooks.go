// Package hooks holds the ordered callback lists a collection runs around each
// of its operations. Every phase is a bucket of named entries kept sorted by
// ascending priority; running a phase folds the parameter through the entries
// until one of them aborts.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Phase names a hook bucket.
type Phase string

const (
	BeforeAdd   Phase = "beforeAdd"
	AfterAdd    Phase = "afterAdd"
	BeforeGet   Phase = "beforeGet"
	AfterGet    Phase = "afterGet"
	BeforeEdit  Phase = "beforeEdit"
	AfterEdit   Phase = "afterEdit"
	BeforeDel   Phase = "beforeDel"
	AfterDel    Phase = "afterDel"
	BeforeErase Phase = "beforeErase"
	AfterErase  Phase = "afterErase"
)

var phases = []Phase{
	BeforeAdd, AfterAdd,
	BeforeGet, AfterGet,
	BeforeEdit, AfterEdit,
	BeforeDel, AfterDel,
	BeforeErase, AfterErase,
}

// Phases returns every recognized phase in a fixed order.
func Phases() []Phase {
	out := make([]Phase, len(phases))
	copy(out, phases)
	return out
}

// ParsePhase resolves a phase name.
func ParsePhase(name string) (Phase, bool) {
	for _, p := range phases {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

// DefaultPriority is used when a hook is declared without one.
const DefaultPriority = 10

var (
	ErrUnknownPhase = errors.New("hooks: unknown phase")
	ErrEmptyName    = errors.New("hooks: empty hook name")
	ErrNilHook      = errors.New("hooks: nil hook function")
)

// Outcome is what a hook returns: either continue with a (possibly replaced)
// parameter, or abort with a reason.
type Outcome struct {
	param   any
	aborted bool
	reason  string
}

// Continue passes param on to the next hook.
func Continue(param any) Outcome {
	return Outcome{param: param}
}

// Abort stops the phase. The operation around it fails with reason.
func Abort(reason string) Outcome {
	return Outcome{aborted: true, reason: reason}
}

func (o Outcome) Param() any     { return o.param }
func (o Outcome) Aborted() bool  { return o.aborted }
func (o Outcome) Reason() string { return o.reason }

// Func is a hook callback.
type Func func(ctx context.Context, param any) Outcome

// Entry is a registered hook.
type Entry struct {
	Name        string `json:"name"`
	Func        Func   `json:"-"`
	Priority    int    `json:"priority"`
	Description string `json:"description,omitempty"`
}

// Result is the outcome of running a phase. Param is the value after the last
// hook that continued. Hook names the hook that aborted, if any.
type Result struct {
	Param   any
	Aborted bool
	Reason  string
	Hook    string
	Last    Outcome
}

// Registry stores the hook buckets of one collection.
type Registry struct {
	mu      sync.RWMutex
	buckets map[Phase][]Entry
	logger  *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	buckets := make(map[Phase][]Entry, len(phases))
	for _, p := range phases {
		buckets[p] = nil
	}
	return &Registry{buckets: buckets, logger: logger}
}

// Add registers fn under name in the phase bucket. An existing entry with the
// same name is replaced in place, then the bucket is re-sorted by priority.
func (r *Registry) Add(phase Phase, name string, fn Func, priority int, description string) error {
	if _, ok := ParsePhase(string(phase)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	if name == "" {
		return ErrEmptyName
	}
	if fn == nil {
		return ErrNilHook
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[phase]
	replaced := false
	for i := range bucket {
		if bucket[i].Name == name {
			bucket[i].Func = fn
			bucket[i].Priority = priority
			bucket[i].Description = description
			replaced = true
			break
		}
	}
	if !replaced {
		bucket = append(bucket, Entry{Name: name, Func: fn, Priority: priority, Description: description})
	}
	sort.SliceStable(bucket, func(i, j int) bool {
		return bucket[i].Priority < bucket[j].Priority
	})
	r.buckets[phase] = bucket

	r.logger.Debug("Hook registered",
		zap.String("phase", string(phase)),
		zap.String("name", name),
		zap.Int("priority", priority),
		zap.Bool("replaced", replaced),
	)
	return nil
}

// Get returns a single entry by name.
func (r *Registry) Get(phase Phase, name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.buckets[phase] {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// List returns a copy of the ordered bucket.
func (r *Registry) List(phase Phase) ([]Entry, error) {
	if _, ok := ParsePhase(string(phase)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.buckets[phase]))
	copy(out, r.buckets[phase])
	return out, nil
}

// Delete removes the named entry. An empty name clears the whole bucket.
// Deleting a name that is not registered is not an error.
func (r *Registry) Delete(phase Phase, name string) error {
	if _, ok := ParsePhase(string(phase)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		r.buckets[phase] = nil
		return nil
	}

	bucket := r.buckets[phase]
	for i, e := range bucket {
		if e.Name == name {
			r.buckets[phase] = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	return nil
}

// Clear removes every entry of a phase.
func (r *Registry) Clear(phase Phase) error {
	return r.Delete(phase, "")
}

// Run folds param through the phase's hooks in priority order. The fold stops
// at the first hook that aborts. Hooks run outside the registry lock, so a
// hook may itself add or remove hooks; the change applies to the next run.
func (r *Registry) Run(ctx context.Context, phase Phase, param any) (Result, error) {
	entries, err := r.List(phase)
	if err != nil {
		return Result{}, err
	}

	result := Result{Param: param, Last: Continue(param)}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		out := e.Func(ctx, result.Param)
		result.Last = out
		if out.Aborted() {
			result.Aborted = true
			result.Reason = out.Reason()
			result.Hook = e.Name
			r.logger.Debug("Hook aborted phase",
				zap.String("phase", string(phase)),
				zap.String("hook", e.Name),
				zap.String("reason", out.Reason()),
			)
			break
		}
		result.Param = out.Param()
	}
	return result, nil
}

// Snapshot returns a copy of every bucket.
func (r *Registry) Snapshot() map[Phase][]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Phase][]Entry, len(r.buckets))
	for p, bucket := range r.buckets {
		cp := make([]Entry, len(bucket))
		copy(cp, bucket)
		out[p] = cp
	}
	return out
}
