package steps

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aescanero/stepflow/pkg/definition"
	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
	"github.com/aescanero/stepflow/pkg/step"
)

// ErrUnknownKind is returned when a definition names an unregistered kind.
var ErrUnknownKind = errors.New("unknown step kind")

// Env carries the collaborators available to step factories.
type Env struct {
	// Executor runs step bodies. Nil means one goroutine per step.
	Executor ports.Executor

	LLM              ports.LLMClient
	DefaultModel     string
	DefaultMaxTokens int
}

// Factory turns a definition into the work a step performs. Argument errors
// are reported here, before the batch starts.
type Factory func(def definition.Step, env Env) (step.Func, error)

// Registry maps kind names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(KindValue, Value)
	r.MustRegister(KindFail, Fail)
	r.MustRegister(KindCollect, Collect)
	r.MustRegister(KindTemplate, Template)
	r.MustRegister(KindLLM, LLM)
	return r
}

// Register adds a factory for kind.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return fmt.Errorf("kind name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("step kind %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(kind string, f Factory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Build creates a step from its definition.
func (r *Registry) Build(def definition.Step, env Env) (ports.Step, error) {
	r.mu.RLock()
	f, ok := r.factories[def.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, def.Kind)
	}

	id, err := domain.NewStepID(def.ID)
	if err != nil {
		return nil, err
	}

	fn, err := f(def, env)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", id, err)
	}

	opts := []step.Option{step.WithExecutor(env.Executor)}
	for _, dep := range def.After {
		depID, err := domain.NewStepID(dep)
		if err != nil {
			return nil, fmt.Errorf("step %s: after: %w", id, err)
		}
		opts = append(opts, step.After(depID))
	}
	for _, dep := range def.Needs {
		depID, err := domain.NewStepID(dep)
		if err != nil {
			return nil, fmt.Errorf("step %s: needs: %w", id, err)
		}
		opts = append(opts, step.Needs(depID))
	}
	return step.New(id, fn, opts...), nil
}

// BuildBatch creates fresh steps for every definition in b.
func (r *Registry) BuildBatch(b *definition.Batch, env Env) ([]ports.Step, error) {
	out := make([]ports.Step, 0, len(b.Steps))
	for _, def := range b.Steps {
		s, err := r.Build(def, env)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
